package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSpec = `
operations:
  - name: kafka->kafka
    type: Stream
    reader:
      type: topic-consume
      record_type: Value
      brokers: localhost:9092
      group_id: group1
      topics: [topic1]
    writer:
      type: topic-produce
      record_type: Value
      brokers: localhost:9092
      topic: topic2
  - name: api->multi
    type: IntervalFanout
    interval_secs: 5
    reader:
      type: api
      record_type: Value
      endpoint: http://localhost:8000
    writers:
      - type: topic-produce
        record_type: Value
        brokers: localhost:9092
        topic: topic3
      - type: kafka
        record_type: Value
        brokers: localhost:9092
        topic: topic4
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeSpec(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidateAcceptsSpec(t *testing.T) {
	path := writeSpec(t, "courier.yaml", validSpec)

	out, err := execute(t, "validate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 operation(s) OK")
	assert.Contains(t, out, "kafka->kafka [Stream] topic-consume -> 1 writer(s)")
	assert.Contains(t, out, "api->multi [IntervalFanout] api -> 2 writer(s) every 5s")
}

func TestValidateRejectsMissingInterval(t *testing.T) {
	path := writeSpec(t, "courier.toml", `
[[operations]]
name = "poll"
type = "Interval"

[operations.reader]
type = "api"
record_type = "Value"
endpoint = "http://localhost:8000"

[operations.writer]
type = "topic-produce"
record_type = "Value"
brokers = "localhost:9092"
topic = "out"
`)

	_, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `operation "poll" (#0): interval_secs is required for Interval`)
}

func TestListShowsBuiltins(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "api (one-shot)")
	assert.Contains(t, out, "topic-consume (continuous) [aliases: kafka]")
	assert.Contains(t, out, "topic-produce [aliases: kafka]")
	assert.Contains(t, out, "json")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Courier v"+version)
}
