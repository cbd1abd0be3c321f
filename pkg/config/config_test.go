package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlSpec = `
[[operations]]
name = "kafka->kafka"
type = "Stream"

[operations.reader]
type = "kafka"
record_type = "json"
brokers = "localhost:9092, localhost:9093"
group_id = "user-events-consumer"
topics = ["topic1"]

[operations.writer]
type = "kafka"
record_type = "json"
brokers = ["localhost:9092"]
topic = "topic2"

[[operations]]
name = "api->kafka"
type = "Interval"
interval_secs = 3

[operations.reader]
type = "api"
record_type = "json"
url = "http://192.168.47.204:8000"

[operations.writer]
type = "kafka"
record_type = "json"
brokers = "localhost:9092"
topic = "topic1"
`

func TestParseTOML(t *testing.T) {
	spec, err := Parse([]byte(tomlSpec), FormatTOML)
	require.NoError(t, err)
	require.Len(t, spec.Operations, 2)

	stream := spec.Operations[0]
	assert.Equal(t, StrategyStream, stream.Type)
	assert.Equal(t, BrokerList{"localhost:9092", "localhost:9093"}, stream.Reader.Brokers)
	assert.Equal(t, []string{"topic1"}, stream.Reader.Topics)
	require.NotNil(t, stream.Writer)
	assert.Equal(t, BrokerList{"localhost:9092"}, stream.Writer.Brokers)
	_, hasInterval := stream.Interval()
	assert.False(t, hasInterval)
	assert.Equal(t, EndPolicyStop, stream.EndPolicy())

	interval := spec.Operations[1]
	assert.Equal(t, "http://192.168.47.204:8000", interval.Reader.Target())
	require.NotNil(t, interval.IntervalSecs)
	assert.Equal(t, uint64(3), *interval.IntervalSecs)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte(`
operations:
  - name: x
    type: Stream
    reader: {type: api, record_type: json, endpoint: "http://h"}
    intervall_secs: 3
`), FormatYAML)
	require.Error(t, err)

	_, err = Parse([]byte(tomlSpec+"\nretries = 3\n"), FormatTOML)
	require.Error(t, err)
}

func TestParseRejectsNegativeInterval(t *testing.T) {
	_, err := Parse([]byte(`
operations:
  - name: x
    type: Interval
    interval_secs: -1
    reader: {type: api, record_type: json, endpoint: "http://h"}
`), FormatYAML)
	require.Error(t, err)
}

func TestIntervalSaturatesInsteadOfWrapping(t *testing.T) {
	spec, err := Parse([]byte(`
operations:
  - name: x
    type: Interval
    interval_secs: 18446744074
    reader: {type: api, endpoint: "http://h"}
`), FormatYAML)
	require.NoError(t, err)

	period, ok := spec.Operations[0].Interval()
	assert.True(t, ok)
	assert.Equal(t, time.Duration(1<<63-1), period)

	limit := MaxIntervalSecs
	op := OperationSpec{IntervalSecs: &limit}
	period, _ = op.Interval()
	assert.Equal(t, time.Duration(MaxIntervalSecs)*time.Second, period)
	assert.Greater(t, period, time.Duration(0))
}

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("COURIER_TEST_BROKER", "kafka.internal:9092")

	path := filepath.Join(t.TempDir(), "courier.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
operations:
  - name: env
    type: Stream
    reader:
      type: topic-consume
      record_type: json
      brokers: ${COURIER_TEST_BROKER}
      group_id: g
      topics: [a]
    writer: {type: topic-produce, record_type: json, brokers: "${COURIER_TEST_BROKER}", topic: b}
`), 0o600))

	spec, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BrokerList{"kafka.internal:9092"}, spec.Operations[0].Reader.Brokers)
	assert.Equal(t, "kafka.internal:9092", spec.Operations[0].Writer.Brokers.String())
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	_, err := Load("courier.ini")
	require.Error(t, err)
}

func TestSubstituteEnvVarsMissing(t *testing.T) {
	assert.Equal(t, "a--b", substituteEnvVars("a-${COURIER_TEST_UNSET_VAR}-b"))
	assert.Equal(t, "unterminated ${X", substituteEnvVars("unterminated ${X"))
}

func TestSpecValidate(t *testing.T) {
	var empty Spec
	require.Error(t, empty.Validate())

	spec := Spec{Operations: []OperationSpec{{Name: "x", Type: StrategyStream}}}
	require.Error(t, spec.Validate())

	spec.Operations[0].Reader.Type = "api"
	require.NoError(t, spec.Validate())
}

func TestLoadSettingsFromEnv(t *testing.T) {
	t.Setenv("COURIER_LOG_LEVEL", "debug")
	t.Setenv("COURIER_METRICS_ADDRESS", ":9100")

	s, err := LoadSettings(NewViper())
	require.NoError(t, err)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, ":9100", s.Metrics.Address)
	assert.Equal(t, "/metrics", s.Metrics.Path)
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	s.Tracing.SampleRate = 2
	require.Error(t, s.Validate())

	s = DefaultSettings()
	s.Log.Encoding = "xml"
	require.Error(t, s.Validate())
}
