package courier_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/gbPagano/courier/internal/compiler"
	"github.com/gbPagano/courier/pkg/config"
	"github.com/gbPagano/courier/pkg/connector/core"
	destkafka "github.com/gbPagano/courier/pkg/connector/destinations/kafka"
	"github.com/gbPagano/courier/pkg/connector/registry"
	"github.com/gbPagano/courier/pkg/connector/sources/api"
	"github.com/gbPagano/courier/pkg/courier"
	"github.com/gbPagano/courier/pkg/record"
	"github.com/gbPagano/courier/pkg/testutil"
)

type PipelineSuite struct {
	testutil.IntegrationTestSuite
}

func TestPipelineSuite(t *testing.T) {
	testutil.IntegrationTest(t)
	suite.Run(t, new(PipelineSuite))
}

// connectors returns a registry with the real api reader and a topic-produce
// writer backed by mock producers that report each delivered topic.
func (s *PipelineSuite) connectors(delivered chan<- string) *registry.Registry {
	reg := registry.NewRegistry()

	apiFactory, err := registry.GetRegistry().Source(api.Tag)
	s.Require().NoError(err)
	s.Require().NoError(reg.RegisterSource(api.Tag, apiFactory))

	s.Require().NoError(reg.RegisterDestination(destkafka.Tag, registry.DestinationFactory{
		Keyed: true,
		New: func(_ context.Context, spec *config.WriterSpec, rt *record.Type) (core.Writer[any], error) {
			producer := mocks.NewSyncProducer(s.T(), nil)
			producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
				key, _ := m.Key.Encode()
				value, _ := m.Value.Encode()
				if string(key) != record.TypeJSON || !strings.Contains(string(value), `"price":42`) {
					return fmt.Errorf("unexpected message %s=%s", key, value)
				}
				delivered <- m.Topic
				return nil
			})
			w := destkafka.NewWithProducer[any](producer, spec.Topic, rt.Codec(), zap.NewNop())
			return core.EraseWriter[record.Message[any]](w), nil
		},
	}))
	return reg
}

func (s *PipelineSuite) TestAPIFanoutToTopics() {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price": 42}`))
	}))
	defer server.Close()

	path := s.CreateTempFile("fanout.yaml", []byte(fmt.Sprintf(`
operations:
  - name: api->multi
    type: IntervalFanout
    interval_secs: 5
    reader:
      type: api
      record_type: Value
      endpoint: %s
    writers:
      - type: topic-produce
        record_type: Value
        brokers: localhost:9092
        topic: topic3
      - type: topic-produce
        record_type: Value
        brokers: localhost:9092
        topic: topic4
`, server.URL)))
	spec, err := config.Load(path)
	s.Require().NoError(err)

	delivered := make(chan string, 2)
	ops, err := compiler.New(s.connectors(delivered), record.NewRegistry()).
		WithLogger(zap.NewNop()).
		Compile(s.Context(), spec)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.Context())
	defer cancel()
	var topics []string
	go func() {
		for len(topics) < 2 {
			topics = append(topics, <-delivered)
		}
		cancel()
	}()

	c := courier.New(ops).WithLogger(zap.NewNop())
	s.Require().NoError(c.Run(ctx))
	s.Require().NoError(c.Close())

	s.ElementsMatch([]string{"topic3", "topic4"}, topics)
	s.Equal(int32(1), hits.Load())
}

func (s *PipelineSuite) TestInvalidSpecBuildsNothing() {
	path := s.CreateTempFile("invalid.toml", []byte(`
[[operations]]
name = "ok"
type = "Interval"
interval_secs = 1

[operations.reader]
type = "api"
record_type = "Value"
endpoint = "http://localhost:8000"

[operations.writer]
type = "topic-produce"
record_type = "Value"
brokers = "localhost:9092"
topic = "out"

[[operations]]
name = "mismatch"
type = "Interval"
interval_secs = 1

[operations.reader]
type = "api"
record_type = "Value"
endpoint = "http://localhost:8000"

[operations.writer]
type = "topic-produce"
record_type = "bytes"
brokers = "localhost:9092"
topic = "out"
`))
	spec, err := config.Load(path)
	s.Require().NoError(err)

	ops, err := compiler.New(s.connectors(make(chan string, 1)), record.NewRegistry()).
		WithLogger(zap.NewNop()).
		Compile(s.Context(), spec)
	s.Require().Error(err)
	s.Nil(ops)
	s.Contains(err.Error(), `operation "mismatch" (#1)`)
	s.Contains(err.Error(), "no conversion from json to Message[bytes]")
}
