package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/gbPagano/courier/pkg/config"
	"github.com/gbPagano/courier/pkg/connector/registry"
	"github.com/gbPagano/courier/pkg/errors"
	"github.com/gbPagano/courier/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeSession implements sarama.ConsumerGroupSession
type fakeSession struct{ ctx context.Context }

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string { return "member" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) MarkMessage(*sarama.ConsumerMessage, string) {}
func (s *fakeSession) Context() context.Context { return s.ctx }

// fakeClaim implements sarama.ConsumerGroupClaim
type fakeClaim struct{ messages chan *sarama.ConsumerMessage }

func (c *fakeClaim) Topic() string { return "topic1" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

// fakeGroup implements sarama.ConsumerGroup. Each Consume call serves one
// batch of messages; once the batches run out it reports the group closed.
type fakeGroup struct {
	mu        sync.Mutex
	batches   [][]*sarama.ConsumerMessage
	failFirst error
	rounds    int
	errs      chan error
	closeOnce sync.Once
}

func newFakeGroup(batches ...[]*sarama.ConsumerMessage) *fakeGroup {
	return &fakeGroup{batches: batches, errs: make(chan error)}
}

func (g *fakeGroup) Consume(ctx context.Context, topics []string, h sarama.ConsumerGroupHandler) error {
	g.mu.Lock()
	g.rounds++
	if g.failFirst != nil && g.rounds == 1 {
		g.mu.Unlock()
		return g.failFirst
	}
	if len(g.batches) == 0 {
		g.mu.Unlock()
		return sarama.ErrClosedConsumerGroup
	}
	batch := g.batches[0]
	g.batches = g.batches[1:]
	g.mu.Unlock()

	session := &fakeSession{ctx: ctx}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(batch))}
	for _, m := range batch {
		claim.messages <- m
	}
	close(claim.messages)

	if err := h.Setup(session); err != nil {
		return err
	}
	if err := h.ConsumeClaim(session, claim); err != nil {
		return err
	}
	return h.Cleanup(session)
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }
func (g *fakeGroup) Close() error {
	g.closeOnce.Do(func() { close(g.errs) })
	return nil
}
func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

func msg(offset int64, key, value []byte) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "topic1", Offset: offset, Key: key, Value: value}
}

func collect[T any](t *testing.T, ch <-chan T) []T {
	t.Helper()
	var out []T
	timeout := time.After(5 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		case <-timeout:
			t.Fatal("stream did not end")
			return out
		}
	}
}

func TestDecodeMessage(t *testing.T) {
	codec := record.JSONCodec[any]{}

	m, defaulted, err := decodeMessage(msg(1, []byte(" k1 "), []byte(`{"a":1}`)), codec, "json")
	require.NoError(t, err)
	assert.False(t, defaulted)
	assert.Equal(t, "k1", m.Key)
	assert.Equal(t, map[string]any{"a": json.Number("1")}, m.Value)

	m, defaulted, err = decodeMessage(msg(2, nil, []byte(`1`)), codec, "json")
	require.NoError(t, err)
	assert.True(t, defaulted)
	assert.Equal(t, "json", m.Key)

	_, _, err = decodeMessage(msg(3, []byte{0xff}, []byte(`1`)), codec, "json")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	_, _, err = decodeMessage(msg(4, []byte("k"), nil), codec, "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no payload")

	_, _, err = decodeMessage(msg(5, []byte("k"), []byte(`{`)), codec, "json")
	assert.Error(t, err)
}

func TestDecodeMessageCopiesHeaders(t *testing.T) {
	m := msg(1, []byte("k"), []byte("body"))
	m.Headers = []*sarama.RecordHeader{{Key: []byte("trace"), Value: []byte("abc")}, nil}

	out, _, err := decodeMessage(m, record.TextCodec{}, "text")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"trace": "abc"}, out.Headers)
	assert.Equal(t, "body", out.Value)
}

func TestStreamSkipsBadMessagesAndKeepsOrder(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	group := newFakeGroup(
		[]*sarama.ConsumerMessage{
			msg(0, []byte("a"), []byte(`1`)),
			msg(1, []byte{0xff}, []byte(`2`)),
			msg(2, []byte("c"), nil),
			msg(3, []byte("d"), []byte(`{bad`)),
		},
		[]*sarama.ConsumerMessage{
			msg(4, nil, []byte(`5`)),
			msg(5, []byte("f"), []byte(`6`)),
		},
	)

	r := NewFromGroup[any](group, Config{Topics: []string{"topic1"}}, record.JSONCodec[any]{}, "json", zap.New(core))
	defer r.Close()

	got := collect(t, r.Stream(context.Background()))
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Key)
	assert.Equal(t, json.Number("1"), got[0].Value)
	assert.Equal(t, "json", got[1].Key)
	assert.Equal(t, json.Number("5"), got[1].Value)
	assert.Equal(t, "f", got[2].Key)

	assert.Equal(t, 3, logs.FilterMessage("skipping message").Len())
	assert.Equal(t, 1, logs.FilterMessage("message has no key, using default key").Len())
}

func TestStreamRetriesAfterConsumeError(t *testing.T) {
	group := newFakeGroup([]*sarama.ConsumerMessage{msg(0, []byte("a"), []byte(`"x"`))})
	group.failFirst = sarama.ErrOutOfBrokers

	cfg := Config{Topics: []string{"topic1"}, RetryBackoff: time.Millisecond}
	r := NewFromGroup[any](group, cfg, record.JSONCodec[any]{}, "json", zap.NewNop())
	defer r.Close()

	got := collect(t, r.Stream(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].Value)
}

func TestStreamIsNotRestartable(t *testing.T) {
	group := newFakeGroup()
	r := NewFromGroup[any](group, Config{Topics: []string{"topic1"}}, record.JSONCodec[any]{}, "json", zap.NewNop())
	defer r.Close()

	_ = collect(t, r.Stream(context.Background()))
	assert.Empty(t, collect(t, r.Stream(context.Background())))
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	group := newFakeGroup([]*sarama.ConsumerMessage{msg(0, []byte("a"), []byte(`1`)), msg(1, []byte("b"), []byte(`2`))})
	r := NewFromGroup[any](group, Config{Topics: []string{"topic1"}}, record.JSONCodec[any]{}, "json", zap.NewNop())
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := r.Stream(ctx)
	first := <-ch
	assert.Equal(t, "a", first.Key)
	cancel()

	// Whatever was in flight, the channel must close.
	_ = collect(t, ch)
}

func TestConfigValidate(t *testing.T) {
	valid := Config{Brokers: []string{"localhost:9092"}, GroupID: "g", Topics: []string{"t"}}
	assert.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*Config){
		"no brokers":  func(c *Config) { c.Brokers = nil },
		"no group":    func(c *Config) { c.GroupID = "" },
		"no topics":   func(c *Config) { c.Topics = nil },
		"blank topic": func(c *Config) { c.Topics = []string{" "} },
		"bad reset":   func(c *Config) { c.OffsetReset = "middle" },
	} {
		c := valid
		mutate(&c)
		assert.Error(t, c.Validate(), name)
	}
}

func TestBuildSaramaConfig(t *testing.T) {
	cfg := buildSaramaConfig(withDefaults(Config{OffsetReset: "earliest"}))
	assert.Equal(t, sarama.OffsetOldest, cfg.Consumer.Offsets.Initial)
	assert.False(t, cfg.Consumer.Offsets.AutoCommit.Enable)
	assert.Equal(t, 6*time.Second, cfg.Consumer.Group.Session.Timeout)
	require.Len(t, cfg.Consumer.Group.Rebalance.GroupStrategies, 1)
	assert.Equal(t, sarama.RoundRobinBalanceStrategyName, cfg.Consumer.Group.Rebalance.GroupStrategies[0].Name())

	cfg = buildSaramaConfig(withDefaults(Config{}))
	assert.Equal(t, sarama.OffsetNewest, cfg.Consumer.Offsets.Initial)
}

func TestRegisteredFactory(t *testing.T) {
	f, err := registry.GetRegistry().Source(Alias)
	require.NoError(t, err)
	assert.Equal(t, registry.Continuous, f.Capability())
	assert.True(t, f.Keyed)

	assert.NoError(t, f.Validate(&config.ReaderSpec{
		Brokers: config.BrokerList{"localhost:9092"},
		GroupID: "group1",
		Topics:  []string{"topic1"},
	}))
	assert.Error(t, f.Validate(&config.ReaderSpec{Brokers: config.BrokerList{"localhost:9092"}}))
}
