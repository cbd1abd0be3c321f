// Package kafka implements the continuous topic-consume source on a sarama
// consumer group. Offsets are never committed: on restart the group resumes
// from the configured reset policy.
package kafka

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/IBM/sarama"
	"github.com/gbPagano/courier/pkg/config"
	"github.com/gbPagano/courier/pkg/connector/core"
	"github.com/gbPagano/courier/pkg/connector/registry"
	"github.com/gbPagano/courier/pkg/errors"
	"github.com/gbPagano/courier/pkg/logger"
	"github.com/gbPagano/courier/pkg/record"
	"go.uber.org/zap"
)

// Tag is the reader type tag this connector registers under.
const Tag = "topic-consume"

// Alias is the tag used by older configuration files.
const Alias = "kafka"

// Config configures a Reader.
type Config struct {
	Brokers []string
	GroupID string
	Topics  []string
	// OffsetReset is "earliest" or "latest" (default).
	OffsetReset    string
	SessionTimeout time.Duration
	// RetryBackoff is the pause after a failed consume round.
	RetryBackoff time.Duration
}

// DefaultConfig returns the consumer defaults.
func DefaultConfig() Config {
	return Config{
		OffsetReset:    "latest",
		SessionTimeout: 6 * time.Second,
		RetryBackoff:   100 * time.Millisecond,
	}
}

// Validate checks the configuration without touching the network.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New(errors.ErrorTypeValidation, "brokers are required")
	}
	if c.GroupID == "" {
		return errors.New(errors.ErrorTypeValidation, "group_id is required")
	}
	if len(c.Topics) == 0 {
		return errors.New(errors.ErrorTypeValidation, "at least one topic is required")
	}
	for _, t := range c.Topics {
		if strings.TrimSpace(t) == "" {
			return errors.New(errors.ErrorTypeValidation, "topic names must not be empty")
		}
	}
	switch c.OffsetReset {
	case "", "earliest", "latest":
	default:
		return errors.Newf(errors.ErrorTypeValidation, "offset_reset must be earliest or latest, got %q", c.OffsetReset)
	}
	return nil
}

// Reader consumes keyed records from a set of topics.
type Reader[T any] struct {
	config     Config
	client     sarama.Client
	group      sarama.ConsumerGroup
	codec      record.Codec[T]
	defaultKey string
	logger     *zap.Logger

	started   int32
	closeOnce sync.Once
}

// New connects to the cluster, verifies every topic and joins the consumer
// group. Any failure here is fatal for the pipeline being built.
func New[T any](cfg Config, codec record.Codec[T], defaultKey string, log *zap.Logger) (*Reader[T], error) {
	cfg = withDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Get()
	}

	client, err := sarama.NewClient(cfg.Brokers, buildSaramaConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create Kafka client")
	}

	for _, topic := range cfg.Topics {
		if _, err := client.Partitions(topic); err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("can't subscribe to topic %s", topic))
		}
	}

	group, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, client)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create consumer group")
	}

	r := NewFromGroup(group, cfg, codec, defaultKey, log)
	r.client = client

	r.logger.Info("subscribed to Kafka topics",
		zap.Strings("topics", cfg.Topics),
		zap.String("consumer_group", cfg.GroupID))
	return r, nil
}

// NewFromGroup wraps an existing consumer group. The caller keeps ownership
// of any client the group was built from.
func NewFromGroup[T any](group sarama.ConsumerGroup, cfg Config, codec record.Codec[T], defaultKey string, log *zap.Logger) *Reader[T] {
	if log == nil {
		log = logger.Get()
	}
	return &Reader[T]{
		config:     withDefaults(cfg),
		group:      group,
		codec:      codec,
		defaultKey: defaultKey,
		logger:     log.With(zap.String("component", "kafka_reader")),
	}
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.OffsetReset == "" {
		cfg.OffsetReset = def.OffsetReset
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = def.SessionTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	return cfg
}

// buildSaramaConfig builds Sarama configuration for the consumer
func buildSaramaConfig(cfg Config) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "courier"

	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Group.Session.Timeout = cfg.SessionTimeout
	config.Consumer.Group.Heartbeat.Interval = cfg.SessionTimeout / 3
	config.Consumer.Offsets.AutoCommit.Enable = false
	config.Consumer.Return.Errors = true

	switch cfg.OffsetReset {
	case "earliest":
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	return config
}

// Stream starts consuming. It may be called once; later calls return a
// closed channel. The channel is closed when ctx is done or the consumer
// group is closed.
func (r *Reader[T]) Stream(ctx context.Context) <-chan record.Message[T] {
	out := make(chan record.Message[T])
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		r.logger.Error("stream already started")
		close(out)
		return out
	}

	go r.logErrors()
	go func() {
		defer close(out)
		r.consume(ctx, out)
	}()
	return out
}

// consume runs consume rounds until ctx is done or the group is closed.
func (r *Reader[T]) consume(ctx context.Context, out chan<- record.Message[T]) {
	h := &handler[T]{reader: r, out: out}
	for {
		err := r.group.Consume(ctx, r.config.Topics, h)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return
		case err != nil:
			r.logger.Error("error receiving message from Kafka", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.config.RetryBackoff):
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// logErrors drains the group's error channel until it is closed.
func (r *Reader[T]) logErrors() {
	for err := range r.group.Errors() {
		r.logger.Error("error receiving message from Kafka", zap.Error(err))
	}
}

// Close leaves the consumer group and closes the client.
func (r *Reader[T]) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.group != nil {
			if cerr := r.group.Close(); cerr != nil {
				r.logger.Error("failed to close consumer group", zap.Error(cerr))
				err = cerr
			}
		}
		if r.client != nil && !r.client.Closed() {
			if cerr := r.client.Close(); cerr != nil {
				r.logger.Error("failed to close Kafka client", zap.Error(cerr))
				err = errors.Join(err, cerr)
			}
		}
		r.logger.Info("Kafka consumer closed")
	})
	return err
}

// handler implements sarama.ConsumerGroupHandler
type handler[T any] struct {
	reader *Reader[T]
	out    chan<- record.Message[T]
}

// Setup implements sarama.ConsumerGroupHandler
func (h *handler[T]) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler
func (h *handler[T]) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler
func (h *handler[T]) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	log := h.reader.logger
	for {
		log.Debug("waiting for next message", zap.String("topic", claim.Topic()), zap.Int32("partition", claim.Partition()))
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := []zap.Field{
				zap.String("topic", message.Topic),
				zap.Int32("partition", message.Partition),
				zap.Int64("offset", message.Offset),
			}

			msg, defaulted, err := decodeMessage(message, h.reader.codec, h.reader.defaultKey)
			if err != nil {
				log.Error("skipping message", append(fields, zap.Error(err), zap.String("error_type", string(errors.TypeOf(err))))...)
				continue
			}
			if defaulted {
				log.Warn("message has no key, using default key", append(fields, zap.String("key", msg.Key))...)
			}

			select {
			case h.out <- msg:
				log.Debug("processed Kafka message", fields...)
			case <-session.Context().Done():
				return nil
			}

		case <-session.Context().Done():
			return nil
		}
	}
}

// decodeMessage turns a consumed message into a record. The second result
// reports whether the key was missing and defaultKey was used.
func decodeMessage[T any](m *sarama.ConsumerMessage, codec record.Codec[T], defaultKey string) (record.Message[T], bool, error) {
	var msg record.Message[T]

	defaulted := false
	switch {
	case m.Key == nil:
		msg.Key = defaultKey
		defaulted = true
	case !utf8.Valid(m.Key):
		return msg, false, errors.New(errors.ErrorTypeData, "failed to parse message key as UTF-8")
	default:
		msg.Key = strings.TrimSpace(string(m.Key))
	}

	if m.Value == nil {
		return msg, false, errors.New(errors.ErrorTypeData, "message has no payload")
	}

	v, err := codec.Decode(m.Value)
	if err != nil {
		return msg, false, errors.Wrap(err, errors.ErrorTypeData, "failed to decode payload")
	}
	msg.Value = v

	if len(m.Headers) > 0 {
		msg.Headers = make(map[string]string, len(m.Headers))
		for _, h := range m.Headers {
			if h == nil {
				continue
			}
			msg.Headers[string(h.Key)] = string(h.Value)
		}
	}

	return msg, defaulted, nil
}

func configFromSpec(spec *config.ReaderSpec) Config {
	cfg := DefaultConfig()
	cfg.Brokers = spec.Brokers
	cfg.GroupID = spec.GroupID
	cfg.Topics = spec.Topics
	if spec.OffsetReset != "" {
		cfg.OffsetReset = spec.OffsetReset
	}
	return cfg
}

func init() {
	err := registry.RegisterSource(Tag, registry.SourceFactory{
		Description: "consume keyed records from topics through a consumer group",
		Keyed:       true,
		Validate: func(spec *config.ReaderSpec) error {
			return configFromSpec(spec).Validate()
		},
		Stream: func(ctx context.Context, spec *config.ReaderSpec, rt *record.Type) (core.StreamReader[any], error) {
			r, err := New(configFromSpec(spec), rt.Codec(), rt.Name(), logger.Get())
			if err != nil {
				return nil, err
			}
			return core.EraseStream[record.Message[any]](r), nil
		},
	}, Alias)
	if err != nil {
		panic(err)
	}
}
