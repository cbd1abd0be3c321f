// Package kafka implements the topic-produce sink on a sarama sync producer.
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/gbPagano/courier/pkg/config"
	"github.com/gbPagano/courier/pkg/connector/core"
	"github.com/gbPagano/courier/pkg/connector/registry"
	"github.com/gbPagano/courier/pkg/errors"
	"github.com/gbPagano/courier/pkg/logger"
	"github.com/gbPagano/courier/pkg/record"
	"go.uber.org/zap"
)

// Tag is the writer type tag this connector registers under.
const Tag = "topic-produce"

// Alias is the tag used by older configuration files.
const Alias = "kafka"

// Config configures a Writer.
type Config struct {
	Brokers []string
	Topic   string
	// Timeout bounds one delivery.
	Timeout time.Duration
}

// DefaultConfig returns the producer defaults.
func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Second}
}

// Validate checks the configuration without touching the network.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New(errors.ErrorTypeValidation, "brokers are required")
	}
	if c.Topic == "" {
		return errors.New(errors.ErrorTypeValidation, "topic is required")
	}
	return nil
}

// Writer produces keyed records to one topic.
type Writer[T any] struct {
	producer  sarama.SyncProducer
	topic     string
	codec     record.Codec[T]
	logger    *zap.Logger
	closeOnce sync.Once
}

// New connects a sync producer to the cluster.
func New[T any](cfg Config, codec record.Codec[T], log *zap.Logger) (*Writer[T], error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, buildSaramaConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create Kafka producer")
	}
	return NewWithProducer(producer, cfg.Topic, codec, log), nil
}

// NewWithProducer wraps an existing producer. The Writer takes ownership and
// closes it on Close.
func NewWithProducer[T any](producer sarama.SyncProducer, topic string, codec record.Codec[T], log *zap.Logger) *Writer[T] {
	if log == nil {
		log = logger.Get()
	}
	return &Writer[T]{
		producer: producer,
		topic:    topic,
		codec:    codec,
		logger:   log.With(zap.String("component", "kafka_writer"), zap.String("topic", topic)),
	}
}

// buildSaramaConfig builds Sarama configuration for the producer
func buildSaramaConfig(cfg Config) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "courier"

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Timeout = cfg.Timeout
	config.Producer.Retry.Max = 0
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	return config
}

// Write delivers one record and waits for the broker's acknowledgement.
func (w *Writer[T]) Write(ctx context.Context, msg record.Message[T]) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDelivery, fmt.Sprintf("send to %s abandoned", w.topic))
	}

	value, err := w.codec.Encode(msg.Value)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, fmt.Sprintf("failed to encode record for %s", w.topic))
	}

	pm := &sarama.ProducerMessage{
		Topic: w.topic,
		Key:   sarama.StringEncoder(msg.Key),
		Value: sarama.ByteEncoder(value),
	}
	for k, v := range msg.Headers {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	w.logger.Debug("sending message", zap.String("key", msg.Key))
	partition, offset, err := w.producer.SendMessage(pm)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDelivery, fmt.Sprintf("failed to deliver to %s", w.topic)).
			WithDetail("key", msg.Key)
	}

	w.logger.Debug("delivered",
		zap.String("key", msg.Key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close closes the producer.
func (w *Writer[T]) Close() error {
	var err error
	w.closeOnce.Do(func() {
		if err = w.producer.Close(); err != nil {
			w.logger.Error("failed to close sync producer", zap.Error(err))
			return
		}
		w.logger.Info("Kafka producer closed")
	})
	return err
}

func configFromSpec(spec *config.WriterSpec) Config {
	cfg := DefaultConfig()
	cfg.Brokers = spec.Brokers
	cfg.Topic = spec.Topic
	return cfg
}

func init() {
	err := registry.RegisterDestination(Tag, registry.DestinationFactory{
		Description: "produce keyed records to a topic, waiting for acknowledgement",
		Keyed:       true,
		Validate: func(spec *config.WriterSpec) error {
			return configFromSpec(spec).Validate()
		},
		New: func(ctx context.Context, spec *config.WriterSpec, rt *record.Type) (core.Writer[any], error) {
			w, err := New(configFromSpec(spec), rt.Codec(), logger.Get())
			if err != nil {
				return nil, err
			}
			return core.EraseWriter[record.Message[any]](w), nil
		},
	}, Alias)
	if err != nil {
		panic(err)
	}
}
