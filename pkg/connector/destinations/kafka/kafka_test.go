package kafka

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/gbPagano/courier/pkg/config"
	"github.com/gbPagano/courier/pkg/connector/registry"
	"github.com/gbPagano/courier/pkg/errors"
	"github.com/gbPagano/courier/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWriteSendsKeyValueAndHeaders(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Topic != "topic2" {
			return fmt.Errorf("unexpected topic %s", m.Topic)
		}
		key, err := m.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "k1" {
			return fmt.Errorf("unexpected key %s", key)
		}
		value, err := m.Value.Encode()
		if err != nil {
			return err
		}
		if string(value) != `{"a":"<b>"}` {
			return fmt.Errorf("unexpected value %s", value)
		}
		if len(m.Headers) != 1 || string(m.Headers[0].Key) != "trace" {
			return fmt.Errorf("unexpected headers %v", m.Headers)
		}
		return nil
	})

	w := NewWithProducer[any](producer, "topic2", record.JSONCodec[any]{}, zap.NewNop())
	err := w.Write(context.Background(), record.Message[any]{
		Key:     "k1",
		Value:   map[string]any{"a": "<b>"},
		Headers: map[string]string{"trace": "abc"},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestWriteDeliveryFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrRequestTimedOut)

	w := NewWithProducer[string](producer, "topic2", record.TextCodec{}, zap.NewNop())
	err := w.Write(context.Background(), record.Message[string]{Key: "k", Value: "v"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDelivery))
	assert.True(t, errors.IsRetryable(err))
	require.NoError(t, w.Close())
}

func TestWriteSerializationFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)

	w := NewWithProducer[string](producer, "topic2", record.TextCodec{}, zap.NewNop())
	err := w.Write(context.Background(), record.Message[string]{Key: "k", Value: string([]byte{0xff})})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSerialization))
	require.NoError(t, w.Close())
}

func TestWriteAfterCancel(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	w := NewWithProducer[string](producer, "topic2", record.TextCodec{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, w.Write(ctx, record.Message[string]{Key: "k", Value: "v"}))
	require.NoError(t, w.Close())
}

func TestEachWriteIsOneDelivery(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	producer.ExpectSendMessageAndSucceed()

	w := NewWithProducer[string](producer, "topic2", record.TextCodec{}, zap.NewNop())
	assert.NoError(t, w.Write(context.Background(), record.Message[string]{Key: "1", Value: "a"}))
	assert.Error(t, w.Write(context.Background(), record.Message[string]{Key: "2", Value: "b"}))
	assert.NoError(t, w.Write(context.Background(), record.Message[string]{Key: "3", Value: "c"}))
	require.NoError(t, w.Close())
}

func TestBuildSaramaConfig(t *testing.T) {
	cfg := buildSaramaConfig(Config{Timeout: 5 * time.Second})
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, 5*time.Second, cfg.Producer.Timeout)
	assert.True(t, cfg.Producer.Return.Successes)
	assert.Equal(t, 0, cfg.Producer.Retry.Max)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Brokers: []string{"b:9092"}, Topic: "t"}.Validate())
	assert.Error(t, Config{Topic: "t"}.Validate())
	assert.Error(t, Config{Brokers: []string{"b:9092"}}.Validate())
}

func TestRegisteredFactory(t *testing.T) {
	f, err := registry.GetRegistry().Destination(Alias)
	require.NoError(t, err)
	assert.True(t, f.Keyed)

	assert.NoError(t, f.Validate(&config.WriterSpec{Brokers: config.BrokerList{"localhost:9092"}, Topic: "topic2"}))
	assert.Error(t, f.Validate(&config.WriterSpec{Topic: "topic2"}))
}
