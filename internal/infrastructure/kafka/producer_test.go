package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"colonyledger/internal/domain"
	"colonyledger/internal/infrastructure/telemetry"
	"colonyledger/internal/ledger"
	"colonyledger/internal/streaming"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	messages []kafka.Message
	err      error
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error { return nil }

func TestProducer_PublishRecordEvent(t *testing.T) {
	_, err := telemetry.InitTracer(context.Background(), telemetry.Config{})
	require.NoError(t, err)
	writer := &mockWriter{}
	producer := &Producer{writer: writer, topic: "ledger-records"}

	ctx, ok := telemetry.ContextWithTraceID(context.Background(), "4bf92f3577b34da6a3ce929d0e0e4736")
	require.True(t, ok)
	event := streaming.NewRecordEvent(ledger.Effect{
		Command: ledger.TypeSent,
		Updated: []domain.TransactionRecord{{ID: "tx-1", Status: domain.StatusPending}},
	}, "4bf92f3577b34da6a3ce929d0e0e4736", time.Now())

	require.NoError(t, producer.PublishRecordEvent(ctx, event))
	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, "ledger-records", msg.Topic)
	assert.Equal(t, "tx-1", string(msg.Key))
	assert.NotEmpty(t, msg.Headers)

	decoded, err := streaming.DecodeRecordEvent(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeSent, decoded.Type)
	assert.Equal(t, "tx-1", decoded.Updated[0].ID)
}

func TestProducer_Errors(t *testing.T) {
	producer := &Producer{writer: &mockWriter{err: errors.New("broker down")}, topic: "t"}
	err := producer.PublishRecordEvent(context.Background(), streaming.RecordEvent{Type: ledger.TypeCancel, Removed: []string{"a"}})
	assert.Error(t, err)

	err = producer.PublishRecordEvent(context.Background(), streaming.RecordEvent{})
	assert.ErrorIs(t, err, streaming.ErrMissingType)

	_, err = NewProducer(ProducerConfig{})
	assert.Error(t, err)
	_, err = NewCommandReader(ConsumerConfig{Brokers: []string{"k:9092"}})
	assert.Error(t, err)
}

func TestEventKey(t *testing.T) {
	assert.Equal(t, "b", eventKey(streaming.RecordEvent{Removed: []string{"b"}}))
	assert.Equal(t, "GAS_PRICES_UPDATE", eventKey(streaming.RecordEvent{Type: ledger.TypeGasPricesUpdate}))
}
