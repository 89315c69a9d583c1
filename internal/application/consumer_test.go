package application

import (
	"context"
	"errors"
	"testing"

	"colonyledger/internal/ledger"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockReader hands out queued messages and cancels the run once they are exhausted.
type mockReader struct {
	messages  []kafka.Message
	fetchErrs []error
	committed []kafka.Message
	cancel    context.CancelFunc
}

func (m *mockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(m.fetchErrs) > 0 {
		err := m.fetchErrs[0]
		m.fetchErrs = m.fetchErrs[1:]
		return kafka.Message{}, err
	}
	if len(m.messages) == 0 {
		m.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := m.messages[0]
	m.messages = m.messages[1:]
	return msg, nil
}

func (m *mockReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.committed = append(m.committed, msgs...)
	return nil
}

func message(offset int64, value string) kafka.Message {
	return kafka.Message{Offset: offset, Value: []byte(value)}
}

func TestCommandConsumer_AppliesInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &mockReader{cancel: cancel, messages: []kafka.Message{
		message(1, `{"type":"TRANSACTION_CREATED","payload":{"id":"a","identifier":"0x10"}}`),
		message(2, `{"type":"TRANSACTION_ADD_PROPERTIES","id":"a","payload":{"properties":{"gasLimit":"21000"}}}`),
		message(3, `{"type":"TRANSACTION_SENT","id":"a","payload":{"hash":"0xabc"}}`),
		message(4, `not json`),
		message(5, `{"type":"TRANSACTION_SENT","id":"missing","payload":{"hash":"0xdef"}}`),
		message(6, `{"type":"TRANSACTION_SUCCEEDED","id":"a","trace_id":"4bf92f3577b34da6a3ce929d0e0e4736"}`),
	}}
	session := ledger.NewSession()
	metrics := &mockMetrics{}
	consumer, err := NewCommandConsumer(reader, session, metrics)
	require.NoError(t, err)

	require.NoError(t, consumer.Run(ctx))

	record, ok := session.Get("a")
	require.True(t, ok)
	assert.Equal(t, "0xabc", record.Hash)
	assert.Equal(t, "succeeded", string(record.Status))
	assert.Len(t, reader.committed, 6)
	assert.Equal(t, 1, metrics.decodeErrs)
	assert.Equal(t, 1, metrics.commands["TRANSACTION_SENT/rejected"])
	assert.Equal(t, 1, metrics.commands["TRANSACTION_SUCCEEDED/applied"])
}

func TestCommandConsumer_RetriesFetchErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &mockReader{
		cancel:    cancel,
		fetchErrs: []error{errors.New("broker unavailable")},
		messages:  []kafka.Message{message(1, `{"type":"GAS_PRICES_UPDATE","payload":{"prices":{"network":"1"}}}`)},
	}
	session := ledger.NewSession()
	metrics := &mockMetrics{}
	consumer, err := NewCommandConsumer(reader, session, metrics)
	require.NoError(t, err)
	consumer.retryDelay = 0

	require.NoError(t, consumer.Run(ctx))
	assert.Equal(t, 1, metrics.fetchErrs)
	assert.Equal(t, "1", session.GasPrices()["network"])
}

func TestCommandConsumer_StopsWhenSessionCloses(t *testing.T) {
	reader := &mockReader{cancel: func() {}, messages: []kafka.Message{
		message(1, `{"type":"TRANSACTION_CREATED","payload":{"id":"a"}}`),
	}}
	session := ledger.NewSession()
	session.Close()
	consumer, err := NewCommandConsumer(reader, session, nil)
	require.NoError(t, err)

	err = consumer.Run(context.Background())
	assert.ErrorIs(t, err, ledger.ErrSessionClosed)
	assert.Empty(t, reader.committed)
}

func TestNewCommandConsumer_RequiresDependencies(t *testing.T) {
	_, err := NewCommandConsumer(nil, ledger.NewSession(), nil)
	assert.Error(t, err)
}
