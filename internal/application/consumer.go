package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"colonyledger/internal/infrastructure/telemetry"
	"colonyledger/internal/ledger"
	"colonyledger/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, cmd ledger.Command) (ledger.Effect, error)
}

type ConsumerMetrics interface {
	ObserveCommand(commandType, outcome string)
	IncKafkaFetchErr()
	IncKafkaDecodeErr()
	IncKafkaCommitErr()
}

// CommandConsumer feeds commands from the command topic into the session. Commands are applied
// in partition order and committed only after they were applied or rejected.
type CommandConsumer struct {
	reader     MessageReader
	dispatcher Dispatcher
	metrics    ConsumerMetrics
	retryDelay time.Duration
}

func NewCommandConsumer(reader MessageReader, dispatcher Dispatcher, metrics ConsumerMetrics) (*CommandConsumer, error) {
	if reader == nil || dispatcher == nil {
		return nil, errors.New("consumer dependencies must not be nil")
	}
	return &CommandConsumer{reader: reader, dispatcher: dispatcher, metrics: metrics, retryDelay: 100 * time.Millisecond}, nil
}

// Run consumes until ctx is cancelled or the session is closed.
func (c *CommandConsumer) Run(ctx context.Context) error {
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.count(func(m ConsumerMetrics) { m.IncKafkaFetchErr() })
			slog.Error("kafka fetch error", "err", err)
			if !sleep(ctx, c.retryDelay) {
				return nil
			}
			continue
		}

		if err := c.handle(ctx, message); err != nil {
			if errors.Is(err, ledger.ErrSessionClosed) {
				return err
			}
		}
		if err := c.reader.CommitMessages(ctx, message); err != nil {
			c.count(func(m ConsumerMetrics) { m.IncKafkaCommitErr() })
			slog.Error("kafka commit error", "offset", message.Offset, "err", err)
		}
	}
}

func (c *CommandConsumer) handle(ctx context.Context, message kafka.Message) error {
	cmd, envelope, err := streaming.DecodeCommand(message.Value)
	if err != nil {
		slog.Warn("command decode error", "offset", message.Offset, "err", err)
		c.count(func(m ConsumerMetrics) { m.IncKafkaDecodeErr() })
		return err
	}

	messageCtx := telemetry.ExtractKafkaHeaders(ctx, message)
	if !trace.SpanContextFromContext(messageCtx).IsValid() && envelope.TraceID != "" {
		if withTrace, ok := telemetry.ContextWithTraceID(messageCtx, envelope.TraceID); ok {
			messageCtx = withTrace
		}
	}
	messageCtx, span := otel.Tracer("colonyledger/consumer").Start(messageCtx, "ledger.apply_command", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("command.type", string(cmd.Type())),
		attribute.String("transaction.id", cmd.TransactionID()),
		attribute.Int64("kafka.offset", message.Offset),
	)

	if _, err := c.dispatcher.Dispatch(messageCtx, cmd); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.count(func(m ConsumerMetrics) { m.ObserveCommand(string(cmd.Type()), "rejected") })
		slog.Warn("command rejected", "type", cmd.Type(), "id", cmd.TransactionID(), "err", err)
		return err
	}
	c.count(func(m ConsumerMetrics) { m.ObserveCommand(string(cmd.Type()), "applied") })
	slog.Debug("applied command", "type", cmd.Type(), "id", cmd.TransactionID())
	return nil
}

func (c *CommandConsumer) count(fn func(ConsumerMetrics)) {
	if c.metrics != nil {
		fn(c.metrics)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
