package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"colonyledger/internal/infrastructure/telemetry"
	"colonyledger/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes record events to the records topic.
type Producer struct {
	writer messageWriter
	topic  string
}

type ProducerConfig struct {
	Brokers []string
	Topic   string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "colonyledger-records"
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{writer: writer, topic: cfg.Topic}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishRecordEvent writes event keyed by the first affected record, so every event about one
// transaction lands on the same partition.
func (p *Producer) PublishRecordEvent(ctx context.Context, event streaming.RecordEvent) error {
	ctx, span := otel.Tracer("colonyledger/kafka").Start(ctx, "ledger.publish_record_event", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("command.type", string(event.Type)),
		attribute.Int("record.updated", len(event.Updated)),
		attribute.Int("record.removed", len(event.Removed)),
		attribute.String("messaging.destination", p.topic),
	)

	payload, err := streaming.EncodeRecordEvent(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	message := kafka.Message{
		Topic: p.topic,
		Key:   []byte(eventKey(event)),
		Value: payload,
	}
	telemetry.InjectKafkaHeaders(ctx, &message)
	if err := p.writer.WriteMessages(ctx, message); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func eventKey(event streaming.RecordEvent) string {
	switch {
	case len(event.Updated) > 0:
		return event.Updated[0].ID
	case len(event.Removed) > 0:
		return event.Removed[0]
	default:
		return string(event.Type)
	}
}
