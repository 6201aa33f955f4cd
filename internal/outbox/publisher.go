package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/clinical-trial-extractor/internal/config"
	"github.com/helixir/clinical-trial-extractor/internal/domain"
)

// Message header keys set on every published event.
const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

// Publisher delivers events to the event stream.
type Publisher interface {
	Publish(ctx context.Context, events ...*domain.OutboxEvent) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Compile-time interface verification.
var (
	_ Publisher     = (*KafkaPublisher)(nil)
	_ Publisher     = NopPublisher{}
	_ messageWriter = (*kafka.Writer)(nil)
)

// KafkaPublisher writes events to a Kafka topic.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

// NewKafkaPublisher creates a publisher for cfg.Topic. Messages are
// hash-partitioned by key (the PMCID).
func NewKafkaPublisher(cfg config.KafkaConfig, logger zerolog.Logger) *KafkaPublisher {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	return newKafkaPublisher(writer, cfg.Topic, logger)
}

func newKafkaPublisher(writer messageWriter, topic string, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		topic:  topic,
		logger: logger.With().Str("component", "kafka_publisher").Str("topic", topic).Logger(),
	}
}

// Publish writes events in one batch.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...*domain.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		msg, err := toMessage(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: write %d message(s) to %s: %w", len(msgs), p.topic, err)
	}

	p.logger.Debug().Int("count", len(msgs)).Msg("published events")
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info().Msg("closing kafka publisher")
	return p.writer.Close()
}

func toMessage(event *domain.OutboxEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event %s: %w", event.EventID, err)
	}

	return kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: value,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(event.EventType)},
			{Key: HeaderEventID, Value: []byte(event.EventID)},
		},
	}, nil
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, ...*domain.OutboxEvent) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }
