package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes every outbox message to one Kafka topic, keyed by
// issue id so events for an issue stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Key()),
		Value: msg.Payload,
		Time:  msg.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.Topic)},
			{Key: "message_id", Value: []byte(msg.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("outbox: kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher is used when no broker is configured; it only records that
// the event would have been sent.
type LogPublisher struct {
	Logger interface {
		InfoContext(ctx context.Context, msg string, args ...any)
	}
}

func (p LogPublisher) Publish(ctx context.Context, msg Message) error {
	if p.Logger != nil {
		p.Logger.InfoContext(ctx, "outbox event", "message_id", msg.ID, "topic", msg.Topic, "key", msg.Key())
	}
	return nil
}
