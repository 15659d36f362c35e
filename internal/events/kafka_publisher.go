package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher delivers outbox entries to a Kafka topic keyed by aggregate,
// so notifications for one appointment stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(writer messageWriter, topic string) *KafkaPublisher {
	if writer == nil {
		panic("events: kafka writer cannot be nil")
	}
	if strings.TrimSpace(topic) == "" {
		panic("events: kafka topic cannot be empty")
	}
	return &KafkaPublisher{writer: writer, topic: topic}
}

// NewKafkaWriter builds a hash-balanced writer for a comma separated broker list.
func NewKafkaWriter(brokers string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(SplitBrokers(brokers)...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func (p *KafkaPublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(entry.Aggregate),
		Value: entry.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(entry.ID.String())},
			{Key: "event_type", Value: []byte(entry.EventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: kafka write %s: %w", entry.ID, err)
	}
	return nil
}

// HeaderValue returns the first header value for key.
func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
