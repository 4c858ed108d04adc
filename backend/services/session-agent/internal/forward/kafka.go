package forward

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"chargelog/backend/services/session-agent/internal/models"
)

// DefaultTopic receives session records when no topic is configured.
const DefaultTopic = "charging-sessions"

// MessageWriter is the subset of *kafka.Writer used by Kafka.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes sessions keyed by device uid so one device stays on one partition.
type Kafka struct {
	writer MessageWriter
}

// NewKafkaWriter builds a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		Async:        false,
	}
}

// NewKafka wraps writer.
func NewKafka(writer MessageWriter) *Kafka {
	return &Kafka{writer: writer}
}

// Forward implements Forwarder.
func (k *Kafka) Forward(ctx context.Context, session models.Session) error {
	value, err := json.Marshal(session.Payload())
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(session.DeviceUID),
		Value: value,
		Time:  time.Now().UTC(),
	})
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
