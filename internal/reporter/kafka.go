package reporter

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/strikewatch/internal/models"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the reporter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReporter writes outcome events to a topic, keyed by instrument so one
// instrument's events stay ordered within a partition.
type KafkaReporter struct {
	w messageWriter
}

// NewKafkaReporter creates a synchronous writer for topic.
func NewKafkaReporter(brokers []string, topic string) (*KafkaReporter, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 100 * time.Millisecond,
	}
	return &KafkaReporter{w: w}, nil
}

// Name implements Reporter.
func (k *KafkaReporter) Name() string { return "kafka" }

// Report writes the outcome. Candidates without an outcome are skipped.
func (k *KafkaReporter) Report(ctx context.Context, c models.Candidate, o *models.Outcome) error {
	if o == nil {
		return nil
	}
	payload, err := marshalEvent(c, *o)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(c.Instrument()),
		Value: payload,
		Time:  o.ResolvedAt,
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (k *KafkaReporter) Close() error {
	return k.w.Close()
}
