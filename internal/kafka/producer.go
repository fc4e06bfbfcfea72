package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

const contentTypeJSON = "application/json"

// Producer writes keyed records.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

type producer struct {
	writer *kafka.Writer
	now    func() time.Time
}

// ProducerOption adjusts the writer.
type ProducerOption func(*kafka.Writer)

// WithBatchTimeout bounds how long a partial batch waits.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(w *kafka.Writer) { w.BatchTimeout = d }
}

// NewProducer returns a hash-balanced writer, so every change for one key
// lands on the same partition in order. Batches flush after 50ms.
func NewProducer(brokers []string, opts ...ProducerOption) Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
		// The Publisher retries with its own policy.
		MaxAttempts: 1,
	}
	for _, opt := range opts {
		opt(w)
	}
	return &producer{writer: w, now: time.Now}
}

func (p *producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	headers := HeaderCarrier{{Key: "content-type", Value: []byte(contentTypeJSON)}}
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
		Time:    p.now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s/%s: %w", topic, key, err)
	}
	return nil
}

func (p *producer) Close() error {
	return p.writer.Close()
}
