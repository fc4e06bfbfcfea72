package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// Message is a fetched record as seen by handlers.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Offset  int64
	Time    time.Time
	Headers []kafka.Header
}

// HandlerFunc processes one message. A nil return commits its offset; an
// error leaves it uncommitted so the group sees it again.
type HandlerFunc func(ctx context.Context, msg Message) error

// Consumer reads a topic as part of a consumer group.
type Consumer interface {
	Subscribe(ctx context.Context, handler HandlerFunc) error
	Close() error
}

type consumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

// ConsumerOption adjusts the reader configuration.
type ConsumerOption func(*kafka.ReaderConfig)

// FromLatest makes a new group start at the end of the topic.
func FromLatest() ConsumerOption {
	return func(c *kafka.ReaderConfig) { c.StartOffset = kafka.LastOffset }
}

// NewConsumer joins groupID on topic. New groups replay from the earliest
// retained offset unless FromLatest is given.
func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger, opts ...ConsumerOption) Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     250 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	// Commits are explicit, after the handler.
	cfg.CommitInterval = 0

	return &consumer{
		reader: kafka.NewReader(cfg),
		logger: logger.With(slog.String("topic", topic), slog.String("group", groupID)),
	}
}

// Subscribe fetches until ctx ends. Cancellation is a clean return.
func (c *consumer) Subscribe(ctx context.Context, handler HandlerFunc) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch from %s: %w", c.reader.Config().Topic, err)
		}
		c.deliver(ctx, m, handler)
	}
}

func (c *consumer) deliver(ctx context.Context, m kafka.Message, handler HandlerFunc) {
	carrier := HeaderCarrier(m.Headers)
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, &carrier)

	log := c.logger.With(slog.Int("partition", m.Partition), slog.Int64("offset", m.Offset))
	if err := handler(msgCtx, Message{
		Topic:   m.Topic,
		Key:     m.Key,
		Value:   m.Value,
		Offset:  m.Offset,
		Time:    m.Time,
		Headers: m.Headers,
	}); err != nil {
		log.Error("handler failed, offset left uncommitted", slog.String("error", err.Error()))
		return
	}
	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		log.Error("commit failed", slog.String("error", err.Error()))
	}
}

func (c *consumer) Close() error {
	return c.reader.Close()
}

// HandleChanges adapts fn into a HandlerFunc for the change-event topic.
// Records that do not decode as a ChangeEvent are logged and committed so
// they cannot stall the partition.
func HandleChanges(logger *slog.Logger, fn func(context.Context, ChangeEvent) error) HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, msg Message) error {
		ev, err := DecodeChangeEvent(msg.Value)
		if err != nil {
			logger.Warn("skipping undecodable change event",
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return fn(ctx, ev)
	}
}
