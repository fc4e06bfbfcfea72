package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
	"github.com/rhoffman0214/BobsComponents/internal/queue"
	"github.com/rhoffman0214/BobsComponents/pkg/retry"
	"github.com/rhoffman0214/BobsComponents/pkg/telemetry"
)

const (
	DefaultEventsTopic = "action-queue.changes"
	defaultBufferSize  = 256
	queueKey           = "queue"
)

// ChangeEvent is the wire form of a queue change. Actions carries the
// snapshot of every affected action that still exists when the change is
// observed, so consumers never need to call back into the service.
type ChangeEvent struct {
	Type          queue.ChangeType        `json:"type"`
	At            time.Time               `json:"at"`
	ActionIDs     []string                `json:"action_ids,omitempty"`
	Actions       []domain.ActionMetadata `json:"actions,omitempty"`
	Running       int                     `json:"running"`
	MaxConcurrent int                     `json:"max_concurrent"`
}

// DecodeChangeEvent parses a message value written by Publisher.
func DecodeChangeEvent(b []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	return ev, nil
}

// Source is the part of the queue a Publisher observes.
type Source interface {
	Subscribe(fn func(queue.Change)) (unsubscribe func())
	Get(id string) (domain.ActionMetadata, error)
	RunningCount() int
	MaxConcurrent() int
}

// Publisher forwards queue changes to a Kafka topic. Queue listeners run on
// the goroutine that mutated the queue, so the listener only snapshots and
// buffers; Run does the network I/O. When the buffer is full the event is
// dropped and counted.
type Publisher struct {
	producer Producer
	topic    string
	retry    retry.Config
	logger   *slog.Logger
	buf      chan ChangeEvent
	dropped  atomic.Uint64
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

func WithPublishRetry(cfg retry.Config) PublisherOption {
	return func(p *Publisher) { p.retry = cfg }
}

func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

func WithBufferSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.buf = make(chan ChangeEvent, n)
		}
	}
}

// NewPublisher returns a Publisher writing to topic. Each event gets three
// attempts with a short backoff before it is given up on.
func NewPublisher(producer Producer, topic string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		producer: producer,
		topic:    topic,
		retry: retry.Config{
			Enabled:           true,
			MaxAttempts:       3,
			InitialDelay:      200 * time.Millisecond,
			BackoffMultiplier: 2,
			MaxDelay:          2 * time.Second,
		},
		logger: slog.Default(),
		buf:    make(chan ChangeEvent, defaultBufferSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Watch subscribes to src. Events accumulate in the buffer until Run drains
// them.
func (p *Publisher) Watch(src Source) (unsubscribe func()) {
	return src.Subscribe(func(c queue.Change) {
		ev := snapshot(src, c)
		select {
		case p.buf <- ev:
		default:
			p.dropped.Add(1)
			telemetry.EventsPublishedTotal.WithLabelValues(string(c.Type), "dropped").Inc()
			p.logger.Warn("change event dropped, publisher buffer full",
				slog.String("type", string(c.Type)),
			)
		}
	})
}

// Dropped reports how many events were discarded because the buffer was full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Run publishes buffered events until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.buf:
			p.publish(ctx, ev)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev ChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("encode change event", slog.String("error", err.Error()))
		return
	}

	key := queueKey
	if len(ev.ActionIDs) == 1 {
		key = ev.ActionIDs[0]
	}

	attempts, err := retry.Do(ctx, p.retry, func(ctx context.Context, _ int) error {
		return p.producer.Publish(ctx, p.topic, key, payload)
	})
	if err != nil {
		telemetry.EventsPublishedTotal.WithLabelValues(string(ev.Type), "failed").Inc()
		p.logger.Error("publish change event",
			slog.String("type", string(ev.Type)),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		return
	}
	telemetry.EventsPublishedTotal.WithLabelValues(string(ev.Type), "ok").Inc()
}

func snapshot(src Source, c queue.Change) ChangeEvent {
	ev := ChangeEvent{
		Type:          c.Type,
		At:            c.At,
		ActionIDs:     c.ActionIDs,
		Running:       src.RunningCount(),
		MaxConcurrent: src.MaxConcurrent(),
	}
	for _, id := range c.ActionIDs {
		a, err := src.Get(id)
		if err != nil {
			continue // already cleaned up
		}
		ev.Actions = append(ev.Actions, a)
	}
	return ev
}
