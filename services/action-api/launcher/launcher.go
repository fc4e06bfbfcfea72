// Package launcher turns API submissions into executor runs against a shared
// action queue.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
	"github.com/rhoffman0214/BobsComponents/internal/executor"
	"github.com/rhoffman0214/BobsComponents/internal/operations"
	"github.com/rhoffman0214/BobsComponents/internal/queue"
	"github.com/rhoffman0214/BobsComponents/pkg/retry"
)

var (
	// ErrAtCapacity is returned when the queue ceiling denies a submission.
	// It is a normal outcome, not an operation failure.
	ErrAtCapacity = errors.New("at capacity, try again later")

	// ErrNotRunning is returned by Cancel for an action that already settled.
	ErrNotRunning = fmt.Errorf("action is not running: %w", domain.ErrInvalidState)
)

// Submission asks for one run of a registered operation.
type Submission struct {
	Operation string
	// Name is the label shown in the queue; defaults to Operation.
	Name string
	// Retry names a preset; empty uses the launcher default.
	Retry string
}

// Launcher runs each submission on its own executor. Executors that share an
// operation name share error statistics.
type Launcher struct {
	queue    *queue.Service
	registry *operations.Registry
	retry    retry.Config
	timeout  time.Duration
	logger   *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	mu       sync.Mutex
	stats    map[string]*executor.Stats
	inFlight map[string]*executor.Executor // by action ID
	wg       sync.WaitGroup
}

// Option configures a Launcher.
type Option func(*Launcher)

func WithRetry(cfg retry.Config) Option  { return func(l *Launcher) { l.retry = cfg } }
func WithTimeout(d time.Duration) Option { return func(l *Launcher) { l.timeout = d } }
func WithLogger(lg *slog.Logger) Option  { return func(l *Launcher) { l.logger = lg } }

// New returns a Launcher with no retries and no per-run timeout.
func New(q *queue.Service, registry *operations.Registry, opts ...Option) *Launcher {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Launcher{
		queue:    q,
		registry: registry,
		retry:    executor.NoRetry(),
		logger:   slog.Default(),
		baseCtx:  ctx,
		stop:     cancel,
		stats:    make(map[string]*executor.Stats),
		inFlight: make(map[string]*executor.Executor),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submit admits and starts a run. It returns the starting record, or
// ErrAtCapacity, an *domain.UnknownOperationError, or an invalid-argument
// error for an unknown retry preset.
func (l *Launcher) Submit(sub Submission) (domain.OperationMetadata, error) {
	op, err := l.registry.Get(sub.Operation)
	if err != nil {
		return domain.OperationMetadata{}, err
	}
	cfg := l.retry
	if sub.Retry != "" {
		if cfg, err = executor.PresetByName(sub.Retry); err != nil {
			return domain.OperationMetadata{}, err
		}
	}
	name := sub.Name
	if name == "" {
		name = sub.Operation
	}

	e := executor.New(name,
		executor.WithQueue(l.queue),
		executor.WithRetry(cfg),
		executor.WithStats(l.statsFor(sub.Operation)),
		executor.WithLogger(l.logger),
	)

	ctx, cancel := l.baseCtx, context.CancelFunc(func() {})
	if l.timeout > 0 {
		ctx, cancel = context.WithTimeout(l.baseCtx, l.timeout)
	}

	adm, started, done := e.Launch(ctx, op)
	switch adm {
	case executor.Admitted:
	case executor.DeniedAtCapacity:
		cancel()
		return domain.OperationMetadata{}, ErrAtCapacity
	default:
		cancel()
		return domain.OperationMetadata{}, fmt.Errorf("launch %s: %s: %w", sub.Operation, adm, domain.ErrInvalidState)
	}

	l.mu.Lock()
	l.inFlight[started.ActionID] = e
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		defer cancel()
		<-done
		l.mu.Lock()
		delete(l.inFlight, started.ActionID)
		l.mu.Unlock()
	}()

	return started, nil
}

// Cancel stops a running action. The queue records it as an error with the
// cancelled message.
func (l *Launcher) Cancel(actionID string) error {
	l.mu.Lock()
	e, ok := l.inFlight[actionID]
	l.mu.Unlock()
	if !ok {
		if _, err := l.queue.Get(actionID); err != nil {
			return err
		}
		return ErrNotRunning
	}
	e.Reset()
	return nil
}

// Stats returns the error statistics per operation name.
func (l *Launcher) Stats() map[string]domain.ErrorMetadata {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]domain.ErrorMetadata, len(l.stats))
	for name, s := range l.stats {
		out[name] = s.Snapshot()
	}
	return out
}

// Operations lists the registered operation names.
func (l *Launcher) Operations() []string {
	return l.registry.Names()
}

// InFlight returns the IDs of actions still owned by a running executor.
func (l *Launcher) InFlight() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.inFlight))
	for id := range l.inFlight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Drain waits for in-flight runs to finish. When ctx ends first the
// remaining runs are cancelled and Drain waits for them to settle.
func (l *Launcher) Drain(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		l.logger.Warn("drain deadline reached, cancelling in-flight actions",
			slog.Int("in_flight", len(l.InFlight())),
		)
		l.stop()
		<-finished
		return ctx.Err()
	}
}

func (l *Launcher) statsFor(operation string) *executor.Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stats[operation]
	if !ok {
		s = executor.NewStats()
		l.stats[operation] = s
	}
	return s
}
