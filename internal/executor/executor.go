package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
	"github.com/rhoffman0214/BobsComponents/internal/queue"
	"github.com/rhoffman0214/BobsComponents/pkg/retry"
	"github.com/rhoffman0214/BobsComponents/pkg/telemetry"
)

const (
	eventStart   = "start"
	eventSucceed = "succeed"
	eventFail    = "fail"
	eventReset   = "reset"
)

// Admission is the synchronous outcome of Launch. Denials are not errors and
// fire no events.
type Admission int

const (
	Admitted Admission = iota
	// DeniedAtCapacity means the queue ceiling was reached.
	DeniedAtCapacity
	// DeniedBusy means the executor is running or still showing a success.
	DeniedBusy
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case DeniedAtCapacity:
		return "denied_at_capacity"
	case DeniedBusy:
		return "denied_busy"
	default:
		return "unknown"
	}
}

var errPanic = errors.New("operation panicked")

// Executor drives one named action through IDLE → LOADING → SUCCESS|ERROR.
// Retries stay inside LOADING. Operation failures never escape it; they are
// classified and delivered to OnError listeners.
type Executor struct {
	name             string
	queue            *queue.Service
	retry            retry.Config
	autoReset        time.Duration
	autoResetOnError bool
	stats            *Stats
	now              func() time.Time
	logger           *slog.Logger

	mu         sync.Mutex
	machine    *fsm.FSM
	admitting  bool
	gen        uint64
	cancel     context.CancelFunc
	actionID   string
	progress   int
	lastErr    *domain.ComponentError
	resetTimer *time.Timer

	stateListeners   listeners[StateChange]
	successListeners listeners[SuccessEvent]
	errorListeners   listeners[*ErrorEvent]
	retryListeners   listeners[RetryEvent]
}

// Option configures an Executor.
type Option func(*Executor)

// WithQueue runs the executor in queued mode: every launch registers with q
// and is denied when q is at its ceiling.
func WithQueue(q *queue.Service) Option { return func(e *Executor) { e.queue = q } }

func WithRetry(cfg retry.Config) Option { return func(e *Executor) { e.retry = cfg } }

// WithAutoReset returns the executor to IDLE d after a success.
func WithAutoReset(d time.Duration) Option { return func(e *Executor) { e.autoReset = d } }

// WithAutoResetOnError applies the auto-reset delay after failures too.
func WithAutoResetOnError(on bool) Option   { return func(e *Executor) { e.autoResetOnError = on } }
func WithStats(s *Stats) Option             { return func(e *Executor) { e.stats = s } }
func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }
func WithLogger(l *slog.Logger) Option      { return func(e *Executor) { e.logger = l } }

// New returns an IDLE executor. Without WithRetry it makes a single attempt.
func New(name string, opts ...Option) *Executor {
	e := &Executor{
		name:   name,
		retry:  NoRetry(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.stats == nil {
		e.stats = NewStats()
	}
	e.logger = e.logger.With(slog.String("operation", name))

	e.machine = fsm.NewFSM(
		string(domain.StateIdle),
		fsm.Events{
			{Name: eventStart, Src: []string{string(domain.StateIdle), string(domain.StateError)}, Dst: string(domain.StateLoading)},
			{Name: eventSucceed, Src: []string{string(domain.StateLoading)}, Dst: string(domain.StateSuccess)},
			{Name: eventFail, Src: []string{string(domain.StateLoading)}, Dst: string(domain.StateError)},
			{Name: eventReset, Src: []string{string(domain.StateLoading), string(domain.StateSuccess), string(domain.StateError)}, Dst: string(domain.StateIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				e.logger.Debug("state changed",
					slog.String("event", ev.Event),
					slog.String("from", ev.Src),
					slog.String("to", ev.Dst),
				)
			},
		},
	)
	return e
}

func (e *Executor) Name() string { return e.name }

func (e *Executor) State() domain.ActionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.ActionState(e.machine.Current())
}

func (e *Executor) Progress() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// LastError is the classified failure the executor settled on, or nil.
func (e *Executor) LastError() *domain.ComponentError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// ErrorMessage is the user-safe message of LastError, or "".
func (e *Executor) ErrorMessage() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastErr == nil {
		return ""
	}
	return e.lastErr.UserMessage
}

func (e *Executor) Stats() domain.ErrorMetadata { return e.stats.Snapshot() }

func (e *Executor) OnStateChange(fn func(StateChange)) func() { return e.stateListeners.add(fn) }
func (e *Executor) OnSuccess(fn func(SuccessEvent)) func()    { return e.successListeners.add(fn) }
func (e *Executor) OnError(fn func(*ErrorEvent)) func()       { return e.errorListeners.add(fn) }
func (e *Executor) OnRetry(fn func(RetryEvent)) func()        { return e.retryListeners.add(fn) }

// Launch admits and starts op. Admission is decided before Launch returns,
// along with the starting record (operation and action ids); the run
// continues in the background and its final record is sent on the returned
// channel exactly once. The channel is nil when not admitted.
func (e *Executor) Launch(ctx context.Context, op domain.Operation) (Admission, domain.OperationMetadata, <-chan domain.OperationMetadata) {
	e.mu.Lock()
	if e.admitting || !e.machine.Can(eventStart) {
		e.mu.Unlock()
		return DeniedBusy, domain.OperationMetadata{}, nil
	}
	e.admitting = true
	e.mu.Unlock()

	// Registration notifies queue listeners synchronously, so it runs without
	// e.mu held.
	var actionID string
	if e.queue != nil {
		a, ok := e.queue.RegisterAction(e.name)
		if !ok {
			e.mu.Lock()
			e.admitting = false
			e.mu.Unlock()
			return DeniedAtCapacity, domain.OperationMetadata{}, nil
		}
		actionID = a.ID
	}

	e.mu.Lock()
	e.admitting = false
	prev := domain.ActionState(e.machine.Current())
	if err := e.machine.Event(context.Background(), eventStart); err != nil {
		// Reset cannot leave the machine in a state that refuses start, so
		// this only happens on a programming error.
		e.mu.Unlock()
		e.logger.Error("start transition refused", slog.String("error", err.Error()))
		if actionID != "" {
			e.queue.UpdateActionState(actionID, domain.StateError, domain.UserMessageFor(domain.CodeInvalidState))
		}
		return DeniedBusy, domain.OperationMetadata{}, nil
	}
	e.stopAutoResetLocked()
	e.gen++
	gen := e.gen
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.actionID = actionID
	e.progress = 0
	e.lastErr = nil
	meta := domain.OperationMetadata{
		ID:        uuid.New().String(),
		ActionID:  actionID,
		Name:      e.name,
		StartedAt: e.now(),
	}
	e.mu.Unlock()

	e.stateListeners.emit(StateChange{From: prev, To: domain.StateLoading})

	done := make(chan domain.OperationMetadata, 1)
	go func() {
		defer cancel()
		done <- e.run(runCtx, gen, op, meta)
	}()
	return Admitted, meta, done
}

// Execute is Launch followed by waiting for the run to finish.
func (e *Executor) Execute(ctx context.Context, op domain.Operation) (Admission, domain.OperationMetadata) {
	adm, _, done := e.Launch(ctx, op)
	if adm != Admitted {
		return adm, domain.OperationMetadata{}
	}
	return adm, <-done
}

// Reset returns the executor to IDLE from any state, cancelling an in-flight
// run and clearing progress and error.
func (e *Executor) Reset() {
	e.mu.Lock()
	prev := domain.ActionState(e.machine.Current())
	abandoned := ""
	if prev == domain.StateLoading {
		abandoned = e.actionID
	}
	e.resetLocked()
	e.mu.Unlock()

	if abandoned != "" && e.queue != nil {
		e.queue.UpdateActionState(abandoned, domain.StateError, domain.UserMessageFor(domain.CodeOperationCancelled))
	}
	if prev != domain.StateIdle {
		e.stateListeners.emit(StateChange{From: prev, To: domain.StateIdle})
	}
}

func (e *Executor) resetLocked() {
	e.gen++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.stopAutoResetLocked()
	e.progress = 0
	e.lastErr = nil
	e.actionID = ""
	if e.machine.Current() != string(domain.StateIdle) {
		_ = e.machine.Event(context.Background(), eventReset)
	}
}

func (e *Executor) stopAutoResetLocked() {
	if e.resetTimer != nil {
		e.resetTimer.Stop()
		e.resetTimer = nil
	}
}

func (e *Executor) scheduleAutoResetLocked(gen uint64) {
	if e.autoReset <= 0 {
		return
	}
	e.resetTimer = time.AfterFunc(e.autoReset, func() {
		e.mu.Lock()
		if e.gen != gen {
			e.mu.Unlock()
			return
		}
		prev := domain.ActionState(e.machine.Current())
		e.resetLocked()
		e.mu.Unlock()

		e.logger.Debug("auto reset", slog.String("from", string(prev)))
		e.stateListeners.emit(StateChange{From: prev, To: domain.StateIdle})
	})
}

func (e *Executor) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen == gen
}

func (e *Executor) run(ctx context.Context, gen uint64, op domain.Operation, meta domain.OperationMetadata) domain.OperationMetadata {
	ctx, span := telemetry.Tracer("executor").Start(ctx, "executor.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("operation.name", e.name),
		attribute.String("operation.id", meta.ID),
		attribute.String("action.id", meta.ActionID),
	)

	log := e.logger.With(slog.String("operation_id", meta.ID))
	if meta.ActionID != "" {
		log = log.With(slog.String("action_id", meta.ActionID))
	}

	var (
		result any
		cerr   *domain.ComponentError
	)
	attempt := 0
	for {
		attempt++
		meta.Attempts = attempt
		if attempt > 1 {
			e.restartProgress(gen, meta.ActionID)
		}

		res, err := invoke(ctx, op, e.progressSink(gen, meta.ActionID, log))
		if err == nil {
			result = res
			cerr = nil
			break
		}
		if errors.Is(ctx.Err(), context.Canceled) && !errors.Is(err, context.Canceled) && !errors.Is(err, domain.ErrCancelled) {
			err = fmt.Errorf("%w: %w", domain.ErrCancelled, err)
		}
		if !e.current(gen) {
			// Reset already settled the executor; only the record remains.
			cerr = e.newError(err, meta, attempt)
			break
		}

		cerr = e.newError(err, meta, attempt)
		e.stats.RecordError(cerr.Code, cerr.Timestamp)
		telemetry.ExecutorErrorsTotal.WithLabelValues(e.name, string(cerr.Code)).Inc()
		span.AddEvent("attempt failed", traceAttrs(attempt, cerr))

		willRetry, delay := e.retry.Decide(attempt, err, domain.IsRecoverable)
		if ctx.Err() != nil {
			// A run past its deadline has no time left for another attempt.
			willRetry = false
		}
		ev := &ErrorEvent{Error: cerr, Attempt: attempt, WillRetry: willRetry}
		e.errorListeners.emit(ev)

		log.Warn("attempt failed",
			slog.Int("attempt", attempt),
			slog.String("code", string(cerr.Code)),
			slog.String("error", cerr.DeveloperMessage),
			slog.Bool("will_retry", willRetry && ev.WillRetry),
		)
		if !willRetry || !ev.WillRetry {
			break
		}

		telemetry.ExecutorRetriesTotal.WithLabelValues(e.name).Inc()
		e.retryListeners.emit(RetryEvent{Attempt: attempt, LastError: cerr, Delay: delay})

		if werr := retry.Wait(ctx, delay); werr != nil {
			kind := domain.ErrCancelled
			if errors.Is(werr, context.DeadlineExceeded) {
				kind = domain.ErrTimeout
			}
			cerr = e.newError(fmt.Errorf("%w during backoff after attempt %d: %w", kind, attempt, werr), meta, attempt)
			if e.current(gen) {
				e.stats.RecordError(cerr.Code, cerr.Timestamp)
				telemetry.ExecutorErrorsTotal.WithLabelValues(e.name, string(cerr.Code)).Inc()
				e.errorListeners.emit(&ErrorEvent{Error: cerr, Attempt: attempt})
			}
			log.Info("retry cancelled", slog.Int("attempt", attempt))
			break
		}
	}

	if cerr == nil && !e.current(gen) {
		cerr = e.newError(fmt.Errorf("%w: executor reset", domain.ErrCancelled), meta, attempt)
	}

	end := e.now()
	elapsed := end.Sub(meta.StartedAt)
	telemetry.ExecutorDurationSeconds.WithLabelValues(e.name).Observe(elapsed.Seconds())

	if cerr == nil {
		meta.Finish(end, domain.StateSuccess, result, nil)
		if e.settleSuccess(gen, meta.ActionID) {
			telemetry.ExecutorOutcomes.WithLabelValues(e.name, string(domain.StateSuccess)).Inc()
			log.Info("operation completed",
				slog.Int("attempts", attempt),
				slog.Int64("duration_ms", elapsed.Milliseconds()),
			)
			e.successListeners.emit(SuccessEvent{
				OperationID: meta.ID,
				ActionID:    meta.ActionID,
				Duration:    elapsed,
				Attempts:    attempt,
				Result:      result,
			})
		}
		return meta
	}

	meta.Finish(end, domain.StateError, nil, cerr)
	span.RecordError(cerr.Err)
	span.SetStatus(codes.Error, string(cerr.Code))
	if e.settleFailure(gen, meta.ActionID, cerr) {
		telemetry.ExecutorOutcomes.WithLabelValues(e.name, string(domain.StateError)).Inc()
		log.Error("operation failed",
			slog.Int("attempts", attempt),
			slog.String("code", string(cerr.Code)),
			slog.String("error", cerr.DeveloperMessage),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
		)
	}
	return meta
}

func (e *Executor) settleSuccess(gen uint64, actionID string) bool {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return false
	}
	e.progress = 100
	_ = e.machine.Event(context.Background(), eventSucceed)
	e.cancel = nil
	e.scheduleAutoResetLocked(gen)
	e.mu.Unlock()

	e.stats.RecordSuccess()
	if e.queue != nil && actionID != "" {
		e.queue.UpdateActionProgress(actionID, 100)
		e.queue.UpdateActionState(actionID, domain.StateSuccess, "")
	}
	e.stateListeners.emit(StateChange{From: domain.StateLoading, To: domain.StateSuccess})
	return true
}

func (e *Executor) settleFailure(gen uint64, actionID string, cerr *domain.ComponentError) bool {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return false
	}
	e.lastErr = cerr
	_ = e.machine.Event(context.Background(), eventFail)
	e.cancel = nil
	if e.autoResetOnError {
		e.scheduleAutoResetLocked(gen)
	}
	e.mu.Unlock()

	if e.queue != nil && actionID != "" {
		e.queue.UpdateActionState(actionID, domain.StateError, cerr.UserMessage)
	}
	e.stateListeners.emit(StateChange{From: domain.StateLoading, To: domain.StateError})
	return true
}

// progressSink clamps reports to [0,100] and drops regressions.
func (e *Executor) progressSink(gen uint64, actionID string, log *slog.Logger) domain.ProgressFunc {
	return func(p int) {
		p = domain.ClampProgress(p)
		e.mu.Lock()
		if e.gen != gen {
			e.mu.Unlock()
			return
		}
		if p < e.progress {
			cur := e.progress
			e.mu.Unlock()
			log.Debug("progress regression dropped", slog.Int("reported", p), slog.Int("current", cur))
			return
		}
		e.progress = p
		e.mu.Unlock()

		if e.queue != nil && actionID != "" {
			e.queue.UpdateActionProgress(actionID, p)
		}
	}
}

func (e *Executor) restartProgress(gen uint64, actionID string) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	e.progress = 0
	e.mu.Unlock()

	if e.queue != nil && actionID != "" {
		e.queue.UpdateActionProgress(actionID, 0)
	}
}

func (e *Executor) newError(err error, meta domain.OperationMetadata, attempt int) *domain.ComponentError {
	c := map[string]any{"attempt": attempt}
	if meta.ActionID != "" {
		c["action_id"] = meta.ActionID
	}
	return domain.NewComponentError(err, e.name, meta.ID, c)
}

// invoke runs op and turns a panic into an error.
func invoke(ctx context.Context, op domain.Operation, progress domain.ProgressFunc) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return op(ctx, progress)
}

func traceAttrs(attempt int, cerr *domain.ComponentError) trace.EventOption {
	return trace.WithAttributes(
		attribute.Int("attempt", attempt),
		attribute.String("error.code", string(cerr.Code)),
		attribute.Bool("error.recoverable", cerr.Recoverable),
	)
}
