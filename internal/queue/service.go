package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
	"github.com/rhoffman0214/BobsComponents/pkg/telemetry"
)

const (
	DefaultMaxConcurrent = 50
	DefaultRetention     = 5 * time.Second
)

// ChangeType names the mutation a Change reports.
type ChangeType string

const (
	ChangeRegistered ChangeType = "registered"
	ChangeState      ChangeType = "state"
	ChangeProgress   ChangeType = "progress"
	ChangeCleanup    ChangeType = "cleanup"
	ChangeCleared    ChangeType = "cleared"
)

// Change is an advisory notification. Listeners should re-read Actions()
// rather than apply it as a diff.
type Change struct {
	Type      ChangeType `json:"type"`
	ActionIDs []string   `json:"action_ids,omitempty"`
	At        time.Time  `json:"at"`
}

type listener struct {
	id     uint64
	fn     func(Change)
	active atomic.Bool
}

// Service is the bounded registry of in-flight and recently completed
// actions. All registry reads and writes go through mu, which makes the
// admission check and the insert one atomic step.
type Service struct {
	maxConcurrent int
	retention     time.Duration
	now           func() time.Time
	logger        *slog.Logger

	mu        sync.Mutex
	actions   []*domain.ActionMetadata
	byID      map[string]*domain.ActionMetadata
	listeners []*listener
	nextID    uint64
	pending   []Change

	// notifyMu is held by whichever goroutine is currently delivering
	// pending changes.
	notifyMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

func WithMaxConcurrent(n int) Option        { return func(s *Service) { s.maxConcurrent = n } }
func WithRetention(d time.Duration) Option  { return func(s *Service) { s.retention = d } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithLogger(l *slog.Logger) Option      { return func(s *Service) { s.logger = l } }

// NewService returns an empty queue with a ceiling of 50 running actions and
// a 5 second retention window for completed ones.
func NewService(opts ...Option) *Service {
	s := &Service{
		maxConcurrent: DefaultMaxConcurrent,
		retention:     DefaultRetention,
		now:           time.Now,
		logger:        slog.Default(),
		byID:          make(map[string]*domain.ActionMetadata),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxConcurrent < 1 {
		s.maxConcurrent = 1
	}
	return s
}

// RegisterAction admits a new LOADING action, or returns false when the
// ceiling is reached. A denial changes nothing and notifies nobody.
func (s *Service) RegisterAction(name string) (domain.ActionMetadata, bool) {
	s.mu.Lock()
	running := s.runningLocked()
	if running >= s.maxConcurrent {
		s.mu.Unlock()
		telemetry.QueueActionsDenied.Inc()
		s.logger.Warn("action denied, queue at capacity",
			slog.String("name", name),
			slog.Int("running", running),
			slog.Int("max_concurrent", s.maxConcurrent),
		)
		return domain.ActionMetadata{}, false
	}

	now := s.now()
	a := &domain.ActionMetadata{
		ID:        uuid.New().String(),
		Name:      name,
		State:     domain.StateLoading,
		StartedAt: &now,
	}
	s.actions = append(s.actions, a)
	s.byID[a.ID] = a
	out := a.Clone()
	s.enqueueLocked(ChangeRegistered, a.ID)
	telemetry.QueueActionsRunning.Set(float64(running + 1))
	s.mu.Unlock()

	telemetry.QueueActionsAdmitted.Inc()
	s.logger.Debug("action registered", slog.String("action_id", out.ID), slog.String("name", name))
	s.flush()
	return out, true
}

// UpdateActionState moves an action to state. Unknown ids are ignored.
// Moving a finished action back into LOADING is subject to the ceiling.
func (s *Service) UpdateActionState(id string, state domain.ActionState, errorMessage string) {
	s.mu.Lock()
	a, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if state == domain.StateLoading && a.State != domain.StateLoading &&
		s.runningLocked() >= s.maxConcurrent {
		s.mu.Unlock()
		s.logger.Warn("state change ignored, queue at capacity", slog.String("action_id", id))
		return
	}

	a.State = state
	switch state {
	case domain.StateSuccess:
		now := s.now()
		a.EndedAt = &now
		a.ErrorMessage = ""
	case domain.StateError:
		now := s.now()
		a.EndedAt = &now
		a.ErrorMessage = errorMessage
	default:
		a.EndedAt = nil
		a.ErrorMessage = ""
	}
	s.enqueueLocked(ChangeState, id)
	telemetry.QueueActionsRunning.Set(float64(s.runningLocked()))
	s.mu.Unlock()

	s.flush()
}

// UpdateActionProgress stores progress clamped to [0,100]. Unknown ids are
// ignored.
func (s *Service) UpdateActionProgress(id string, progress int) {
	s.mu.Lock()
	a, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	a.Progress = domain.ClampProgress(progress)
	s.enqueueLocked(ChangeProgress, id)
	s.mu.Unlock()

	s.flush()
}

// CleanupCompletedActions removes finished actions that ended more than the
// retention window ago and returns how many were removed. Nothing is
// notified when nothing was removed.
func (s *Service) CleanupCompletedActions() int {
	s.mu.Lock()
	now := s.now()
	var removed []string
	kept := s.actions[:0]
	for _, a := range s.actions {
		if a.State.IsTerminal() && a.EndedAt != nil && now.Sub(*a.EndedAt) > s.retention {
			removed = append(removed, a.ID)
			delete(s.byID, a.ID)
			continue
		}
		kept = append(kept, a)
	}
	for i := len(kept); i < len(s.actions); i++ {
		s.actions[i] = nil
	}
	s.actions = kept
	if len(removed) == 0 {
		s.mu.Unlock()
		return 0
	}
	s.enqueueLocked(ChangeCleanup, removed...)
	s.mu.Unlock()

	telemetry.QueueCleanupRemoved.Add(float64(len(removed)))
	s.logger.Debug("completed actions removed", slog.Int("removed", len(removed)))
	s.flush()
	return len(removed)
}

// ClearAll empties the registry and always notifies.
func (s *Service) ClearAll() {
	s.mu.Lock()
	s.actions = nil
	s.byID = make(map[string]*domain.ActionMetadata)
	s.enqueueLocked(ChangeCleared)
	telemetry.QueueActionsRunning.Set(0)
	s.mu.Unlock()

	s.flush()
}

// Actions returns a snapshot copy of the registry in registration order.
func (s *Service) Actions() []domain.ActionMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ActionMetadata, len(s.actions))
	for i, a := range s.actions {
		out[i] = a.Clone()
	}
	return out
}

// Get returns a copy of one action.
func (s *Service) Get(id string) (domain.ActionMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return domain.ActionMetadata{}, &domain.ActionNotFoundError{ActionID: id}
	}
	return a.Clone(), nil
}

// RunningCount returns the number of actions in LOADING.
func (s *Service) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

// IsAtLimit reports whether another registration would be denied.
func (s *Service) IsAtLimit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked() >= s.maxConcurrent
}

func (s *Service) MaxConcurrent() int { return s.maxConcurrent }

// Subscribe registers fn for every subsequent change and returns the function
// that removes it. The returned function is safe to call more than once.
func (s *Service) Subscribe(fn func(Change)) (unsubscribe func()) {
	l := &listener{fn: fn}
	l.active.Store(true)

	s.mu.Lock()
	s.nextID++
	l.id = s.nextID
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	return func() {
		if !l.active.Swap(false) {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, other := range s.listeners {
			if other.id == l.id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// SubscribeContext is Subscribe scoped to ctx: the listener is removed once
// ctx is done.
func (s *Service) SubscribeContext(ctx context.Context, fn func(Change)) {
	unsubscribe := s.Subscribe(fn)
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
}

func (s *Service) runningLocked() int {
	n := 0
	for _, a := range s.actions {
		if a.State == domain.StateLoading {
			n++
		}
	}
	return n
}

func (s *Service) enqueueLocked(t ChangeType, ids ...string) {
	s.pending = append(s.pending, Change{Type: t, ActionIDs: ids, At: s.now()})
}

// flush delivers pending changes in the order they were enqueued. Only one
// goroutine delivers at a time; a goroutine that finds delivery in progress
// leaves its change for the active deliverer. Listeners run without mu held,
// so they may call back into the Service.
func (s *Service) flush() {
	for {
		if !s.notifyMu.TryLock() {
			return
		}
		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			batch := s.pending
			s.pending = nil
			ls := make([]*listener, len(s.listeners))
			copy(ls, s.listeners)
			s.mu.Unlock()

			for _, c := range batch {
				for _, l := range ls {
					if l.active.Load() {
						s.deliver(l, c)
					}
				}
			}
		}
		s.notifyMu.Unlock()

		// A change enqueued between the last empty check and Unlock would
		// otherwise wait for the next mutation.
		s.mu.Lock()
		more := len(s.pending) > 0
		s.mu.Unlock()
		if !more {
			return
		}
	}
}

func (s *Service) deliver(l *listener, c Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("queue listener panicked",
				slog.String("change", string(c.Type)),
				slog.Any("panic", r),
			)
		}
	}()
	l.fn(c)
}
