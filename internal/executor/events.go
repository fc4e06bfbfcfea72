package executor

import (
	"sync"
	"time"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
)

// StateChange is published on every executor state transition.
type StateChange struct {
	From domain.ActionState
	To   domain.ActionState
}

// SuccessEvent is published once when an operation completes.
type SuccessEvent struct {
	OperationID string
	ActionID    string
	Duration    time.Duration
	Attempts    int
	Result      any
}

// ErrorEvent is published after every failed attempt. Listeners may set
// WillRetry to false to cancel a retry the policy scheduled; setting it to
// true when the policy refused has no effect.
type ErrorEvent struct {
	Error     *domain.ComponentError
	Attempt   int
	WillRetry bool
}

// RetryEvent is published before the executor waits out a backoff delay.
type RetryEvent struct {
	Attempt   int
	LastError *domain.ComponentError
	Delay     time.Duration
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// listeners is a subscribe/unsubscribe list. Callbacks run outside the lock.
type listeners[T any] struct {
	mu   sync.Mutex
	next uint64
	subs []subscription[T]
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	l.next++
	id := l.next
	l.subs = append(l.subs, subscription[T]{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, s := range l.subs {
			if s.id == id {
				l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	subs := make([]subscription[T], len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}
