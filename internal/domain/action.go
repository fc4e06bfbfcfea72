package domain

import (
	"context"
	"time"
)

// ActionState represents the states a tracked action can be in.
type ActionState string

const (
	StateIdle    ActionState = "IDLE"
	StateLoading ActionState = "LOADING"
	StateSuccess ActionState = "SUCCESS"
	StateError   ActionState = "ERROR"
)

// IsTerminal returns true if no further automatic transition is possible.
func (s ActionState) IsTerminal() bool {
	return s == StateSuccess || s == StateError
}

// ProgressFunc receives completion percentages from a running operation.
type ProgressFunc func(percent int)

// Operation is a unit of asynchronous work. progress may be called any number
// of times; implementations should check ctx between steps.
type Operation func(ctx context.Context, progress ProgressFunc) (any, error)

// ClampProgress bounds a percentage to [0,100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ActionMetadata is one tracked unit of work in the action queue.
type ActionMetadata struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	State        ActionState `json:"state"`
	Progress     int         `json:"progress"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// Duration returns how long the action ran, or has been running as of now.
func (a ActionMetadata) Duration(now time.Time) time.Duration {
	if a.StartedAt == nil {
		return 0
	}
	if a.EndedAt != nil {
		return a.EndedAt.Sub(*a.StartedAt)
	}
	return now.Sub(*a.StartedAt)
}

// Clone returns a deep copy so callers never share timestamps with the registry.
func (a ActionMetadata) Clone() ActionMetadata {
	c := a
	if a.StartedAt != nil {
		t := *a.StartedAt
		c.StartedAt = &t
	}
	if a.EndedAt != nil {
		t := *a.EndedAt
		c.EndedAt = &t
	}
	return c
}

// OperationMetadata records one operation execution from start to finish.
type OperationMetadata struct {
	ID         string          `json:"id"`
	ActionID   string          `json:"action_id,omitempty"`
	Name       string          `json:"name"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
	Attempts   int             `json:"attempts"`
	Succeeded  bool            `json:"succeeded"`
	FinalState ActionState     `json:"final_state"`
	Error      *ComponentError `json:"error,omitempty"`
	Result     any             `json:"result,omitempty"`
}

// Duration is zero until the operation is finished.
func (o OperationMetadata) Duration() time.Duration {
	if o.EndedAt == nil {
		return 0
	}
	return o.EndedAt.Sub(o.StartedAt)
}

// IsFinished reports whether Finish has been called.
func (o OperationMetadata) IsFinished() bool { return o.EndedAt != nil }

// Finish finalizes the record. Only the first call has any effect.
func (o *OperationMetadata) Finish(at time.Time, state ActionState, result any, cerr *ComponentError) {
	if o.EndedAt != nil {
		return
	}
	o.EndedAt = &at
	o.FinalState = state
	o.Succeeded = state == StateSuccess
	o.Result = result
	o.Error = cerr
}
