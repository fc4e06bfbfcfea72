package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors marking the kind of an operation failure. Operations wrap
// them with %w so Classify can resolve a code.
var (
	ErrCancelled       = errors.New("operation cancelled")
	ErrTimeout         = errors.New("operation timed out")
	ErrNetwork         = errors.New("network failure")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrArgumentMissing = errors.New("required argument missing")
	ErrInvalidState    = errors.New("invalid state")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotImplemented  = errors.New("not implemented")
	ErrNotSupported    = errors.New("not supported")
)

// ActionNotFoundError is returned when an action ID does not exist in the queue.
type ActionNotFoundError struct {
	ActionID string
}

func (e *ActionNotFoundError) Error() string {
	return fmt.Sprintf("action not found: %s", e.ActionID)
}

// UnknownOperationError is returned when no operation is registered under a name.
type UnknownOperationError struct {
	Name string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("no operation registered as %q", e.Name)
}

// Is lets callers match with errors.Is(err, ErrNotSupported).
func (e *UnknownOperationError) Is(target error) bool { return target == ErrNotSupported }

// RateLimitExceededError is returned when a client exceeds its submission rate.
type RateLimitExceededError struct {
	Key   string
	Limit int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q: limit is %d", e.Key, e.Limit)
}
