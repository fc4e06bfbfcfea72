package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ComponentError is the classified, immutable record of one failure.
// Only DeveloperMessage carries raw error text; it is meant for logs.
type ComponentError struct {
	ID               string         `json:"id"`
	OperationID      string         `json:"operation_id,omitempty"`
	Err              error          `json:"-"`
	UserMessage      string         `json:"user_message"`
	DeveloperMessage string         `json:"-"`
	Code             ErrorCode      `json:"code"`
	Timestamp        time.Time      `json:"timestamp"`
	Source           string         `json:"source"`
	Context          map[string]any `json:"context,omitempty"`
	Recoverable      bool           `json:"recoverable"`
	SuggestedAction  string         `json:"suggested_action"`
}

// NewComponentError classifies err and captures it with its context.
// The context map is copied.
func NewComponentError(err error, source, operationID string, context map[string]any) *ComponentError {
	return newComponentError(err, source, operationID, context, time.Now().UTC())
}

func newComponentError(err error, source, operationID string, context map[string]any, at time.Time) *ComponentError {
	c := Classify(err)

	var ctxCopy map[string]any
	if len(context) > 0 {
		ctxCopy = make(map[string]any, len(context))
		for k, v := range context {
			ctxCopy[k] = v
		}
	}

	return &ComponentError{
		ID:               uuid.New().String(),
		OperationID:      operationID,
		Err:              err,
		UserMessage:      c.UserMessage,
		DeveloperMessage: developerMessage(err),
		Code:             c.Code,
		Timestamp:        at,
		Source:           source,
		Context:          ctxCopy,
		Recoverable:      c.Recoverable,
		SuggestedAction:  c.SuggestedAction,
	}
}

func developerMessage(err error) string {
	if err == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T: %s", err, err.Error())
}

// Error returns the user-safe message.
func (e *ComponentError) Error() string { return e.UserMessage }

// Unwrap exposes the captured cause to errors.Is/As.
func (e *ComponentError) Unwrap() error { return e.Err }
