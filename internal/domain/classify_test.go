package domain_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
)

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := map[string]struct {
		err            error
		expKind        domain.ErrorKind
		expCode        domain.ErrorCode
		expRecoverable bool
	}{
		"Context cancellation is cancelled and not recoverable": {
			err:            context.Canceled,
			expKind:        domain.KindCancelled,
			expCode:        domain.CodeOperationCancelled,
			expRecoverable: false,
		},
		"Wrapped cancellation sentinel is cancelled": {
			err:            fmt.Errorf("stop: %w", domain.ErrCancelled),
			expKind:        domain.KindCancelled,
			expCode:        domain.CodeOperationCancelled,
			expRecoverable: false,
		},
		"Deadline exceeded is a recoverable timeout": {
			err:            context.DeadlineExceeded,
			expKind:        domain.KindTimeout,
			expCode:        domain.CodeOperationTimeout,
			expRecoverable: true,
		},
		"A net.Error timeout is a timeout": {
			err:            timeoutNetErr{},
			expKind:        domain.KindTimeout,
			expCode:        domain.CodeOperationTimeout,
			expRecoverable: true,
		},
		"Network sentinel is a recoverable network error": {
			err:            fmt.Errorf("fetch: %w", domain.ErrNetwork),
			expKind:        domain.KindNetwork,
			expCode:        domain.CodeNetworkError,
			expRecoverable: true,
		},
		"Transport errors are network errors": {
			err:            &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			expKind:        domain.KindNetwork,
			expCode:        domain.CodeNetworkError,
			expRecoverable: true,
		},
		"URL errors are network errors": {
			err:            &url.Error{Op: "Get", URL: "http://x", Err: errors.New("boom")},
			expKind:        domain.KindNetwork,
			expCode:        domain.CodeNetworkError,
			expRecoverable: true,
		},
		"URL errors wrapping cancellation stay cancelled": {
			err:            &url.Error{Op: "Get", URL: "http://x", Err: context.Canceled},
			expKind:        domain.KindCancelled,
			expCode:        domain.CodeOperationCancelled,
			expRecoverable: false,
		},
		"Unexpected EOF is a network error": {
			err:            io.ErrUnexpectedEOF,
			expKind:        domain.KindNetwork,
			expCode:        domain.CodeNetworkError,
			expRecoverable: true,
		},
		"Missing argument maps to invalid argument": {
			err:            domain.ErrArgumentMissing,
			expKind:        domain.KindArgumentMissing,
			expCode:        domain.CodeInvalidArgument,
			expRecoverable: false,
		},
		"Invalid argument": {
			err:            fmt.Errorf("rate: %w", domain.ErrInvalidArgument),
			expKind:        domain.KindInvalidArgument,
			expCode:        domain.CodeInvalidArgument,
			expRecoverable: false,
		},
		"Invalid state": {
			err:            domain.ErrInvalidState,
			expKind:        domain.KindInvalidState,
			expCode:        domain.CodeInvalidState,
			expRecoverable: false,
		},
		"Unauthorized": {
			err:            domain.ErrUnauthorized,
			expKind:        domain.KindUnauthorized,
			expCode:        domain.CodeUnauthorized,
			expRecoverable: false,
		},
		"Not implemented": {
			err:            domain.ErrNotImplemented,
			expKind:        domain.KindNotImplemented,
			expCode:        domain.CodeNotImplemented,
			expRecoverable: false,
		},
		"Not supported": {
			err:            &domain.UnknownOperationError{Name: "x"},
			expKind:        domain.KindNotSupported,
			expCode:        domain.CodeNotSupported,
			expRecoverable: false,
		},
		"Anything else is unknown and recoverable": {
			err:            errors.New("something odd"),
			expKind:        domain.KindUnknown,
			expCode:        domain.CodeUnknownError,
			expRecoverable: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			c := domain.Classify(test.err)
			assert.Equal(t, test.expKind, c.Kind)
			assert.Equal(t, test.expCode, c.Code)
			assert.Equal(t, test.expRecoverable, c.Recoverable)
			assert.Equal(t, test.expRecoverable, domain.IsRecoverable(test.err))
			assert.NotEmpty(t, c.UserMessage)
			assert.NotEmpty(t, c.SuggestedAction)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	err := fmt.Errorf("upstream: %w", domain.ErrNetwork)
	first := domain.Classify(err)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, domain.Classify(err))
	}
}

func TestCancellationAndTimeoutHaveDistinctMessages(t *testing.T) {
	cancelled := domain.Classify(context.Canceled)
	timeout := domain.Classify(context.DeadlineExceeded)
	assert.NotEqual(t, cancelled.UserMessage, timeout.UserMessage)
	assert.NotEqual(t, cancelled.Code, timeout.Code)
}

func TestNewComponentError(t *testing.T) {
	cause := fmt.Errorf("dial 10.1.2.3: secret-token-123: %w", domain.ErrNetwork)
	ctx := map[string]any{"attempt": 2}

	cerr := domain.NewComponentError(cause, "fetch-button", "op-1", ctx)
	ctx["attempt"] = 99

	assert.NotEmpty(t, cerr.ID)
	assert.Equal(t, "op-1", cerr.OperationID)
	assert.Equal(t, "fetch-button", cerr.Source)
	assert.Equal(t, domain.CodeNetworkError, cerr.Code)
	assert.True(t, cerr.Recoverable)
	assert.Equal(t, 2, cerr.Context["attempt"], "context map must be copied")
	assert.False(t, cerr.Timestamp.IsZero())

	assert.NotContains(t, cerr.UserMessage, "secret-token-123")
	assert.NotContains(t, cerr.SuggestedAction, "secret-token-123")
	assert.NotContains(t, cerr.Error(), "secret-token-123")
	assert.Contains(t, cerr.DeveloperMessage, "secret-token-123")
	assert.Contains(t, cerr.DeveloperMessage, "*fmt.wrapError")

	assert.True(t, errors.Is(cerr, domain.ErrNetwork), "cause must be reachable through Unwrap")
}

func TestNewComponentErrorIgnoresContextForClassification(t *testing.T) {
	a := domain.NewComponentError(domain.ErrInvalidState, "src", "", nil)
	b := domain.NewComponentError(domain.ErrInvalidState, "other", "op", map[string]any{"k": "v"})

	assert.Equal(t, a.Code, b.Code)
	assert.Equal(t, a.Recoverable, b.Recoverable)
	assert.Equal(t, a.UserMessage, b.UserMessage)
	assert.Equal(t, a.SuggestedAction, b.SuggestedAction)
	assert.NotEqual(t, a.ID, b.ID)
}
