package domain

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"
)

// ErrorCode is the closed taxonomy of classified failures.
type ErrorCode string

const (
	CodeOperationCancelled ErrorCode = "OPERATION_CANCELLED"
	CodeOperationTimeout   ErrorCode = "OPERATION_TIMEOUT"
	CodeNetworkError       ErrorCode = "NETWORK_ERROR"
	CodeInvalidArgument    ErrorCode = "INVALID_ARGUMENT"
	CodeInvalidState       ErrorCode = "INVALID_STATE"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeNotImplemented     ErrorCode = "NOT_IMPLEMENTED"
	CodeNotSupported       ErrorCode = "NOT_SUPPORTED"
	CodeUnknownError       ErrorCode = "UNKNOWN_ERROR"
)

// ErrorKind identifies which rule matched a failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindCancelled
	KindTimeout
	KindNetwork
	KindArgumentMissing
	KindInvalidArgument
	KindInvalidState
	KindUnauthorized
	KindNotImplemented
	KindNotSupported
)

var kindNames = map[ErrorKind]string{
	KindUnknown:         "unknown",
	KindCancelled:       "cancelled",
	KindTimeout:         "timeout",
	KindNetwork:         "network",
	KindArgumentMissing: "argument_missing",
	KindInvalidArgument: "invalid_argument",
	KindInvalidState:    "invalid_state",
	KindUnauthorized:    "unauthorized",
	KindNotImplemented:  "not_implemented",
	KindNotSupported:    "not_supported",
}

func (k ErrorKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// kindRule is evaluated in order; the first match wins.
type kindRule struct {
	kind  ErrorKind
	match func(error) bool
}

var kindRules = []kindRule{
	{KindCancelled, isAny(context.Canceled, ErrCancelled)},
	{KindTimeout, func(err error) bool {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
			return true
		}
		var ne net.Error
		return errors.As(err, &ne) && ne.Timeout()
	}},
	{KindNetwork, func(err error) bool {
		if errors.Is(err, ErrNetwork) || errors.Is(err, io.ErrUnexpectedEOF) ||
			errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
			return true
		}
		var opErr *net.OpError
		var dnsErr *net.DNSError
		var urlErr *url.Error
		return errors.As(err, &opErr) || errors.As(err, &dnsErr) || errors.As(err, &urlErr)
	}},
	{KindArgumentMissing, isAny(ErrArgumentMissing)},
	{KindInvalidArgument, isAny(ErrInvalidArgument)},
	{KindInvalidState, isAny(ErrInvalidState)},
	{KindUnauthorized, isAny(ErrUnauthorized)},
	{KindNotImplemented, isAny(ErrNotImplemented)},
	{KindNotSupported, isAny(ErrNotSupported)},
}

func isAny(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
}

type kindInfo struct {
	code        ErrorCode
	recoverable bool
}

// Cancellation is never recoverable.
var kindTable = map[ErrorKind]kindInfo{
	KindCancelled:       {CodeOperationCancelled, false},
	KindTimeout:         {CodeOperationTimeout, true},
	KindNetwork:         {CodeNetworkError, true},
	KindArgumentMissing: {CodeInvalidArgument, false},
	KindInvalidArgument: {CodeInvalidArgument, false},
	KindInvalidState:    {CodeInvalidState, false},
	KindUnauthorized:    {CodeUnauthorized, false},
	KindNotImplemented:  {CodeNotImplemented, false},
	KindNotSupported:    {CodeNotSupported, false},
	KindUnknown:         {CodeUnknownError, true},
}

type codeText struct {
	userMessage     string
	suggestedAction string
}

var codeTable = map[ErrorCode]codeText{
	CodeOperationCancelled: {
		"The operation was cancelled.",
		"Start the operation again if you still need it.",
	},
	CodeOperationTimeout: {
		"The operation took too long to complete.",
		"Wait a moment and try again.",
	},
	CodeNetworkError: {
		"A network problem prevented the operation from completing.",
		"Check your connection and try again.",
	},
	CodeInvalidArgument: {
		"The request contained invalid input.",
		"Review the values you entered and try again.",
	},
	CodeInvalidState: {
		"The operation cannot be performed right now.",
		"Refresh and try again.",
	},
	CodeUnauthorized: {
		"You are not allowed to perform this operation.",
		"Sign in with an account that has access.",
	},
	CodeNotImplemented: {
		"This feature is not available yet.",
		"Use a different option or check back later.",
	},
	CodeNotSupported: {
		"This operation is not supported.",
		"Use a supported option instead.",
	},
	CodeUnknownError: {
		"An unexpected error occurred.",
		"Try again. If the problem persists, contact support.",
	},
}

// Classification is the deterministic result of classifying an error.
type Classification struct {
	Kind            ErrorKind
	Code            ErrorCode
	Recoverable     bool
	UserMessage     string
	SuggestedAction string
}

// Classify maps an error to its kind, code, recoverability and user texts.
// It is a pure function of the error's kind.
func Classify(err error) Classification {
	kind := KindUnknown
	if err != nil {
		for _, r := range kindRules {
			if r.match(err) {
				kind = r.kind
				break
			}
		}
	}
	info := kindTable[kind]
	text := codeTable[info.code]
	return Classification{
		Kind:            kind,
		Code:            info.code,
		Recoverable:     info.recoverable,
		UserMessage:     text.userMessage,
		SuggestedAction: text.suggestedAction,
	}
}

// IsRecoverable is the default retry predicate.
func IsRecoverable(err error) bool {
	return Classify(err).Recoverable
}

// UserMessageFor returns the end-user text for a code.
func UserMessageFor(code ErrorCode) string {
	if t, ok := codeTable[code]; ok {
		return t.userMessage
	}
	return codeTable[CodeUnknownError].userMessage
}
