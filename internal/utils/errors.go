package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures crossing a stage boundary.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConfiguration
	KindTransport
	KindTimeout
	KindCancelled
	KindMalformedResponse
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindMalformedResponse:
		return "malformed_response"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// AppError wraps an operation, human-facing message, and underlying error.
// Msg must already be bounded; callers pass model text through Preview first.
type AppError struct {
	Kind       ErrorKind
	Op         string
	Msg        string
	StatusCode int
	Err        error
}

func (e *AppError) Error() string {
	msg := e.Msg
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a bounded retry may succeed.
func (e *AppError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindMalformedResponse:
		return true
	case KindTransport:
		return e.StatusCode == 0 || e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
	default:
		return false
	}
}

// NewAppError constructs an AppError with no kind.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// NewKindError constructs a classified AppError.
func NewKindError(kind ErrorKind, op, msg string, err error) error {
	return &AppError{Kind: kind, Op: op, Msg: msg, Err: err}
}

// NewTransportError records a failed exchange with the upstream status code only.
func NewTransportError(op string, status int, err error) error {
	msg := "request failed"
	if status != 0 {
		msg = "unexpected status"
	}
	return &AppError{Kind: KindTransport, Op: op, Msg: msg, StatusCode: status, Err: err}
}

// KindOf returns the kind of the first AppError in the chain.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err carries a retryable AppError.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable()
	}
	return false
}
