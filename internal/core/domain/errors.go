package domain

import (
	"fmt"
	"time"
)

// ErrorKind tags a failure with its retry semantics. It is set where the
// failure is first observed (the submitter boundary or the breaker).
type ErrorKind string

const (
	KindUnknown               ErrorKind = "unknown"
	KindUserDeclined          ErrorKind = "user_declined"
	KindInsufficientResources ErrorKind = "insufficient_resources"
	KindInvalidRequest        ErrorKind = "invalid_request"
	KindTransient             ErrorKind = "transient"
	KindRateLimited           ErrorKind = "rate_limited"
	KindCircuitOpen           ErrorKind = "circuit_open"
)

// Kinds lists every kind in a stable order.
var Kinds = []ErrorKind{
	KindUnknown,
	KindUserDeclined,
	KindInsufficientResources,
	KindInvalidRequest,
	KindTransient,
	KindRateLimited,
	KindCircuitOpen,
}

// Kinder is implemented by errors that carry their own kind.
type Kinder interface {
	Kind() ErrorKind
}

// SubmitError is a backend failure tagged at the submitter boundary.
type SubmitError struct {
	ErrKind ErrorKind
	Code    int
	Err     error

	// RetryAfter is the backend's own hint, zero when absent.
	RetryAfter time.Duration
}

// NewSubmitError wraps err with kind.
func NewSubmitError(kind ErrorKind, err error) *SubmitError {
	return &SubmitError{ErrKind: kind, Err: err}
}

func (e *SubmitError) Error() string {
	if e.Err == nil {
		return string(e.ErrKind)
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d): %v", e.ErrKind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.ErrKind, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Kind implements Kinder.
func (e *SubmitError) Kind() ErrorKind { return e.ErrKind }
