package queue

import (
	"log/slog"
	"time"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/resilience/attempt"
	"github.com/vietddude/txguard/internal/resilience/retry"
)

// Config holds queue settings.
type Config struct {
	Name string

	Policy             retry.Policy
	DefaultMaxAttempts int           // used when Enqueue gets maxAttempts <= 0 (default 3)
	Spacing            time.Duration // minimum gap between distinct operations
	AttemptTimeout     time.Duration // zero disables the per-attempt timeout

	// Guard wraps every attempt, typically a *breaker.Breaker.
	Guard attempt.Guard

	Scheduler Scheduler // defaults to a timer goroutine per delay
	Observer  Observer
	Logger    *slog.Logger
	Now       func() time.Time
}

// Observer receives a snapshot after every status change. It is called on
// queue goroutines and must not call back into the queue synchronously.
type Observer interface {
	Observe(snap domain.Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(snap domain.Snapshot)

func (f ObserverFunc) Observe(snap domain.Snapshot) { f(snap) }

// Cancellation describes a cancelled operation.
type Cancellation struct {
	ID       string
	Attempts int

	// InFlight is true when the operation had been submitted when it was
	// cancelled. Result and Err then carry the outcome of that attempt.
	InFlight bool
	Result   any
	Err      error
}

// Option configures a single enqueued operation.
type Option func(*entry)

// WithOnSuccess sets the callback fired once when the operation is confirmed.
func WithOnSuccess(fn func(id string, result any)) Option {
	return func(e *entry) { e.onSuccess = fn }
}

// WithOnFailure sets the callback fired once when the operation fails terminally.
func WithOnFailure(fn func(id string, err error)) Option {
	return func(e *entry) { e.onFailure = fn }
}

// WithOnCancel sets the callback fired once when the operation is cancelled.
func WithOnCancel(fn func(c Cancellation)) Option {
	return func(e *entry) { e.onCancel = fn }
}

// WithLabel attaches a free-form label carried into snapshots.
func WithLabel(label string) Option {
	return func(e *entry) { e.op.Label = label }
}

// WithID sets the operation ID instead of generating one.
func WithID(id string) Option {
	return func(e *entry) {
		if id != "" {
			e.op.ID = id
		}
	}
}
