// Package breaker implements a circuit breaker in front of a submitter.
//
// State machine:
//
//	Closed   --failureCount >= threshold-->  Open
//	Open     --openTimeout elapsed-------->  HalfOpen (one probe admitted)
//	HalfOpen --probe succeeded----------->  Closed (failureCount = 0)
//	HalfOpen --probe failed-------------->  Open (timeout clock restarts)
//
// All transitions happen under a single mutex, so a Breaker may be shared by
// any number of goroutines.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/metrics"
)

// State is the circuit state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrOpen matches every rejection returned by Execute.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned when a call is rejected without being invoked.
type OpenError struct {
	Name    string
	State   State
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	if e.State == StateHalfOpen {
		return fmt.Sprintf("circuit breaker %q is half-open: probe in flight", e.Name)
	}
	return fmt.Sprintf("circuit breaker %q is open: retry in %s", e.Name, e.RetryIn)
}

func (e *OpenError) Is(target error) bool { return target == ErrOpen }

// Kind implements domain.Kinder.
func (e *OpenError) Kind() domain.ErrorKind { return domain.KindCircuitOpen }

var errPanicked = errors.New("call panicked")

// Config holds breaker settings.
type Config struct {
	Name        string
	Threshold   int           // consecutive failures before opening (default 5)
	OpenTimeout time.Duration // time spent open before a probe (default 30s)

	// Now overrides the clock, for tests.
	Now func() time.Time

	// ShouldTrip reports whether err counts as a backend failure.
	// Nil counts every non-nil error.
	ShouldTrip func(err error) bool

	// OnStateChange is called after each transition, outside the lock.
	OnStateChange func(name string, from, to State)

	Logger *slog.Logger
}

// Snapshot is a point-in-time copy of the breaker state.
type Snapshot struct {
	Name            string        `json:"name"`
	State           State         `json:"-"`
	StateName       string        `json:"state"`
	FailureCount    int           `json:"failure_count"`
	LastFailureTime time.Time     `json:"last_failure_time"`
	Threshold       int           `json:"threshold"`
	OpenTimeout     time.Duration `json:"open_timeout"`
	ProbeInFlight   bool          `json:"probe_in_flight"`
}

// Breaker guards calls with a Closed/Open/HalfOpen state machine.
type Breaker struct {
	cfg Config
	log *slog.Logger

	mu           sync.Mutex
	state        State
	failureCount int
	lastFailure  time.Time
	probing      bool

	// generation changes on every transition; results of calls admitted in
	// an older generation are ignored.
	generation uint64
}

type transition struct {
	from, to State
}

// New creates a breaker in the Closed state.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	metrics.BreakerState.WithLabelValues(cfg.Name).Set(float64(StateClosed))

	return &Breaker{
		cfg: cfg,
		log: log.With("breaker", cfg.Name),
	}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Execute invokes fn unless the circuit rejects the call, in which case it
// returns an *OpenError without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn domain.Executor) (any, error) {
	gen, probe, tr, err := b.admit()
	b.notify(tr)
	if err != nil {
		metrics.BreakerRejections.WithLabelValues(b.cfg.Name).Inc()
		return nil, err
	}

	completed := false
	defer func() {
		if !completed {
			b.notify(b.record(gen, probe, errPanicked))
		}
	}()

	result, err := fn(ctx)
	completed = true
	b.notify(b.record(gen, probe, err))
	return result, err
}

func (b *Breaker) admit() (uint64, bool, *transition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return b.generation, false, nil, nil

	case StateOpen:
		elapsed := b.cfg.Now().Sub(b.lastFailure)
		if elapsed < b.cfg.OpenTimeout {
			return 0, false, nil, &OpenError{
				Name:    b.cfg.Name,
				State:   StateOpen,
				RetryIn: b.cfg.OpenTimeout - elapsed,
			}
		}
		tr := b.transitionTo(StateHalfOpen)
		b.probing = true
		return b.generation, true, tr, nil

	default:
		// HalfOpen: the single probe is already in flight.
		return 0, false, nil, &OpenError{Name: b.cfg.Name, State: StateHalfOpen}
	}
}

func (b *Breaker) record(gen uint64, probe bool, err error) *transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		return nil
	}

	failed := err != nil && b.trips(err)

	if probe {
		b.probing = false
		if failed {
			b.failureCount++
			b.lastFailure = b.cfg.Now()
			return b.transitionTo(StateOpen)
		}
		b.failureCount = 0
		return b.transitionTo(StateClosed)
	}

	if !failed {
		if err == nil {
			b.failureCount = 0
		}
		return nil
	}

	b.failureCount++
	b.lastFailure = b.cfg.Now()
	if b.failureCount >= b.cfg.Threshold {
		return b.transitionTo(StateOpen)
	}
	return nil
}

func (b *Breaker) trips(err error) bool {
	if errors.Is(err, ErrOpen) {
		// A nested breaker's rejection says nothing about this backend.
		return false
	}
	if b.cfg.ShouldTrip == nil {
		return true
	}
	return b.cfg.ShouldTrip(err)
}

// transitionTo changes the state. Must be called with lock held.
func (b *Breaker) transitionTo(to State) *transition {
	if b.state == to {
		return nil
	}
	from := b.state
	b.state = to
	b.generation++
	return &transition{from: from, to: to}
}

func (b *Breaker) notify(tr *transition) {
	if tr == nil {
		return
	}
	metrics.BreakerState.WithLabelValues(b.cfg.Name).Set(float64(tr.to))
	b.log.Info("Circuit breaker state changed", "from", tr.from, "to", tr.to)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, tr.from, tr.to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the complete breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:            b.cfg.Name,
		State:           b.state,
		StateName:       b.state.String(),
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailure,
		Threshold:       b.cfg.Threshold,
		OpenTimeout:     b.cfg.OpenTimeout,
		ProbeInFlight:   b.probing,
	}
}

// Reset forces the circuit closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	tr := b.transitionTo(StateClosed)
	b.failureCount = 0
	b.probing = false
	b.generation++
	b.mu.Unlock()

	b.notify(tr)
}
