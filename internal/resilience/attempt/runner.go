// Package attempt runs a single executor call with panic recovery, an
// optional per-attempt timeout and an optional guard such as a circuit
// breaker.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/txguard/internal/core/domain"
)

// ErrTimeout matches attempts abandoned after Runner.Timeout.
var ErrTimeout = errors.New("attempt timed out")

// Guard wraps a call, possibly rejecting it. *breaker.Breaker implements it.
type Guard interface {
	Execute(ctx context.Context, fn domain.Executor) (any, error)
}

// Runner executes one attempt.
type Runner struct {
	Guard   Guard
	Timeout time.Duration // zero disables the per-attempt timeout
}

// Attempt is the outcome of Runner.Start.
type Attempt struct {
	Value any
	Err   error

	// Done is closed once the executor has returned. After a timeout the
	// executor may still be running when Start returns.
	Done <-chan struct{}
}

// Run executes exec once through the guard. After a timeout it returns
// without waiting for the executor.
func (r Runner) Run(ctx context.Context, exec domain.Executor) (any, error) {
	a := r.Start(ctx, exec)
	return a.Value, a.Err
}

// Start executes exec once through the guard and reports when the executor
// has actually returned. Callers that must never overlap two calls of the
// same operation wait on Done before the next attempt.
func (r Runner) Start(ctx context.Context, exec domain.Executor) Attempt {
	done := make(chan struct{})
	var (
		once    sync.Once
		invoked atomic.Bool
	)
	finish := func() { once.Do(func() { close(done) }) }

	call := func(ctx context.Context) (any, error) {
		invoked.Store(true)
		return r.timed(ctx, exec, finish)
	}

	var (
		v   any
		err error
	)
	if r.Guard != nil {
		v, err = r.Guard.Execute(ctx, call)
	} else {
		v, err = call(ctx)
	}

	// Rejected by the guard: exec never ran.
	if !invoked.Load() {
		finish()
	}
	return Attempt{Value: v, Err: err, Done: done}
}

type result struct {
	value any
	err   error
}

func (r Runner) timed(ctx context.Context, exec domain.Executor, finish func()) (any, error) {
	if r.Timeout <= 0 {
		defer finish()
		return safeCall(ctx, exec)
	}

	tctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	// Buffered so an abandoned executor never blocks on send.
	ch := make(chan result, 1)
	go func() {
		defer finish()
		v, err := safeCall(tctx, exec)
		ch <- result{value: v, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, r.timeoutError()
		}
		return res.value, res.err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, r.timeoutError()
	}
}

func (r Runner) timeoutError() error {
	return domain.NewSubmitError(domain.KindTransient, fmt.Errorf("%w after %s", ErrTimeout, r.Timeout))
}

func safeCall(ctx context.Context, exec domain.Executor) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v = nil
			err = domain.NewSubmitError(domain.KindUnknown, fmt.Errorf("executor panicked: %v", rec))
		}
	}()
	return exec(ctx)
}
