// Package queue implements a single-flight FIFO operation queue with
// classified retries.
//
// At most one operation executes per Queue. A failed operation that the
// retry policy allows to retry goes back to the front of the pending list
// and the next pull waits out its backoff through the Scheduler.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/metrics"
	"github.com/vietddude/txguard/internal/resilience/attempt"
	"github.com/vietddude/txguard/internal/resilience/classify"
	"github.com/vietddude/txguard/internal/resilience/retry"
)

var (
	ErrClosed      = errors.New("queue is closed")
	ErrNilExecutor = errors.New("nil executor")
	ErrDuplicateID = errors.New("duplicate operation id")
)

// Status is a point-in-time view of the queue.
type Status struct {
	Length     int    `json:"length"`
	Processing bool   `json:"processing"`
	CurrentID  string `json:"current_id,omitempty"`
}

type entry struct {
	op   domain.Operation
	exec domain.Executor

	onSuccess func(id string, result any)
	onFailure func(id string, err error)
	onCancel  func(c Cancellation)

	cancelled bool
}

// Queue executes operations one at a time.
type Queue struct {
	cfg    Config
	log    *slog.Logger
	runner attempt.Runner
	sched  Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	ops        map[string]*entry
	pending    []*entry
	current    *entry
	processing bool
	closed     bool
	lastID     string
	lastDone   time.Time
}

// New creates a queue. The queue runs until Close.
func New(cfg Config) *Queue {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = 3
	}
	if cfg.Policy.Strategy == "" {
		cfg.Policy = retry.DefaultPolicy
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched := cfg.Scheduler
	if sched == nil {
		sched = timerScheduler{ctx: ctx}
	}

	return &Queue{
		cfg:    cfg,
		log:    log.With("queue", cfg.Name),
		runner: attempt.Runner{Guard: cfg.Guard, Timeout: cfg.AttemptTimeout},
		sched:  sched,
		ctx:    ctx,
		cancel: cancel,
		ops:    make(map[string]*entry),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.cfg.Name }

// Enqueue appends an operation and returns its ID. maxAttempts <= 0 uses
// the configured default.
func (q *Queue) Enqueue(exec domain.Executor, maxAttempts int, opts ...Option) (string, error) {
	if exec == nil {
		return "", ErrNilExecutor
	}
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.DefaultMaxAttempts
	}

	now := q.cfg.Now()
	e := &entry{
		op: domain.Operation{
			ID:          uuid.NewString(),
			Status:      domain.OperationStatusPending,
			MaxAttempts: maxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		exec: exec,
	}
	for _, opt := range opts {
		opt(e)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	if _, exists := q.ops[e.op.ID]; exists {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, e.op.ID)
	}
	q.ops[e.op.ID] = e
	q.pending = append(q.pending, e)
	snap := e.op.Snapshot(q.cfg.Name)
	depth := len(q.pending)
	start := !q.processing
	if start {
		q.processing = true
	}
	q.mu.Unlock()

	metrics.OperationsEnqueued.WithLabelValues(q.cfg.Name).Inc()
	metrics.QueueDepth.WithLabelValues(q.cfg.Name).Set(float64(depth))
	q.observe(snap)
	q.log.Debug("Operation enqueued", "id", e.op.ID, "label", e.op.Label, "max_attempts", maxAttempts)

	if start {
		q.next()
	}
	return e.op.ID, nil
}

// next starts the head of pending, or releases the slot when nothing is left.
func (q *Queue) next() {
	q.mu.Lock()
	if q.closed || len(q.pending) == 0 {
		q.processing = false
		q.mu.Unlock()
		return
	}

	e := q.pending[0]
	if wait := q.spacingLocked(e); wait > 0 {
		q.mu.Unlock()
		q.sched.After(wait, q.next)
		return
	}

	q.pending = q.pending[1:]
	q.current = e
	e.op.Attempt++
	e.op.Status = domain.OperationStatusSubmitted
	e.op.UpdatedAt = q.cfg.Now()
	snap := e.op.Snapshot(q.cfg.Name)
	depth := len(q.pending)
	q.wg.Add(1)
	q.mu.Unlock()

	metrics.QueueDepth.WithLabelValues(q.cfg.Name).Set(float64(depth))
	q.observe(snap)

	go q.execute(e)
}

// spacingLocked returns how long e must wait before it may start.
// Must be called with lock held.
func (q *Queue) spacingLocked(e *entry) time.Duration {
	if q.cfg.Spacing <= 0 || q.lastDone.IsZero() || e.op.ID == q.lastID {
		return 0
	}
	return q.cfg.Spacing - q.cfg.Now().Sub(q.lastDone)
}

func (q *Queue) execute(e *entry) {
	defer q.wg.Done()

	// The slot stays held until the executor returns, even past a timeout.
	a := q.runner.Start(q.ctx, e.exec)
	<-a.Done
	q.complete(e, a.Value, a.Err)
}

func (q *Queue) complete(e *entry, result any, err error) {
	var (
		deliver func()
		retryIn time.Duration
		retried bool
	)

	q.mu.Lock()
	now := q.cfg.Now()
	q.current = nil
	q.lastID = e.op.ID
	q.lastDone = now
	e.op.UpdatedAt = now
	if err != nil {
		e.op.LastError = err
		e.op.ErrorKind = classify.KindOf(err)
	}

	switch {
	case e.cancelled:
		e.op.Status = domain.OperationStatusCancelled
		delete(q.ops, e.op.ID)
		c := Cancellation{ID: e.op.ID, Attempts: e.op.Attempt, InFlight: true, Result: result, Err: err}
		deliver = func() { q.callback(e, func() { e.onCancel(c) }, e.onCancel != nil) }

	case err == nil:
		e.op.Status = domain.OperationStatusConfirmed
		delete(q.ops, e.op.ID)
		deliver = func() { q.callback(e, func() { e.onSuccess(e.op.ID, result) }, e.onSuccess != nil) }

	default:
		d := q.cfg.Policy.Decide(e.op.Attempt, e.op.MaxAttempts, err)
		switch {
		case d.ShouldRetry && !q.closed:
			e.op.Status = domain.OperationStatusPending
			q.pending = append([]*entry{e}, q.pending...)
			retried = true
			retryIn = d.Delay
		case d.ShouldRetry:
			// Closed while in flight: no further attempts.
			e.op.Status = domain.OperationStatusCancelled
			delete(q.ops, e.op.ID)
			c := Cancellation{ID: e.op.ID, Attempts: e.op.Attempt, InFlight: true, Err: err}
			deliver = func() { q.callback(e, func() { e.onCancel(c) }, e.onCancel != nil) }
		default:
			e.op.Status = domain.OperationStatusFailed
			delete(q.ops, e.op.ID)
			deliver = func() { q.callback(e, func() { e.onFailure(e.op.ID, err) }, e.onFailure != nil) }
		}
	}

	snap := e.op.Snapshot(q.cfg.Name)
	depth := len(q.pending)
	q.mu.Unlock()

	q.record(snap, err, retryIn, retried)
	metrics.QueueDepth.WithLabelValues(q.cfg.Name).Set(float64(depth))
	q.observe(snap)
	if deliver != nil {
		deliver()
	}

	if retried {
		q.sched.After(retryIn, q.next)
		return
	}
	q.next()
}

func (q *Queue) record(snap domain.Snapshot, err error, retryIn time.Duration, retried bool) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.OperationAttempts.WithLabelValues(q.cfg.Name, result).Inc()

	if retried {
		metrics.RetryDelay.WithLabelValues(q.cfg.Name, string(snap.ErrorKind)).Observe(retryIn.Seconds())
		q.log.Warn("Operation failed, retry scheduled",
			"id", snap.ID,
			"attempt", snap.Attempt,
			"max_attempts", snap.MaxAttempts,
			"kind", snap.ErrorKind,
			"delay", retryIn,
			"error", err,
		)
		return
	}

	metrics.OperationsTerminal.WithLabelValues(q.cfg.Name, string(snap.Status)).Inc()
	switch snap.Status {
	case domain.OperationStatusFailed:
		q.log.Error("Operation failed",
			"id", snap.ID,
			"attempt", snap.Attempt,
			"kind", snap.ErrorKind,
			"error", err,
		)
	case domain.OperationStatusCancelled:
		q.log.Info("Cancelled operation completed", "id", snap.ID, "attempt", snap.Attempt)
	default:
		q.log.Debug("Operation confirmed", "id", snap.ID, "attempt", snap.Attempt)
	}
}

// Cancel cancels a pending or in-flight operation. A pending operation is
// removed immediately. For the in-flight operation only the effects of its
// eventual result are suppressed: no retry, and the result is delivered to
// the cancel callback instead of the success or failure callback.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	e, ok := q.ops[id]
	if !ok || e.cancelled {
		q.mu.Unlock()
		return false
	}

	if e == q.current {
		e.cancelled = true
		q.mu.Unlock()
		q.log.Info("In-flight operation cancelled", "id", id)
		return true
	}

	q.removePendingLocked(e)
	snap := q.cancelLocked(e)
	depth := len(q.pending)
	q.mu.Unlock()

	metrics.QueueDepth.WithLabelValues(q.cfg.Name).Set(float64(depth))
	q.finishCancelled(e, snap)
	return true
}

// Clear cancels every pending operation and returns how many were removed.
// The in-flight operation is not affected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	snaps := make([]domain.Snapshot, len(dropped))
	for i, e := range dropped {
		snaps[i] = q.cancelLocked(e)
	}
	q.mu.Unlock()

	metrics.QueueDepth.WithLabelValues(q.cfg.Name).Set(0)
	for i, e := range dropped {
		q.finishCancelled(e, snaps[i])
	}
	if len(dropped) > 0 {
		q.log.Info("Queue cleared", "removed", len(dropped))
	}
	return len(dropped)
}

func (q *Queue) removePendingLocked(e *entry) {
	for i, p := range q.pending {
		if p == e {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// cancelLocked marks a pending entry cancelled. Must be called with lock held.
func (q *Queue) cancelLocked(e *entry) domain.Snapshot {
	e.cancelled = true
	e.op.Status = domain.OperationStatusCancelled
	e.op.UpdatedAt = q.cfg.Now()
	delete(q.ops, e.op.ID)
	return e.op.Snapshot(q.cfg.Name)
}

func (q *Queue) finishCancelled(e *entry, snap domain.Snapshot) {
	metrics.OperationsTerminal.WithLabelValues(q.cfg.Name, string(domain.OperationStatusCancelled)).Inc()
	q.observe(snap)
	c := Cancellation{ID: snap.ID, Attempts: snap.Attempt, Err: e.op.LastError}
	q.callback(e, func() { e.onCancel(c) }, e.onCancel != nil)
}

// Status returns the queue length, whether the slot is busy and the ID of
// the in-flight operation, if any.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Status{Length: len(q.pending), Processing: q.processing}
	if q.current != nil {
		s.CurrentID = q.current.op.ID
	}
	return s
}

// Operation returns a copy of a live (non-terminal) operation.
func (q *Queue) Operation(id string) (domain.Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.ops[id]
	if !ok {
		return domain.Operation{}, false
	}
	return e.op, true
}

// Close stops accepting operations, cancels everything pending and waits for
// the in-flight attempt until ctx ends. The in-flight executor's context is
// cancelled when Close returns.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	cleared := q.Clear()
	q.log.Info("Closing queue", "cancelled", cleared)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	defer q.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain queue %s: %w", q.cfg.Name, ctx.Err())
	}
}

func (q *Queue) observe(snap domain.Snapshot) {
	if q.cfg.Observer != nil {
		q.cfg.Observer.Observe(snap)
	}
}

// callback runs a caller callback, containing panics.
func (q *Queue) callback(e *entry, fn func(), present bool) {
	if !present {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("Operation callback panicked", "id", e.op.ID, "panic", r)
		}
	}()
	fn()
}
