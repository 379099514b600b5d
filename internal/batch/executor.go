// Package batch runs many independent operations and reports a per-item
// outcome for each, in input order. One item's failure never aborts the run.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/metrics"
	"github.com/vietddude/txguard/internal/queue"
	"github.com/vietddude/txguard/internal/resilience/attempt"
	"github.com/vietddude/txguard/internal/resilience/retry"
)

// ErrInvalidItem is returned by Run before anything executes when the input
// is malformed.
var ErrInvalidItem = errors.New("invalid batch item")

// Item is one unit of a batch run.
type Item struct {
	ID   string
	Exec domain.Executor
}

// Items builds batch items from arbitrary values.
func Items[T any](values []T, idFn func(T) string, executorFor func(T) domain.Executor) []Item {
	items := make([]Item, len(values))
	for i, v := range values {
		items[i] = Item{Exec: executorFor(v)}
		if idFn != nil {
			items[i].ID = idFn(v)
		}
	}
	return items
}

// Config holds executor settings shared by all runs.
type Config struct {
	Policy             retry.Policy
	DefaultMaxAttempts int // used when RunOptions.MaxAttemptsPerItem <= 0 (default 3)
	AttemptTimeout     time.Duration
	Guard              attempt.Guard
	Logger             *slog.Logger
}

// RunOptions tune a single run.
type RunOptions struct {
	MaxAttemptsPerItem int

	// ChunkSize > 1 runs items concurrently in chunks of that size.
	ChunkSize  int
	ChunkPause time.Duration

	// OnProgress fires once per item after it reaches a terminal state.
	// Calls are serialised and completed increases strictly from 1 to total.
	OnProgress func(completed, total int)

	// Queue, when set, routes every item through the queue instead of
	// executing directly.
	Queue *queue.Queue
}

// Executor runs batches.
type Executor struct {
	cfg    Config
	log    *slog.Logger
	runner attempt.Runner
}

// New creates a batch executor.
func New(cfg Config) *Executor {
	if cfg.Policy.Strategy == "" {
		cfg.Policy = retry.DefaultPolicy
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = 3
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		cfg:    cfg,
		log:    log.With("component", "batch"),
		runner: attempt.Runner{Guard: cfg.Guard, Timeout: cfg.AttemptTimeout},
	}
}

// progress serialises OnProgress calls.
type progress struct {
	mu        sync.Mutex
	completed int
	total     int
	fn        func(completed, total int)
}

func (p *progress) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	if p.fn != nil {
		p.fn(p.completed, p.total)
	}
}

// Run executes items and returns one outcome per item in input order. The
// only error is ErrInvalidItem for malformed input. When ctx ends, items
// that have not finished are reported as cancelled.
func (x *Executor) Run(ctx context.Context, items []Item, opts RunOptions) (*domain.BatchResult, error) {
	items, err := validate(items)
	if err != nil {
		return nil, err
	}

	maxAttempts := opts.MaxAttemptsPerItem
	if maxAttempts <= 0 {
		maxAttempts = x.cfg.DefaultMaxAttempts
	}

	outcomes := make([]domain.Outcome, len(items))
	prog := &progress{total: len(items), fn: opts.OnProgress}
	start := time.Now()

	switch {
	case opts.Queue != nil:
		x.log.Info("Batch started", "items", len(items), "mode", "queue", "queue", opts.Queue.Name())
		x.runQueued(ctx, opts.Queue, items, maxAttempts, outcomes, prog)
	case opts.ChunkSize > 1:
		x.log.Info("Batch started", "items", len(items), "mode", "chunked", "chunk_size", opts.ChunkSize)
		x.runChunked(ctx, items, maxAttempts, opts, outcomes, prog)
	default:
		x.log.Info("Batch started", "items", len(items), "mode", "sequential")
		for i, item := range items {
			outcomes[i] = x.runItem(ctx, item, maxAttempts)
			prog.done()
		}
	}

	result := summarize(outcomes)
	x.log.Info("Batch finished",
		"success", result.SuccessCount,
		"failed", result.FailureCount,
		"cancelled", result.CancelledCount,
		"duration", time.Since(start),
	)
	return result, nil
}

func validate(items []Item) ([]Item, error) {
	out := make([]Item, len(items))
	seen := make(map[string]int, len(items))
	for i, item := range items {
		if item.Exec == nil {
			return nil, fmt.Errorf("%w: item %d has no executor", ErrInvalidItem, i)
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if j, dup := seen[item.ID]; dup {
			return nil, fmt.Errorf("%w: items %d and %d share id %q", ErrInvalidItem, j, i, item.ID)
		}
		seen[item.ID] = i
		out[i] = item
	}
	return out, nil
}

func (x *Executor) runItem(ctx context.Context, item Item, maxAttempts int) domain.Outcome {
	out := domain.Outcome{OperationID: item.ID}
	if err := ctx.Err(); err != nil {
		out.Status = domain.OperationStatusCancelled
		out.Err = err
		return out
	}

	result, attempts, err := retry.Do(ctx, x.cfg.Policy, maxAttempts,
		func(ctx context.Context, _ int) (any, error) {
			a := x.runner.Start(ctx, item.Exec)
			<-a.Done
			return a.Value, a.Err
		},
		func(attempt int, d retry.Decision, err error) {
			x.log.Debug("Batch item retry scheduled",
				"id", item.ID, "attempt", attempt, "kind", d.Kind, "delay", d.Delay, "error", err)
		},
	)

	out.Attempts = attempts
	out.Result = result
	out.Err = err
	switch {
	case err == nil:
		out.Status = domain.OperationStatusConfirmed
	case ctx.Err() != nil:
		out.Status = domain.OperationStatusCancelled
	default:
		out.Status = domain.OperationStatusFailed
		x.log.Warn("Batch item failed", "id", item.ID, "attempts", attempts, "error", err)
	}
	return out
}

func (x *Executor) runChunked(
	ctx context.Context,
	items []Item,
	maxAttempts int,
	opts RunOptions,
	outcomes []domain.Outcome,
	prog *progress,
) {
	for start := 0; start < len(items); start += opts.ChunkSize {
		end := min(start+opts.ChunkSize, len(items))

		if start > 0 && opts.ChunkPause > 0 {
			timer := time.NewTimer(opts.ChunkPause)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
			timer.Stop()
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				outcomes[i] = x.runItem(ctx, items[i], maxAttempts)
				prog.done()
				return nil // item failures are reported in outcomes
			})
		}
		g.Wait()
	}
}

func (x *Executor) runQueued(
	ctx context.Context,
	q *queue.Queue,
	items []Item,
	maxAttempts int,
	outcomes []domain.Outcome,
	prog *progress,
) {
	var wg sync.WaitGroup
	attempts := make([]int, len(items))
	var attemptsMu sync.Mutex

	// Runs inside queue callbacks, which recover panics from OnProgress.
	finish := func(i int, o domain.Outcome) {
		defer wg.Done()
		attemptsMu.Lock()
		o.Attempts = attempts[i]
		attemptsMu.Unlock()
		outcomes[i] = o
		prog.done()
	}

	ids := make([]string, 0, len(items))
	for i, item := range items {
		wg.Add(1)
		exec := func(ctx context.Context) (any, error) {
			attemptsMu.Lock()
			attempts[i]++
			attemptsMu.Unlock()
			return item.Exec(ctx)
		}

		_, err := q.Enqueue(exec, maxAttempts,
			queue.WithID(item.ID),
			queue.WithLabel("batch"),
			queue.WithOnSuccess(func(id string, result any) {
				finish(i, domain.Outcome{OperationID: id, Status: domain.OperationStatusConfirmed, Result: result})
			}),
			queue.WithOnFailure(func(id string, err error) {
				finish(i, domain.Outcome{OperationID: id, Status: domain.OperationStatusFailed, Err: err})
			}),
			queue.WithOnCancel(func(c queue.Cancellation) {
				finish(i, domain.Outcome{OperationID: c.ID, Status: domain.OperationStatusCancelled, Result: c.Result, Err: c.Err})
			}),
		)
		if err != nil {
			finish(i, domain.Outcome{OperationID: item.ID, Status: domain.OperationStatusFailed, Err: err})
			continue
		}
		ids = append(ids, item.ID)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		for _, id := range ids {
			q.Cancel(id)
		}
	}
	// The in-flight item, if any, reports once its attempt returns.
	<-done
}

func summarize(outcomes []domain.Outcome) *domain.BatchResult {
	result := &domain.BatchResult{Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case domain.OperationStatusConfirmed:
			result.SuccessCount++
		case domain.OperationStatusCancelled:
			result.CancelledCount++
		default:
			result.FailureCount++
		}
		metrics.BatchItems.WithLabelValues(string(o.Status)).Inc()
	}
	return result
}
