package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/txguard/internal/batch"
	"github.com/vietddude/txguard/internal/core/config"
	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/core/worker"
	"github.com/vietddude/txguard/internal/fee"
	"github.com/vietddude/txguard/internal/health"
	"github.com/vietddude/txguard/internal/infra/rpc"
	"github.com/vietddude/txguard/internal/infra/storage"
	"github.com/vietddude/txguard/internal/queue"
	"github.com/vietddude/txguard/internal/resilience/attempt"
	"github.com/vietddude/txguard/internal/resilience/breaker"
	"github.com/vietddude/txguard/internal/resilience/classify"
)

// App wires the submission pipeline and manages its lifecycle.
type App struct {
	cfg *config.AppConfig
	log *slog.Logger

	store    *Storage
	client   *rpc.Client
	breaker  *breaker.Breaker // nil when disabled
	queue    *queue.Queue
	recorder *Recorder
	batch    *batch.Executor
	pricer   *Pricer
	pruner   *worker.Pruner

	healthMon    *health.Monitor
	healthServer *health.Server

	cancel context.CancelFunc
	group  *errgroup.Group

	stopOnce sync.Once
	stopErr  error
}

// NewApp creates an App with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	// 1. Initialize Storage
	store, err := OpenStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 2. Backend client and breaker
	client := rpc.NewClient(cfg.RPC)

	var (
		b     *breaker.Breaker
		guard attempt.Guard
	)
	if !cfg.Breaker.Disabled {
		b = breaker.New(breaker.Config{
			Name:        client.Name(),
			Threshold:   cfg.Breaker.Threshold,
			OpenTimeout: cfg.Breaker.OpenTimeout,
			// Caller mistakes say nothing about backend health.
			ShouldTrip: func(err error) bool {
				return classify.Classify(err) == classify.Retryable
			},
		})
		guard = b
	}

	// 3. Queue and batch executor
	policy := cfg.Retry.Policy()
	recorder := NewRecorder(store.Repo, cfg.Storage.WriteTimeout)
	q := queue.New(queue.Config{
		Name:               cfg.Queue.Name,
		Policy:             policy,
		DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts,
		Spacing:            cfg.Queue.Spacing,
		AttemptTimeout:     cfg.Queue.AttemptTimeout,
		Guard:              guard,
		Observer:           recorder,
	})

	executor := batch.New(batch.Config{
		Policy:             policy,
		DefaultMaxAttempts: cfg.Batch.MaxAttemptsPerItem,
		AttemptTimeout:     cfg.Queue.AttemptTimeout,
		Guard:              guard,
	})

	// 4. Fee pricing
	pricer := &Pricer{
		Selector:    fee.NewSelector(cfg.Fee.Multipliers()),
		Source:      client,
		Submitter:   client,
		BumpPercent: cfg.Fee.BumpPercent,
	}

	a := &App{
		cfg:      cfg,
		log:      slog.Default().With("component", "app"),
		store:    store,
		client:   client,
		breaker:  b,
		queue:    q,
		recorder: recorder,
		batch:    executor,
		pricer:   pricer,
		pruner:   worker.NewPruner(cfg.Storage.Retention, store.Repo),
	}

	// 5. Health
	a.healthMon = &health.Monitor{Queue: q, RPC: client, Storage: store}
	if b != nil {
		a.healthMon.Breaker = b
	}
	a.healthServer = health.NewServer(a.healthMon, a, cfg.Server.Port)

	return a, nil
}

// Start starts the HTTP server and background workers. It returns
// immediately.
func (a *App) Start(ctx context.Context) error {
	if a.group != nil {
		return errors.New("app already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	a.cancel = cancel
	a.group = g

	g.Go(func() error {
		a.log.Info("Starting HTTP server", "port", a.cfg.Server.Port)
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("HTTP server failed", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.pruner.Start(ctx)
		return nil
	})

	a.store.StartMetricsCollector(ctx)

	a.log.Info("Application started",
		"queue", a.cfg.Queue.Name,
		"provider", a.client.Name(),
		"storage", a.store.Driver,
	)
	return nil
}

// Wait blocks until a background component fails or the app is stopped.
func (a *App) Wait() error {
	if a.group == nil {
		return nil
	}
	return a.group.Wait()
}

// Stop drains the queue, stops the HTTP server and releases connections.
// Calls after the first return the first result.
func (a *App) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { a.stopErr = a.stop(ctx) })
	return a.stopErr
}

func (a *App) stop(ctx context.Context) error {
	a.log.Info("Stopping application...")

	var errs []error

	drainCtx, cancel := context.WithTimeout(ctx, a.cfg.Queue.DrainTimeout)
	defer cancel()
	if err := a.queue.Close(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("queue drain: %w", err))
	}
	if err := a.recorder.Close(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("snapshot flush: %w", err))
	}

	if a.group != nil {
		if err := a.healthServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		a.cancel()
		if err := a.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := a.client.Close(); err != nil {
		a.log.Warn("Failed to close RPC client", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("Failed to close storage", "error", err)
	}

	return errors.Join(errs...)
}

// Submit enqueues a submission. It implements health.Operations.
func (a *App) Submit(ctx context.Context, sub domain.Submission) (string, error) {
	tier, err := fee.ParseTier(sub.Tier)
	if err != nil {
		return "", err
	}

	return a.queue.Enqueue(
		a.pricer.Executor(sub.Request, tier),
		sub.MaxAttempts,
		queue.WithID(sub.Request.ID),
		queue.WithLabel(sub.Label),
		queue.WithOnSuccess(func(id string, result any) {
			a.log.Info("Operation confirmed", "id", id, "method", sub.Request.Method, "result", result)
		}),
		queue.WithOnFailure(func(id string, err error) {
			a.log.Warn("Operation failed", "id", id, "method", sub.Request.Method, "error", err)
		}),
	)
}

// Cancel cancels a queued or in-flight operation.
func (a *App) Cancel(id string) bool {
	return a.queue.Cancel(id)
}

// Get returns the latest stored snapshot of an operation.
func (a *App) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	return a.store.Repo.Get(ctx, id)
}

// List returns stored snapshots.
func (a *App) List(ctx context.Context, filter storage.ListFilter) ([]domain.Snapshot, error) {
	return a.store.Repo.List(ctx, filter)
}

// RunBatch submits subs as one batch. Per-item MaxAttempts is ignored in
// favour of opts.MaxAttemptsPerItem.
func (a *App) RunBatch(ctx context.Context, subs []domain.Submission, opts batch.RunOptions) (*domain.BatchResult, error) {
	items := make([]batch.Item, 0, len(subs))
	for i, sub := range subs {
		tier, err := fee.ParseTier(sub.Tier)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, batch.Item{
			ID:   sub.Request.ID,
			Exec: a.pricer.Executor(sub.Request, tier),
		})
	}

	if opts.MaxAttemptsPerItem <= 0 {
		opts.MaxAttemptsPerItem = a.cfg.Batch.MaxAttemptsPerItem
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = a.cfg.Batch.ChunkSize
	}
	if opts.ChunkPause == 0 {
		opts.ChunkPause = a.cfg.Batch.ChunkPause
	}

	return a.batch.Run(ctx, items, opts)
}

// Health returns the current health report.
func (a *App) Health(ctx context.Context) health.HealthReport {
	return a.healthMon.CheckHealth(ctx)
}

// Queue returns the application's submission queue.
func (a *App) Queue() *queue.Queue {
	return a.queue
}

var _ health.Operations = (*App)(nil)
