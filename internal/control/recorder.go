package control

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/infra/storage"
)

// recorderBuffer bounds snapshots waiting to be saved.
const recorderBuffer = 1024

// Recorder persists queue snapshots. It implements queue.Observer.
//
// Observe only hands the snapshot to a background writer, so a slow store
// never holds up the queue. Snapshots that arrive while the buffer is full
// are logged and dropped.
type Recorder struct {
	repo    storage.OperationRepository
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	snaps  chan domain.Snapshot
	done   chan struct{}

	last map[string]domain.Snapshot // owned by the writer goroutine
}

// NewRecorder creates a recorder writing to repo and starts its writer. Each
// save is bounded by timeout.
func NewRecorder(repo storage.OperationRepository, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r := &Recorder{
		repo:    repo,
		timeout: timeout,
		log:     slog.Default().With("component", "recorder"),
		snaps:   make(chan domain.Snapshot, recorderBuffer),
		done:    make(chan struct{}),
		last:    make(map[string]domain.Snapshot),
	}
	go r.run()
	return r
}

// Observe queues snap for saving without blocking.
func (r *Recorder) Observe(snap domain.Snapshot) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.log.Warn("Snapshot after recorder closed", "id", snap.ID, "status", snap.Status)
		return
	}
	select {
	case r.snaps <- snap:
	default:
		r.log.Warn("Snapshot buffer full, dropping",
			"id", snap.ID,
			"status", snap.Status,
		)
	}
}

// Close stops accepting snapshots and waits until the buffered ones are saved
// or ctx ends.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.snaps)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for snap := range r.snaps {
		r.save(snap)
	}
}

// save writes snap unless a newer snapshot of the same operation was already
// saved. Failures are logged and dropped.
func (r *Recorder) save(snap domain.Snapshot) {
	if prev, ok := r.last[snap.ID]; ok && stale(prev, snap) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.repo.Save(ctx, snap); err != nil {
		r.log.Warn("Failed to save operation snapshot",
			"id", snap.ID,
			"status", snap.Status,
			"error", err,
		)
		return
	}

	if snap.Status.IsTerminal() {
		delete(r.last, snap.ID)
	} else {
		r.last[snap.ID] = snap
	}
}

func stale(prev, next domain.Snapshot) bool {
	if next.UpdatedAt.Before(prev.UpdatedAt) {
		return true
	}
	return next.Attempt < prev.Attempt
}
