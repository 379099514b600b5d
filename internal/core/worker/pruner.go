package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/txguard/internal/infra/storage"
	"github.com/vietddude/txguard/internal/metrics"
)

// Pruner deletes terminal operation snapshots based on a retention period.
type Pruner struct {
	retention time.Duration
	repo      storage.OperationRepository
	now       func() time.Time
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker. A non-positive retention disables it.
func NewPruner(retention time.Duration, repo storage.OperationRepository) *Pruner {
	return &Pruner{
		retention: retention,
		repo:      repo,
		now:       time.Now,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Start runs the pruner loop until ctx ends.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check at 10% of the retention period, between 1 minute and 1 hour
	interval := min(p.retention/10, time.Hour)
	interval = max(interval, time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one retention pass and returns how many snapshots were removed.
func (p *Pruner) Prune(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.retention)

	n, err := p.repo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		p.log.Error("Failed to prune operations", "cutoff", cutoff, "error", err)
		return 0
	}
	if n > 0 {
		metrics.SnapshotsPruned.Add(float64(n))
		p.log.Info("Pruned operations", "count", n, "cutoff", cutoff)
	}
	return n
}
