package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/infra/storage"
)

// OperationRepo keeps snapshots in process memory.
type OperationRepo struct {
	mu  sync.RWMutex
	ops map[string]domain.Snapshot
}

func NewOperationRepo() *OperationRepo {
	return &OperationRepo{ops: make(map[string]domain.Snapshot)}
}

func (r *OperationRepo) Save(ctx context.Context, snap domain.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.ops[snap.ID]; ok && cur.UpdatedAt.After(snap.UpdatedAt) {
		return nil
	}
	r.ops[snap.ID] = snap
	return nil
}

func (r *OperationRepo) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.ops[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &snap, nil
}

func (r *OperationRepo) List(ctx context.Context, filter storage.ListFilter) ([]domain.Snapshot, error) {
	r.mu.RLock()
	out := make([]domain.Snapshot, 0, len(r.ops))
	for _, snap := range r.ops {
		if filter.Matches(snap) {
			out = append(out, snap)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OperationRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, snap := range r.ops {
		if snap.Status.IsTerminal() && snap.UpdatedAt.Before(cutoff) {
			delete(r.ops, id)
			n++
		}
	}
	return n, nil
}

var _ storage.OperationRepository = (*OperationRepo)(nil)
