package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/infra/storage"
)

// OperationRepo implements storage.OperationRepository using Redis: one JSON
// value per operation plus a sorted set indexed by update time.
type OperationRepo struct {
	rdb    *redis.Client
	prefix string
}

// NewOperationRepo creates a new Redis-backed operation repository.
func NewOperationRepo(client *Client, prefix string) *OperationRepo {
	if prefix == "" {
		prefix = "txguard"
	}
	return &OperationRepo{rdb: client.rdb, prefix: prefix}
}

// Key helpers
func (r *OperationRepo) indexKey() string {
	return fmt.Sprintf("%s:operations", r.prefix)
}

func (r *OperationRepo) opKey(id string) string {
	return fmt.Sprintf("%s:operation:%s", r.prefix, id)
}

// Save stores the snapshot and updates the index.
func (r *OperationRepo) Save(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal operation: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.opKey(snap.ID), data, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(snap.UpdatedAt.UnixMilli()),
			Member: snap.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save operation %s: %w", snap.ID, err)
	}
	return nil
}

// Get retrieves a snapshot by ID.
func (r *OperationRepo) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	data, err := r.rdb.Get(ctx, r.opKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation %s: %w", id, err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation %s: %w", id, err)
	}
	return &snap, nil
}

// List walks the index newest first, filtering in process.
func (r *OperationRepo) List(ctx context.Context, filter storage.ListFilter) ([]domain.Snapshot, error) {
	limit := filter.EffectiveLimit()
	const page = 200

	var out []domain.Snapshot
	for start := int64(0); len(out) < limit; start += page {
		ids, err := r.rdb.ZRevRange(ctx, r.indexKey(), start, start+page-1).Result()
		if err != nil {
			return nil, fmt.Errorf("zrevrange failed: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		snaps, err := r.load(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, snap := range snaps {
			if filter.Matches(snap) {
				out = append(out, snap)
				if len(out) == limit {
					break
				}
			}
		}
	}
	return out, nil
}

// DeleteTerminalBefore removes terminal snapshots last updated before cutoff.
func (r *OperationRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	upper := strconv.FormatInt(cutoff.UnixMilli()-1, 10)
	ids, err := r.rdb.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	snaps, err := r.load(ctx, ids)
	if err != nil {
		return 0, err
	}

	var victims []string
	for _, snap := range snaps {
		if snap.Status.IsTerminal() {
			victims = append(victims, snap.ID)
		}
	}
	if len(victims) == 0 {
		return 0, nil
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]any, len(victims))
		for i, id := range victims {
			pipe.Del(ctx, r.opKey(id))
			members[i] = id
		}
		pipe.ZRem(ctx, r.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune operations: %w", err)
	}
	return int64(len(victims)), nil
}

// load fetches snapshots for ids, skipping index entries whose value is gone.
func (r *OperationRepo) load(ctx context.Context, ids []string) ([]domain.Snapshot, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.opKey(id)
	}

	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget failed: %w", err)
	}

	snaps := make([]domain.Snapshot, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var snap domain.Snapshot
		if err := json.Unmarshal([]byte(s), &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal operation %s: %w", ids[i], err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

var _ storage.OperationRepository = (*OperationRepo)(nil)
