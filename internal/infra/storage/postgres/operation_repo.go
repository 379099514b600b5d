package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/infra/storage"
)

// OperationRepo implements storage.OperationRepository using PostgreSQL.
type OperationRepo struct {
	db *DB
}

// NewOperationRepo creates a new PostgreSQL operation repository.
func NewOperationRepo(db *DB) *OperationRepo {
	return &OperationRepo{db: db}
}

const operationColumns = `id, queue, label, status, attempt, max_attempts, last_error, error_kind, created_at, updated_at`

// Save upserts a snapshot. Older snapshots never overwrite newer ones.
func (r *OperationRepo) Save(ctx context.Context, snap domain.Snapshot) error {
	query := `
		INSERT INTO operations (` + operationColumns + `)
		VALUES (:id, :queue, :label, :status, :attempt, :max_attempts, :last_error, :error_kind, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			status       = EXCLUDED.status,
			attempt      = EXCLUDED.attempt,
			max_attempts = EXCLUDED.max_attempts,
			last_error   = EXCLUDED.last_error,
			error_kind   = EXCLUDED.error_kind,
			label        = EXCLUDED.label,
			updated_at   = EXCLUDED.updated_at
		WHERE operations.updated_at <= EXCLUDED.updated_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, snap); err != nil {
		return fmt.Errorf("failed to save operation %s: %w", snap.ID, err)
	}
	return nil
}

// Get retrieves a snapshot by ID.
func (r *OperationRepo) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	query := `SELECT ` + operationColumns + ` FROM operations WHERE id = $1`

	var snap domain.Snapshot
	if err := r.db.GetContext(ctx, &snap, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get operation %s: %w", id, err)
	}
	return &snap, nil
}

// List returns snapshots matching filter, newest first.
func (r *OperationRepo) List(ctx context.Context, filter storage.ListFilter) ([]domain.Snapshot, error) {
	var (
		where []string
		args  []any
	)
	if filter.Queue != "" {
		args = append(args, filter.Queue)
		where = append(where, fmt.Sprintf("queue = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + operationColumns + ` FROM operations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.EffectiveLimit())
	query += fmt.Sprintf(` ORDER BY updated_at DESC, id LIMIT $%d`, len(args))

	var snaps []domain.Snapshot
	if err := r.db.SelectContext(ctx, &snaps, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	return snaps, nil
}

// DeleteTerminalBefore removes terminal snapshots last updated before cutoff.
func (r *OperationRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM operations
		WHERE status IN ($1, $2, $3) AND updated_at < $4
	`
	res, err := r.db.ExecContext(ctx, query,
		string(domain.OperationStatusConfirmed),
		string(domain.OperationStatusFailed),
		string(domain.OperationStatusCancelled),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune operations: %w", err)
	}
	return res.RowsAffected()
}

var _ storage.OperationRepository = (*OperationRepo)(nil)
