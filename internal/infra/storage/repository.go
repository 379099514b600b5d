package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/txguard/internal/core/domain"
)

var (
	// ErrNotFound is returned when a snapshot doesn't exist
	ErrNotFound = errors.New("operation not found")
)

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Queue  string
	Status domain.OperationStatus
	Limit  int // default 100
}

// DefaultListLimit caps List when ListFilter.Limit is zero.
const DefaultListLimit = 100

// OperationRepository stores operation snapshots
type OperationRepository interface {
	// Save inserts or replaces the snapshot with the same ID
	Save(ctx context.Context, snap domain.Snapshot) error

	// Get retrieves a snapshot by operation ID
	Get(ctx context.Context, id string) (*domain.Snapshot, error)

	// List returns snapshots, most recently updated first
	List(ctx context.Context, filter ListFilter) ([]domain.Snapshot, error)

	// DeleteTerminalBefore removes terminal snapshots last updated before cutoff
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Matches reports whether snap passes f, ignoring Limit.
func (f ListFilter) Matches(snap domain.Snapshot) bool {
	if f.Queue != "" && snap.Queue != f.Queue {
		return false
	}
	if f.Status != "" && snap.Status != f.Status {
		return false
	}
	return true
}

// EffectiveLimit returns Limit or the default.
func (f ListFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}
