package domain

import (
	"context"
	"time"
)

// Executor performs one attempt of an operation against the backend.
type Executor func(ctx context.Context) (any, error)

// OperationStatus is the lifecycle state of an operation.
type OperationStatus string

const (
	OperationStatusPending   OperationStatus = "pending"
	OperationStatusSubmitted OperationStatus = "submitted"
	OperationStatusConfirmed OperationStatus = "confirmed"
	OperationStatusFailed    OperationStatus = "failed"
	OperationStatusCancelled OperationStatus = "cancelled"
)

// IsTerminal reports whether no further transition can happen.
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case OperationStatusConfirmed, OperationStatusFailed, OperationStatusCancelled:
		return true
	}
	return false
}

// Operation is a single state-changing request tracked by a queue or batch run.
type Operation struct {
	ID          string
	Label       string
	Status      OperationStatus
	Attempt     int
	MaxAttempts int
	LastError   error
	ErrorKind   ErrorKind
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Snapshot returns a serialisable copy of the operation owned by queue.
func (o Operation) Snapshot(queue string) Snapshot {
	s := Snapshot{
		ID:          o.ID,
		Queue:       queue,
		Label:       o.Label,
		Status:      o.Status,
		Attempt:     o.Attempt,
		MaxAttempts: o.MaxAttempts,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	if o.LastError != nil {
		s.LastError = o.LastError.Error()
		s.ErrorKind = o.ErrorKind
	}
	return s
}

// Snapshot is the persisted view of an operation.
type Snapshot struct {
	ID          string          `json:"id"           db:"id"`
	Queue       string          `json:"queue"        db:"queue"`
	Label       string          `json:"label"        db:"label"`
	Status      OperationStatus `json:"status"       db:"status"`
	Attempt     int             `json:"attempt"      db:"attempt"`
	MaxAttempts int             `json:"max_attempts" db:"max_attempts"`
	LastError   string          `json:"last_error"   db:"last_error"`
	ErrorKind   ErrorKind       `json:"error_kind"   db:"error_kind"`
	CreatedAt   time.Time       `json:"created_at"   db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"   db:"updated_at"`
}
