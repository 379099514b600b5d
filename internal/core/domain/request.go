package domain

import (
	"context"
	"math/big"
)

// Request is a state-changing call handed to a Submitter. The core never
// inspects Method or Params.
type Request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`

	// Cost is the fee/priority parameter (wei for EVM gas price), nil when
	// the backend decides it.
	Cost *big.Int `json:"cost,omitempty"`
}

// Submitter delivers requests to the external backend.
type Submitter interface {
	Submit(ctx context.Context, req Request) (any, error)
}

// ExecutorFor binds req to s.
func ExecutorFor(s Submitter, req Request) Executor {
	return func(ctx context.Context) (any, error) {
		return s.Submit(ctx, req)
	}
}

// Submission is a request handed to the service for queued delivery.
type Submission struct {
	Request     Request `json:"request"`
	Tier        string  `json:"tier"`
	MaxAttempts int     `json:"max_attempts"`
	Label       string  `json:"label"`
}
