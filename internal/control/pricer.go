package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/fee"
)

// Pricer attaches a cost to requests before submission. The first attempt is
// priced from the tier; every later attempt raises the previous cost by
// BumpPercent so a resubmission can replace a stuck one.
type Pricer struct {
	Selector    *fee.Selector
	Source      fee.BaselineSource
	Submitter   domain.Submitter
	BumpPercent int
}

// Executor returns an executor for req. Requests that already carry a Cost
// keep it on the first attempt.
func (p *Pricer) Executor(req domain.Request, tier fee.Tier) domain.Executor {
	var (
		mu   sync.Mutex
		prev *domain.Request
	)

	return func(ctx context.Context) (any, error) {
		mu.Lock()
		next, err := p.price(ctx, req, prev, tier)
		if err == nil {
			prev = &next
		}
		mu.Unlock()
		if err != nil {
			return nil, err
		}

		return p.Submitter.Submit(ctx, next)
	}
}

func (p *Pricer) price(ctx context.Context, req domain.Request, prev *domain.Request, tier fee.Tier) (domain.Request, error) {
	if prev == nil {
		if req.Cost != nil {
			return req, nil
		}
		cost, err := p.Selector.Quote(ctx, p.Source, tier)
		if err != nil {
			return req, fmt.Errorf("failed to quote fee: %w", err)
		}
		priced := req
		priced.Cost = cost
		return priced, nil
	}

	// A failed baseline lookup still bumps from the previous cost.
	baseline, err := p.Source.GasPrice(ctx)
	if err != nil {
		slog.Debug("Failed to refresh fee baseline", "id", req.ID, "error", err)
		baseline = nil
	}
	return fee.RetryWithHigherPriority(*prev, baseline, p.BumpPercent), nil
}
