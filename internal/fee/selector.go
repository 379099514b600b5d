// Package fee selects the cost parameter (gas price) attached to a
// submission, scaled from an observed baseline by priority tier.
package fee

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/vietddude/txguard/internal/core/domain"
)

var ErrUnknownTier = errors.New("unknown priority tier")

// Tier is a submission priority.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// ParseTier parses a tier name, case-insensitively. Empty means medium.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TierMedium, nil
	case TierLow, TierMedium, TierHigh:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// Multipliers maps a tier to a percentage of the baseline.
type Multipliers map[Tier]int

// DefaultMultipliers are 100%, 110% and 120% of the baseline.
var DefaultMultipliers = Multipliers{
	TierLow:    100,
	TierMedium: 110,
	TierHigh:   120,
}

// BaselineSource reports the currently observed baseline cost.
type BaselineSource interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// Selector computes submission costs.
type Selector struct {
	multipliers Multipliers
}

// NewSelector creates a selector. Tiers missing from m, or with a
// non-positive percentage, use DefaultMultipliers.
func NewSelector(m Multipliers) *Selector {
	merged := make(Multipliers, len(DefaultMultipliers))
	for tier, pct := range DefaultMultipliers {
		merged[tier] = pct
	}
	for tier, pct := range m {
		if pct > 0 {
			merged[tier] = pct
		}
	}
	return &Selector{multipliers: merged}
}

// SelectPriority returns the percentage of the baseline for tier.
func (s *Selector) SelectPriority(tier Tier) (int, error) {
	pct, ok := s.multipliers[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return pct, nil
}

// Apply scales baseline by the tier percentage, rounding up.
func (s *Selector) Apply(baseline *big.Int, tier Tier) (*big.Int, error) {
	pct, err := s.SelectPriority(tier)
	if err != nil {
		return nil, err
	}
	if baseline == nil {
		return nil, errors.New("nil baseline")
	}
	return percentOf(baseline, pct), nil
}

// Quote fetches the baseline from src and applies tier to it.
func (s *Selector) Quote(ctx context.Context, src BaselineSource, tier Tier) (*big.Int, error) {
	baseline, err := src.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch baseline: %w", err)
	}
	return s.Apply(baseline, tier)
}

// RetryWithHigherPriority returns a copy of req whose cost is raised by
// incrementPercent over the larger of baseline and the request's current
// cost. The new cost is always strictly greater than the previous one.
func RetryWithHigherPriority(req domain.Request, baseline *big.Int, incrementPercent int) domain.Request {
	prev := new(big.Int)
	if baseline != nil && baseline.Sign() > 0 {
		prev.Set(baseline)
	}
	if req.Cost != nil && req.Cost.Cmp(prev) > 0 {
		prev.Set(req.Cost)
	}
	if incrementPercent < 0 {
		incrementPercent = 0
	}

	next := percentOf(prev, 100+incrementPercent)
	if next.Cmp(prev) <= 0 {
		next.Add(prev, big.NewInt(1))
	}

	out := req
	out.Params = append([]any(nil), req.Params...)
	out.Cost = next
	return out
}

// percentOf returns ceil(v * pct / 100).
func percentOf(v *big.Int, pct int) *big.Int {
	n := new(big.Int).Mul(v, big.NewInt(int64(pct)))
	q, r := new(big.Int).QuoRem(n, big.NewInt(100), new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
