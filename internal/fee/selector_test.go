package fee

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"pgregory.net/rapid"

	"github.com/vietddude/txguard/internal/core/domain"
)

func TestSelectPriority(t *testing.T) {
	s := NewSelector(nil)
	tests := []struct {
		tier Tier
		want int
	}{
		{TierLow, 100},
		{TierMedium, 110},
		{TierHigh, 120},
	}
	for _, tt := range tests {
		got, err := s.SelectPriority(tt.tier)
		if err != nil || got != tt.want {
			t.Errorf("SelectPriority(%s) = (%d, %v), want %d", tt.tier, got, err, tt.want)
		}
	}

	if _, err := s.SelectPriority("urgent"); !errors.Is(err, ErrUnknownTier) {
		t.Errorf("SelectPriority(urgent) error = %v, want ErrUnknownTier", err)
	}
}

func TestNewSelector_Overrides(t *testing.T) {
	s := NewSelector(Multipliers{TierHigh: 150, TierLow: 0})
	if got, _ := s.SelectPriority(TierHigh); got != 150 {
		t.Errorf("SelectPriority(high) = %d, want 150", got)
	}
	if got, _ := s.SelectPriority(TierLow); got != 100 {
		t.Errorf("SelectPriority(low) = %d, want default 100", got)
	}
}

func TestApply(t *testing.T) {
	s := NewSelector(nil)
	tests := []struct {
		baseline int64
		tier     Tier
		want     int64
	}{
		{1_000_000_000, TierLow, 1_000_000_000},
		{1_000_000_000, TierMedium, 1_100_000_000},
		{1_000_000_000, TierHigh, 1_200_000_000},
		{7, TierMedium, 8}, // 7.7 rounds up
		{0, TierHigh, 0},
	}
	for _, tt := range tests {
		got, err := s.Apply(big.NewInt(tt.baseline), tt.tier)
		if err != nil {
			t.Fatalf("Apply(%d, %s) error = %v", tt.baseline, tt.tier, err)
		}
		if got.Int64() != tt.want {
			t.Errorf("Apply(%d, %s) = %s, want %d", tt.baseline, tt.tier, got, tt.want)
		}
	}
}

type staticBaseline struct {
	price *big.Int
	err   error
}

func (s staticBaseline) GasPrice(context.Context) (*big.Int, error) { return s.price, s.err }

func TestQuote(t *testing.T) {
	s := NewSelector(nil)

	got, err := s.Quote(context.Background(), staticBaseline{price: big.NewInt(200)}, TierHigh)
	if err != nil || got.Int64() != 240 {
		t.Errorf("Quote() = (%v, %v), want 240", got, err)
	}

	boom := errors.New("rpc down")
	if _, err := s.Quote(context.Background(), staticBaseline{err: boom}, TierHigh); !errors.Is(err, boom) {
		t.Errorf("Quote() error = %v, want %v", err, boom)
	}
}

func TestRetryWithHigherPriority(t *testing.T) {
	tests := []struct {
		name      string
		cost      *big.Int
		baseline  *big.Int
		increment int
		want      int64
	}{
		{"raise over baseline", big.NewInt(100), big.NewInt(100), 10, 110},
		{"baseline moved up", big.NewInt(100), big.NewInt(150), 10, 165},
		{"request above baseline", big.NewInt(200), big.NewInt(150), 10, 220},
		{"no cost yet", nil, big.NewInt(50), 20, 60},
		{"rounds up", big.NewInt(101), nil, 10, 112},
		{"zero increment still bumps", big.NewInt(100), nil, 0, 101},
		{"nothing known", nil, nil, 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := domain.Request{ID: "op-1", Method: "eth_sendTransaction", Params: []any{"x"}, Cost: tt.cost}
			got := RetryWithHigherPriority(req, tt.baseline, tt.increment)
			if got.Cost.Int64() != tt.want {
				t.Errorf("Cost = %s, want %d", got.Cost, tt.want)
			}
			if got.ID != req.ID || got.Method != req.Method {
				t.Errorf("request identity changed: %+v", got)
			}
			if tt.cost != nil && got.Cost == tt.cost {
				t.Error("Cost aliases the input request's value")
			}
		})
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{"", TierMedium, false},
		{"LOW", TierLow, false},
		{" high ", TierHigh, false},
		{"urgent", "", true},
	}
	for _, tt := range tests {
		got, err := ParseTier(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseTier(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestRetryWithHigherPriority_StrictlyIncreasing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cost := rapid.Int64Range(0, 1<<50).Draw(t, "cost")
		baseline := rapid.Int64Range(0, 1<<50).Draw(t, "baseline")
		inc := rapid.IntRange(0, 200).Draw(t, "increment")

		req := domain.Request{Cost: big.NewInt(cost)}
		got := RetryWithHigherPriority(req, big.NewInt(baseline), inc)

		prev := max(cost, baseline)
		if got.Cost.Cmp(big.NewInt(prev)) <= 0 {
			t.Fatalf("cost %s not above previous %d", got.Cost, prev)
		}
	})
}
