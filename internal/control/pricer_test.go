package control

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/fee"
)

type stubBaseline struct {
	mu    sync.Mutex
	price *big.Int
	err   error
}

func (s *stubBaseline) GasPrice(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return new(big.Int).Set(s.price), nil
}

type recordingSubmitter struct {
	mu    sync.Mutex
	costs []int64
	errs  []error
}

func (s *recordingSubmitter) Submit(ctx context.Context, req domain.Request) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cost int64 = -1
	if req.Cost != nil {
		cost = req.Cost.Int64()
	}
	s.costs = append(s.costs, cost)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return "0xhash", nil
}

func TestPricer_BumpsOnEveryRetry(t *testing.T) {
	src := &stubBaseline{price: big.NewInt(100)}
	sub := &recordingSubmitter{}
	p := &Pricer{Selector: fee.NewSelector(nil), Source: src, Submitter: sub, BumpPercent: 10}

	exec := p.Executor(domain.Request{ID: "a", Method: "m"}, fee.TierHigh)
	for range 3 {
		exec(context.Background())
	}

	// 120, then ceil(120*1.1)=132, then ceil(132*1.1)=146
	want := []int64{120, 132, 146}
	if len(sub.costs) != len(want) {
		t.Fatalf("costs = %v, want %v", sub.costs, want)
	}
	for i := range want {
		if sub.costs[i] != want[i] {
			t.Errorf("costs[%d] = %d, want %d", i, sub.costs[i], want[i])
		}
	}
}

func TestPricer_BaselineRise(t *testing.T) {
	src := &stubBaseline{price: big.NewInt(100)}
	sub := &recordingSubmitter{}
	p := &Pricer{Selector: fee.NewSelector(nil), Source: src, Submitter: sub, BumpPercent: 10}

	exec := p.Executor(domain.Request{ID: "a", Method: "m"}, fee.TierLow)
	exec(context.Background())

	src.mu.Lock()
	src.price = big.NewInt(200)
	src.mu.Unlock()
	exec(context.Background())

	if sub.costs[0] != 100 || sub.costs[1] != 220 {
		t.Errorf("costs = %v, want [100 220]", sub.costs)
	}
}

func TestPricer_ExplicitCostKeptOnFirstAttempt(t *testing.T) {
	src := &stubBaseline{err: errors.New("node down")}
	sub := &recordingSubmitter{}
	p := &Pricer{Selector: fee.NewSelector(nil), Source: src, Submitter: sub, BumpPercent: 10}

	exec := p.Executor(domain.Request{ID: "a", Method: "m", Cost: big.NewInt(50)}, fee.TierMedium)
	exec(context.Background())
	// Baseline lookup fails on the retry, the bump still applies.
	exec(context.Background())

	if sub.costs[0] != 50 || sub.costs[1] != 55 {
		t.Errorf("costs = %v, want [50 55]", sub.costs)
	}
}

func TestPricer_QuoteFailure(t *testing.T) {
	quoteErr := domain.NewSubmitError(domain.KindTransient, errors.New("timeout"))
	src := &stubBaseline{err: quoteErr}
	sub := &recordingSubmitter{}
	p := &Pricer{Selector: fee.NewSelector(nil), Source: src, Submitter: sub}

	_, err := p.Executor(domain.Request{ID: "a", Method: "m"}, fee.TierMedium)(context.Background())

	var se *domain.SubmitError
	if !errors.As(err, &se) || se.Kind() != domain.KindTransient {
		t.Errorf("error = %v, want wrapped transient SubmitError", err)
	}
	if len(sub.costs) != 0 {
		t.Errorf("submitter called %d times, want 0", len(sub.costs))
	}
}
