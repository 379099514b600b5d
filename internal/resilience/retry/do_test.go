package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/txguard/internal/core/domain"
)

var fastPolicy = Policy{
	Strategy:           Exponential,
	BaseDelay:          time.Millisecond,
	MaxDelay:           5 * time.Millisecond,
	UnknownMaxAttempts: 3,
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	result, attempts, err := Do(context.Background(), fastPolicy, 3,
		func(ctx context.Context, attempt int) (any, error) {
			calls++
			if attempt < 3 {
				return nil, domain.NewSubmitError(domain.KindTransient, errors.New("timeout"))
			}
			return "0xabc", nil
		}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "0xabc" {
		t.Errorf("result = %v, want 0xabc", result)
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", attempts, calls)
	}
}

func TestDo_FatalStopsImmediately(t *testing.T) {
	calls := 0
	retried := 0
	_, attempts, err := Do(context.Background(), fastPolicy, 5,
		func(ctx context.Context, attempt int) (any, error) {
			calls++
			return nil, domain.NewSubmitError(domain.KindInsufficientResources, errors.New("insufficient funds"))
		},
		func(int, Decision, error) { retried++ })

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 || attempts != 1 {
		t.Errorf("calls = %d, attempts = %d, want 1", calls, attempts)
	}
	if retried != 0 {
		t.Errorf("onRetry called %d times, want 0", retried)
	}
}

func TestDo_AtMostMaxAttempts(t *testing.T) {
	for _, max := range []int{1, 2, 4} {
		calls := 0
		_, attempts, err := Do(context.Background(), fastPolicy, max,
			func(ctx context.Context, attempt int) (any, error) {
				calls++
				return nil, domain.NewSubmitError(domain.KindTransient, errors.New("503"))
			}, nil)
		if err == nil {
			t.Fatalf("max=%d: expected error", max)
		}
		if calls != max || attempts != max {
			t.Errorf("max=%d: calls = %d, attempts = %d", max, calls, attempts)
		}
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy
	p.BaseDelay = time.Hour
	p.MaxDelay = 0

	lastErr := domain.NewSubmitError(domain.KindTransient, errors.New("reset"))
	_, attempts, err := Do(ctx, p, 5,
		func(ctx context.Context, attempt int) (any, error) {
			return nil, lastErr
		},
		func(int, Decision, error) { cancel() })

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if !errors.Is(err, lastErr) {
		t.Errorf("err = %v, want it to wrap the last attempt error", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
