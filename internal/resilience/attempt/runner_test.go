package attempt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/resilience/breaker"
	"github.com/vietddude/txguard/internal/resilience/classify"
)

func TestRunner_Success(t *testing.T) {
	r := Runner{}
	v, err := r.Run(context.Background(), func(context.Context) (any, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Errorf("Run() = (%v, %v), want (42, nil)", v, err)
	}
}

func TestRunner_RecoversPanic(t *testing.T) {
	r := Runner{}
	_, err := r.Run(context.Background(), func(context.Context) (any, error) {
		panic("boom")
	})
	if err == nil {
		t.Fatal("Run() error = nil, want panic error")
	}
	if kind := classify.KindOf(err); kind != domain.KindUnknown {
		t.Errorf("KindOf(panic) = %v, want %v", kind, domain.KindUnknown)
	}
}

func TestRunner_Timeout(t *testing.T) {
	r := Runner{Timeout: 20 * time.Millisecond}
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := r.Run(context.Background(), func(ctx context.Context) (any, error) {
		<-release
		return "late", nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
	if kind := classify.KindOf(err); kind != domain.KindTransient {
		t.Errorf("KindOf(timeout) = %v, want %v", kind, domain.KindTransient)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run() took %v, want about %v", elapsed, r.Timeout)
	}
}

func TestRunner_TimeoutObservedByExecutor(t *testing.T) {
	r := Runner{Timeout: 20 * time.Millisecond}
	_, err := r.Run(context.Background(), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Run() error = %v, want ErrTimeout", err)
	}
}

func TestRunner_ParentCancel(t *testing.T) {
	r := Runner{Timeout: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRunner_GuardRejects(t *testing.T) {
	b := breaker.New(breaker.Config{Name: "attempt-test", Threshold: 1, OpenTimeout: time.Hour})
	r := Runner{Guard: b}

	r.Run(context.Background(), func(context.Context) (any, error) {
		return nil, errors.New("down")
	})

	called := false
	_, err := r.Run(context.Background(), func(context.Context) (any, error) {
		called = true
		return nil, nil
	})
	if called {
		t.Error("executor invoked through an open breaker")
	}
	if !errors.Is(err, breaker.ErrOpen) {
		t.Errorf("Run() error = %v, want breaker.ErrOpen", err)
	}
}

func TestRunner_StartDoneAfterAbandonedCall(t *testing.T) {
	r := Runner{Timeout: 20 * time.Millisecond}
	release := make(chan struct{})

	a := r.Start(context.Background(), func(ctx context.Context) (any, error) {
		<-release
		return "late", nil
	})
	if !errors.Is(a.Err, ErrTimeout) {
		t.Fatalf("Start() error = %v, want ErrTimeout", a.Err)
	}

	select {
	case <-a.Done:
		t.Fatal("Done closed while the executor is still running")
	default:
	}

	close(release)
	select {
	case <-a.Done:
	case <-time.After(time.Second):
		t.Fatal("Done not closed after the executor returned")
	}
}

func TestRunner_StartDoneWhenRejected(t *testing.T) {
	b := breaker.New(breaker.Config{Name: "start-test", Threshold: 1, OpenTimeout: time.Hour})
	r := Runner{Guard: b}
	r.Run(context.Background(), func(context.Context) (any, error) { return nil, errors.New("down") })

	a := r.Start(context.Background(), func(context.Context) (any, error) {
		t.Error("executor called while breaker is open")
		return nil, nil
	})
	if !errors.Is(a.Err, breaker.ErrOpen) {
		t.Fatalf("Start() error = %v, want breaker.ErrOpen", a.Err)
	}
	select {
	case <-a.Done:
	default:
		t.Error("Done not closed for a rejected attempt")
	}
}
