package queue

import (
	"context"
	"time"
)

// Scheduler runs fn after d without blocking the caller.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(d time.Duration, fn func())

func (f SchedulerFunc) After(d time.Duration, fn func()) { f(d, fn) }

// timerScheduler runs each callback on its own goroutine. Callbacks still
// waiting when ctx ends are dropped.
type timerScheduler struct {
	ctx context.Context
}

func (s timerScheduler) After(d time.Duration, fn func()) {
	go func() {
		if d <= 0 {
			if s.ctx.Err() == nil {
				fn()
			}
			return
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
		case <-timer.C:
			fn()
		}
	}()
}
