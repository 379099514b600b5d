package retry

import (
	"context"
	"errors"
	"time"
)

// AttemptFunc performs attempt number attempt (1-based).
type AttemptFunc func(ctx context.Context, attempt int) (any, error)

// Do runs fn until it succeeds, the policy stops retrying, or ctx ends.
// It returns the last result, the number of attempts made and the final
// error. When ctx ends while waiting, the error matches both ctx.Err() and
// the last attempt's error.
func Do(
	ctx context.Context,
	p Policy,
	maxAttempts int,
	fn AttemptFunc,
	onRetry func(attempt int, d Decision, err error),
) (any, int, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, err
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, attempt, nil
		}

		d := p.Decide(attempt, maxAttempts, err)
		if !d.ShouldRetry {
			return nil, attempt, err
		}
		if onRetry != nil {
			onRetry(attempt, d, err)
		}

		timer := time.NewTimer(d.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, errors.Join(ctx.Err(), err)
		case <-timer.C:
		}
	}
}
