// Package retry decides whether and when a failed attempt is tried again.
package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/resilience/classify"
)

// Strategy selects how the delay grows with the attempt number.
type Strategy string

const (
	Exponential Strategy = "exponential"
	Linear      Strategy = "linear"
)

// Policy defines retry behavior.
type Policy struct {
	Strategy  Strategy
	BaseDelay time.Duration
	MaxDelay  time.Duration // 0 = uncapped

	// UnknownMaxAttempts caps attempts for failures of unknown kind.
	UnknownMaxAttempts int

	// RateLimitMultiplier stretches the delay for rate-limited failures.
	RateLimitMultiplier float64

	// Jitter spreads delays by ±Jitter (fraction of the delay). 0 disables it.
	Jitter float64

	// Rand returns values in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	Strategy:            Exponential,
	BaseDelay:           1 * time.Second,
	MaxDelay:            60 * time.Second,
	UnknownMaxAttempts:  3,
	RateLimitMultiplier: 2.0,
}

// Decision is the outcome of consulting the policy after a failure.
type Decision struct {
	ShouldRetry bool
	Delay       time.Duration
	Kind        domain.ErrorKind
}

// Validate reports configuration mistakes.
func (p Policy) Validate() error {
	switch p.Strategy {
	case Exponential, Linear:
	default:
		return fmt.Errorf("unknown retry strategy %q", p.Strategy)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return errors.New("retry delays must not be negative")
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("retry jitter %v out of range [0,1]", p.Jitter)
	}
	return nil
}

// ComputeDelay returns the wait before the attempt following attempt
// (1-based). Exponential: base·2^(attempt-1). Linear: base·attempt.
// maxWait > 0 caps the result.
func ComputeDelay(attempt int, base time.Duration, strategy Strategy, maxWait time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	var delay float64
	switch strategy {
	case Linear:
		delay = float64(base) * float64(attempt)
	default:
		delay = float64(base) * math.Pow(2, float64(attempt-1))
	}

	return capDelay(delay, maxWait)
}

// ShouldRetry reports whether another attempt is allowed.
func ShouldRetry(attempt, maxAttempts int, class classify.Class) bool {
	return class == classify.Retryable && attempt < maxAttempts
}

// Decide classifies err and returns the retry decision for attempt.
func (p Policy) Decide(attempt, maxAttempts int, err error) Decision {
	kind := classify.KindOf(err)
	d := Decision{Kind: kind}

	limit := maxAttempts
	if kind == domain.KindUnknown && p.UnknownMaxAttempts > 0 && p.UnknownMaxAttempts < limit {
		limit = p.UnknownMaxAttempts
	}
	if !ShouldRetry(attempt, limit, classify.ClassOf(kind)) {
		return d
	}

	delay := ComputeDelay(attempt, p.BaseDelay, p.Strategy, p.MaxDelay)
	if kind == domain.KindRateLimited && p.RateLimitMultiplier > 1 {
		delay = capDelay(float64(delay)*p.RateLimitMultiplier, p.MaxDelay)
	}
	delay = p.applyJitter(delay)

	var se *domain.SubmitError
	if errors.As(err, &se) && se.RetryAfter > delay {
		delay = se.RetryAfter
	}

	d.ShouldRetry = true
	d.Delay = delay
	return d
}

func (p Policy) applyJitter(delay time.Duration) time.Duration {
	if p.Jitter <= 0 || delay <= 0 {
		return delay
	}
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.Float64
	}

	spread := float64(delay) * p.Jitter
	jittered := float64(delay) + (rnd()*2-1)*spread
	if jittered < 0 {
		jittered = 0
	}
	return capDelay(jittered, p.MaxDelay)
}

func capDelay(delay float64, maxWait time.Duration) time.Duration {
	if maxWait > 0 && delay > float64(maxWait) {
		return maxWait
	}
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
