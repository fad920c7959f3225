package retry

import (
	"context"
	"time"

	"github.com/vietddude/postforge/internal/core/domain"
)

// Policy defines retry behavior for a single step.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Observe is called once per invocation, successful or not.
	Observe func(Attempt)
}

// DefaultPolicy: three attempts, one second base delay.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
}

// Attempt describes one invocation of a retried function.
type Attempt struct {
	Number   int
	Err      *domain.Error
	Duration time.Duration
	// Delay is the backoff scheduled after this attempt, zero if none.
	Delay time.Duration
}

// Do runs fn until it succeeds, fails with a non-retryable error, exhausts
// MaxAttempts or trips the breaker. Non-retryable failures return at once
// without touching the breaker.
func Do[T any](ctx context.Context, p Policy, breaker *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultPolicy.MaxAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr *domain.Error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		result, err := fn(ctx)
		elapsed := time.Since(start)

		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			observe(p, Attempt{Number: attempt, Duration: elapsed})
			return result, nil
		}

		classified := Classify(err)
		lastErr = classified

		if !classified.Retryable {
			observe(p, Attempt{Number: attempt, Err: classified, Duration: elapsed})
			return zero, classified
		}

		if breaker != nil {
			if tripErr := breaker.RecordFailure(); tripErr != nil {
				observe(p, Attempt{Number: attempt, Err: classified, Duration: elapsed})
				return zero, tripErr
			}
		}

		if attempt == maxAttempts {
			observe(p, Attempt{Number: attempt, Err: classified, Duration: elapsed})
			break
		}

		delay := Backoff(attempt, p.BaseDelay)
		observe(p, Attempt{Number: attempt, Err: classified, Duration: elapsed, Delay: delay})
		if err := sleep(ctx, delay); err != nil {
			return zero, Classify(err)
		}
	}

	return zero, lastErr
}

func observe(p Policy, a Attempt) {
	if p.Observe != nil {
		p.Observe(a)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
