package errors

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryConfig bounds in-process retries of a single call, such as an event
// handler run by the synchronous dispatcher. Waits grow as
// BaseDelay * Multiplier^n.
type RetryConfig struct {
	MaxAttempts int           // calls including the first; <= 0 means one
	BaseDelay   time.Duration // wait after the first failure
	MaxDelay    time.Duration // cap on a single wait; zero leaves it uncapped
	Multiplier  float64       // zero doubles
	Jitter      float64       // fraction of each wait randomized in both directions

	// Retryable overrides IsRetryable.
	Retryable func(error) bool

	// Clock drives the waits. Nil uses the real clock.
	Clock clockwork.Clock
}

// DefaultRetry retries a transient failure twice, starting at 100ms.
var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    5 * time.Second,
	Multiplier:  2,
	Jitter:      0.1,
}

// NoRetry makes a single call.
var NoRetry = RetryConfig{MaxAttempts: 1}

// delay is the wait before call n+1, n being zero-based.
func (c RetryConfig) delay(n int) time.Duration {
	m := c.Multiplier
	if m == 0 {
		m = 2
	}
	d := float64(c.BaseDelay) * math.Pow(m, float64(n))
	if c.MaxDelay > 0 {
		d = math.Min(d, float64(c.MaxDelay))
	}
	if d >= float64(math.MaxInt64) {
		d = float64(math.MaxInt64 / 2)
	}
	return jittered(time.Duration(d), c.Jitter)
}

// RetryResult is what WithRetryContext hands back.
type RetryResult[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// WithRetryContext calls fn until it succeeds, fails with an error that is
// not retryable, or runs out of attempts. A transient error that survives
// every attempt comes back wrapped with Context "retries exhausted" and its
// bucket kept. Cancellation of ctx stops the loop with a permanent error.
func WithRetryContext[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func(context.Context) (T, error),
) (res RetryResult[T]) {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	limit := max(cfg.MaxAttempts, 1)

	start := clock.Now()
	defer func() { res.Duration = clock.Since(start) }()

	for {
		if err := ctx.Err(); err != nil {
			res.Err = Permanent(err, "retry cancelled")
			return res
		}

		res.Attempts++
		v, err := fn(ctx)
		if err == nil {
			res.Value, res.Err = v, nil
			return res
		}
		res.Err = err

		if !retryable(err) {
			return res
		}
		if res.Attempts >= limit {
			if limit > 1 {
				res.Err = &CategorizedError{
					Err:      err,
					Category: Categorize(err),
					Attempts: res.Attempts,
					Context:  "retries exhausted",
				}
			}
			return res
		}

		if err := wait(ctx, clock, cfg.delay(res.Attempts-1)); err != nil {
			res.Err = Permanent(err, "retry cancelled")
			return res
		}
	}
}

func wait(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}

// ExponentialDelay returns base * 2^attempt, capped at max when max > 0.
// attempt is zero-based: the first retry waits base.
func ExponentialDelay(base time.Duration, attempt int, max time.Duration) time.Duration {
	delay := base
	for ; attempt > 0; attempt-- {
		if max > 0 && delay >= max {
			break
		}
		if delay > math.MaxInt64/2 {
			return delay
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * jitter
	return time.Duration(float64(d) + spread*(2*rand.Float64()-1))
}
