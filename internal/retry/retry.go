// Package retry wraps chain reads and writes with bounded exponential
// backoff plus jitter. Only transient failures are retried; deterministic
// rejections surface immediately.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/claimerr"
)

type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     int
	// Jitter is the fraction of the backoff randomized around the base
	// delay, in [0, 1]. Zero disables jitter.
	Jitter float64

	// OnRetry, if set, observes each scheduled retry before the delay
	// elapses. Used for metrics and tests.
	OnRetry func(attempt int, delay time.Duration)

	sleep func(context.Context, time.Duration) error
}

// Do invokes op until it succeeds, fails terminally, or attempts run out.
// The final error is returned unchanged so callers keep its kind.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	var zero T

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !claimerr.Retryable(err) || i == attempts {
			return zero, err
		}

		delay := jittered(backoff, cfg.Jitter)
		if cfg.MaxBackoff > 0 && delay > cfg.MaxBackoff {
			delay = cfg.MaxBackoff
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(i, delay)
		}
		if err := sleepFn(cfg)(ctx, delay); err != nil {
			return zero, err
		}

		if cfg.Multiplier > 1 {
			backoff *= time.Duration(cfg.Multiplier)
		}
	}
	return zero, lastErr
}

func jittered(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	if frac > 1 {
		frac = 1
	}
	// Uniform in [d*(1-frac), d*(1+frac)].
	span := float64(d) * frac
	return time.Duration(float64(d) - span + 2*span*rand.Float64())
}

func sleepFn(cfg Config) func(context.Context, time.Duration) error {
	if cfg.sleep != nil {
		return cfg.sleep
	}
	return func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
}
