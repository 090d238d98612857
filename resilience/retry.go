package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/hogarapp/finsync/core"
)

// Retryer wraps provider calls with a per-attempt timeout and exponential
// backoff. Only transient failures are retried; authorization and
// configuration failures short-circuit on the first attempt since more
// attempts cannot change the outcome.
type Retryer struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger core.Logger

	// Sleep is swappable so tests do not wait on real backoff.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryer(cfg core.RetryConfig, logger core.Logger) *Retryer {
	return &Retryer{
		MaxAttempts:    cfg.MaxAttempts,
		AttemptTimeout: cfg.AttemptTimeout,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Logger:         logger,
	}
}

// Do runs op until it succeeds, the attempt budget is exhausted, or a
// non-transient failure shows up. The error from the last attempt is
// returned unchanged so callers can classify it.
func (r *Retryer) Do(ctx context.Context, label string, op func(ctx context.Context) error) error {
	if r == nil {
		return fmt.Errorf("resilience: retryer is nil")
	}
	if op == nil {
		return fmt.Errorf("resilience: operation is nil")
	}

	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = r.runAttempt(ctx, op)
		if lastErr == nil {
			return nil
		}
		if core.IsAuthorization(lastErr) || core.IsConfiguration(lastErr) || core.IsData(lastErr) {
			return lastErr
		}
		if !core.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := r.backoff(attempt)
		r.logRetry(label, attempt, delay, lastErr)
		if err := r.sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func (r *Retryer) runAttempt(ctx context.Context, op func(ctx context.Context) error) error {
	if r.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.AttemptTimeout)
	defer cancel()
	return op(attemptCtx)
}

func (r *Retryer) backoff(attempt int) time.Duration {
	initial := r.InitialBackoff
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	maximum := r.MaxBackoff
	if maximum <= 0 {
		maximum = 10 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

func (r *Retryer) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
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

func (r *Retryer) logRetry(label string, attempt int, delay time.Duration, err error) {
	if r.Logger == nil {
		return
	}
	r.Logger.Warn("transient failure, retrying",
		"operation", label,
		"attempt", attempt,
		"delay", delay.String(),
		"error", err,
	)
}
