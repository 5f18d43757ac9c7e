// Package retry runs an operation with exponential backoff.
//
// The orchestrator wraps every analyzer call in a Policy: attempt 1 runs
// immediately, later attempts wait base, base*2, base*4 ... capped at MaxDelay.
// A Retry-After hint on the error replaces the computed delay (still capped).
// Permanent errors and context cancellation stop the loop early.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"therapybridge/internal/services"
)

// Policy describes how many times and how patiently to retry.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// AttemptTimeout bounds each attempt. Zero means no per-attempt deadline.
	AttemptTimeout time.Duration
	// Sleep overrides how delays are waited (tests). It must honour ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait with the failed attempt number.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// RetryAfterHinter is implemented by errors that carry a server-provided delay.
type RetryAfterHinter interface {
	RetryAfterHint() time.Duration
}

// Result reports how a Do call went.
type Result struct {
	Attempts int
}

// ErrExhausted marks the error returned after the last attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Do runs op until it succeeds, fails permanently, the context ends, or the
// attempts run out.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) (Result, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempt - 1}, err
		}
		err := p.runAttempt(ctx, op)
		if err == nil {
			return Result{Attempts: attempt}, nil
		}
		lastErr = err
		if services.Permanent(err) || ctx.Err() != nil {
			return Result{Attempts: attempt}, err
		}
		if attempt == attempts {
			break
		}
		delay := p.delayFor(err, attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return Result{Attempts: attempt}, err
		}
	}
	return Result{Attempts: attempts}, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

func (p Policy) runAttempt(ctx context.Context, op func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	err := op(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return services.Wrap(services.ErrTimeout, "retry", "attempt", fmt.Sprintf("exceeded %s", p.AttemptTimeout), err)
	}
	return err
}

func (p Policy) delayFor(err error, attempt int) time.Duration {
	var hinted RetryAfterHinter
	if errors.As(err, &hinted) {
		if hint := hinted.RetryAfterHint(); hint > 0 {
			return p.capDelay(hint)
		}
	}
	return p.Backoff(attempt)
}

// Backoff returns the delay after the given 1-based failed attempt:
// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if p.MaxDelay > 0 && delay > p.MaxDelay/2 {
			delay = p.MaxDelay
			break
		}
		delay *= 2
	}
	return p.capDelay(delay)
}

func (p Policy) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p Policy) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if p.Sleep != nil {
		return p.Sleep(ctx, delay)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
