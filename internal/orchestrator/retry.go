package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Policy describes exponential backoff for retriable operations.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultPolicy matches the pipeline's standard transient-failure handling.
func DefaultPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Multiplier:  2,
		MaxDelay:    maxDelay,
	}
}

// Delay returns the backoff before attempt n (1-based first retry).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs fn, retrying on errors retriable reports as transient, with
// exponential backoff between attempts. onFailure, when non-nil, is invoked
// with the 1-based count of each failed transient attempt so callers can
// persist it. The last error is returned once attempts are exhausted or a
// permanent error occurs.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, op string, fn func() error, retriable func(error) bool, onFailure func(failures int)) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if retriable != nil && !retriable(lastErr) {
			return lastErr
		}
		if onFailure != nil {
			onFailure(attempt)
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		logger.Warn("retrying after transient failure",
			"operation", op, "attempt", attempt, "delay", delay, "error", lastErr)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", op, p.MaxAttempts, lastErr)
}
