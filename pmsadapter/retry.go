package pmsadapter

import (
	"context"
	"time"
)

// RetryPolicy governs adapter-level retries of transient failures.
// Non-retryable errors surface immediately.
type RetryPolicy struct {
	BaseDelay   time.Duration
	Factor      int
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   time.Second,
		Factor:      2,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 5,
	}
}

// DelayFor returns the backoff before attempt n (1-based).
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= time.Duration(p.Factor)
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Do runs fn until it succeeds, fails permanently, or attempts exhaust.
// A vendor retry-after hint overrides the computed backoff when longer.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		delay := p.DelayFor(attempt)
		if hint := RetryAfterHint(lastErr); hint > delay {
			delay = hint
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
