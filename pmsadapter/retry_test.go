package pmsadapter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyBackoffProgression(t *testing.T) {
	policy := DefaultRetryPolicy()
	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for i, want := range expected {
		if got := policy.DelayFor(i + 1); got != want {
			t.Fatalf("attempt %d: expected delay %s, got %s", i+1, want, got)
		}
	}
	// Backoff must cap at MaxDelay no matter how high the attempt count.
	if got := policy.DelayFor(30); got != policy.MaxDelay {
		t.Fatalf("expected capped delay %s, got %s", policy.MaxDelay, got)
	}
}

func TestRetryPolicyStopsOnPermanentError(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Millisecond, Factor: 2, MaxDelay: time.Second, MaxAttempts: 5}
	permanent := &PermanentAdapterError{VendorType: "TEST", StatusCode: 404, Message: "not found"}
	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error surfaced, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retries for permanent error, got %d calls", calls)
	}
}

func TestRetryPolicyRetriesTransientUntilSuccess(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Millisecond, Factor: 2, MaxDelay: time.Second, MaxAttempts: 5}
	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &TransientNetworkError{VendorType: "TEST", Err: errors.New("timeout")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Millisecond, Factor: 2, MaxDelay: time.Second, MaxAttempts: 3}
	calls := 0
	transient := &TransientNetworkError{VendorType: "TEST", Err: errors.New("flaky")}
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected last transient error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly MaxAttempts calls, got %d", calls)
	}
}

func TestRetryPolicyHonorsRetryAfterHint(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Millisecond, Factor: 2, MaxDelay: time.Second, MaxAttempts: 2}
	hint := 50 * time.Millisecond
	calls := 0
	start := time.Now()
	_ = policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &RateLimitedError{VendorType: "TEST", RetryAfter: hint}
	})
	elapsed := time.Since(start)
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if elapsed < hint {
		t.Fatalf("expected at least %s waited for retry-after hint, got %s", hint, elapsed)
	}
}

func TestRetryPolicyRespectsCancellation(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Hour, Factor: 2, MaxDelay: time.Hour, MaxAttempts: 5}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := policy.Do(ctx, func(ctx context.Context) error {
		return &TransientNetworkError{VendorType: "TEST", Err: errors.New("still down")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
