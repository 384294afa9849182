package clients

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errPermanent = errors.New("bad request")

func TestExecutor_RetriesUpToConfiguredLimit(t *testing.T) {
	exec := NewExecutor(RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
	})

	var attempts int32
	err := exec.Run(context.Background(), func(context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("dns lag")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected exactly 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestExecutor_NegativeRetriesMeansSingleAttempt(t *testing.T) {
	exec := NewExecutor(RetryConfig{MaxRetries: -3})

	var attempts int32
	err := exec.Run(context.Background(), func(context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("network partition")
	})
	if err == nil {
		t.Fatal("expected request to fail")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestExecutor_ReturnsLastFailureAndSkipsNonRetryable(t *testing.T) {
	exec := NewExecutor(RetryConfig{
		MaxRetries:  5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		ShouldRetry: func(err error) bool { return !errors.Is(err, errPermanent) },
	})

	var attempts int32
	err := exec.Run(context.Background(), func(context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errPermanent
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected the original error, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected no retries for a permanent error, got %d", got)
	}
}

func TestExecutor_PassesContextToAttempt(t *testing.T) {
	exec := NewExecutor(DefaultRetryConfig())
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")

	err := exec.Run(ctx, func(attemptCtx context.Context) error {
		if attemptCtx.Value(key{}) != "v" {
			return errPermanent
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
