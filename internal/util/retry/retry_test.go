package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithExponentialBackoff_FirstAttemptSucceeds(t *testing.T) {
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		return nil
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestWithExponentialBackoff_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		if attempts < 4 {
			return errors.New("transient")
		}
		return nil
	}, WithInitialDelay(time.Millisecond))
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", attempts)
	}
}

func TestWithExponentialBackoff_ExhaustsRetries(t *testing.T) {
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		return errors.New("always failing")
	}, WithMaxRetries(3), WithInitialDelay(time.Millisecond))
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	// 1 initial attempt + 3 retries.
	if attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", attempts)
	}
}

func TestWithExponentialBackoff_FatalNotRetried(t *testing.T) {
	attempts := 0
	cause := errors.New("permanent")
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		return Fatal(cause)
	}, WithInitialDelay(time.Millisecond))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("fatal error retried: %d attempts", attempts)
	}
}

func TestWithExponentialBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := WithExponentialBackoff(ctx, func() error {
		attempts++
		return errors.New("transient")
	}, WithInitialDelay(10*time.Millisecond))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestWithExponentialBackoff_DelayCapped(t *testing.T) {
	start := time.Now()
	_ = WithExponentialBackoff(context.Background(), func() error {
		return errors.New("transient")
	},
		WithMaxRetries(3),
		WithInitialDelay(time.Millisecond),
		WithMaxDelay(2*time.Millisecond),
		WithMultiplier(100))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("backoff not capped, took %v", elapsed)
	}
}

func TestIsFatal(t *testing.T) {
	if IsFatal(errors.New("plain")) {
		t.Error("plain error reported fatal")
	}
	if !IsFatal(Fatal(errors.New("x"))) {
		t.Error("Fatal error not reported fatal")
	}
	if Fatal(nil) != nil {
		t.Error("Fatal(nil) should be nil")
	}
}
