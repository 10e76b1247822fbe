package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/itsneelabh/hitlchat/core"
)

func fastRetryConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterEnabled: false,
	}
}

// TestRetryBasicSuccess tests successful execution on first attempt
func TestRetryBasicSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

// TestRetryEventualSuccess tests success after transient failures
func TestRetryEventualSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("state query: %w", core.ErrTimeout)
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected eventual success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(5), func() error {
		attempts++
		return core.ErrUnauthorized
	})

	if !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
	if errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Error("a non-retryable error is returned as-is")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryExhaustion(t *testing.T) {
	var attempts int32
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		atomic.AddInt32(&attempts, 1)
		return fmt.Errorf("dial: %w", core.ErrConnectionFailed)
	})

	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if !errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Errorf("Expected ErrMaxRetriesExceeded, got %v", err)
	}
	if !errors.Is(err, core.ErrConnectionFailed) {
		t.Errorf("The last error should stay reachable, got %v", err)
	}
	if !strings.Contains(err.Error(), "max retry attempts (3) exceeded") {
		t.Errorf("Unexpected message %q", err.Error())
	}
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(0), func() error {
		attempts++
		return core.ErrTimeout
	})

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if !errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Errorf("Expected ErrMaxRetriesExceeded, got %v", err)
	}
}

func TestRetryCustomShouldRetry(t *testing.T) {
	cfg := fastRetryConfig(4)
	cfg.ShouldRetry = func(err error) bool { return true }

	attempts := 0
	_ = Retry(context.Background(), cfg, func() error {
		attempts++
		return errors.New("anything")
	})

	if attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", attempts)
	}
}

// TestRetryContextCancellation tests that a canceled context stops the backoff wait
func TestRetryContextCancellation(t *testing.T) {
	cfg := fastRetryConfig(10)
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Retry(ctx, cfg, func() error {
		attempts++
		return core.ErrTimeout
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Retry should return promptly on cancellation")
	}
}

func TestRetryConfigFromCore(t *testing.T) {
	rc := RetryConfigFromCore(core.RetryConfig{MaxAttempts: 5, InitialInterval: time.Second})

	if rc.MaxAttempts != 5 || rc.InitialDelay != time.Second {
		t.Errorf("unexpected config %+v", rc)
	}
	if rc.MaxDelay != DefaultRetryConfig().MaxDelay || rc.BackoffFactor != 2.0 {
		t.Errorf("unset fields should keep defaults, got %+v", rc)
	}
}

func TestRetryWithCircuitBreakerStopsWhenOpen(t *testing.T) {
	cb, _, _ := newTestBreaker(t, func(c *CircuitBreakerConfig) {
		c.VolumeThreshold = 2
		c.SleepWindow = time.Hour
	})

	attempts := 0
	err := RetryWithCircuitBreaker(context.Background(), fastRetryConfig(5), cb, func() error {
		attempts++
		return errUpstream
	})

	if !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected the breaker to stop after 2 calls, got %d", attempts)
	}
}

func TestRetryWithNilCircuitBreaker(t *testing.T) {
	attempts := 0
	err := RetryWithCircuitBreaker(context.Background(), fastRetryConfig(2), nil, func() error {
		attempts++
		return nil
	})

	if err != nil || attempts != 1 {
		t.Errorf("err = %v, attempts = %d", err, attempts)
	}
}

func TestTelemetryMetricsDoesNotPanic(t *testing.T) {
	m := NewTelemetryMetrics()
	m.RecordSuccess("backend")
	m.RecordFailure("backend", "*errors.errorString")
	m.RecordStateChange("backend", "closed", "open")
	m.RecordRejection("backend")
}
