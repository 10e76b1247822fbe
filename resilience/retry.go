package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/itsneelabh/hitlchat/core"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool

	// ShouldRetry decides whether an error is worth another attempt.
	// Defaults to core.IsRetryable.
	ShouldRetry func(error) bool
}

// DefaultRetryConfig provides sensible defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// RetryConfigFromCore converts the client retry settings.
func RetryConfigFromCore(cfg core.RetryConfig) *RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		rc.InitialDelay = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		rc.MaxDelay = cfg.MaxInterval
	}
	if cfg.Multiplier >= 1 {
		rc.BackoffFactor = cfg.Multiplier
	}
	return rc
}

func (c *RetryConfig) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.BackoffFactor
	if !c.JitterEnabled {
		b.RandomizationFactor = 0
	}
	b.Reset()
	return b
}

// Retry executes fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. Delays grow exponentially between attempts.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	shouldRetry := config.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = core.IsRetryable
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	b := config.backOff()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}

		// Don't sleep after the last attempt
		if attempt == maxAttempts {
			break
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w: %w", maxAttempts, core.ErrMaxRetriesExceeded, lastErr)
}

// RetryWithCircuitBreaker combines retry logic with circuit breaker.
// An open circuit stops retrying immediately because core.ErrCircuitBreakerOpen
// is not retryable.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	if cb == nil {
		return Retry(ctx, config, fn)
	}
	return Retry(ctx, config, func() error {
		return cb.Execute(ctx, fn)
	})
}
