package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/itsneelabh/hitlchat/core"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed allows all requests through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows limited requests for testing
	StateHalfOpen
)

// String returns the string representation of the state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MetricsCollector interface for circuit breaker metrics
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string, errorType string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

// noopMetrics is a no-op metrics implementation
type noopMetrics struct{}

func (n *noopMetrics) RecordSuccess(name string)                      {}
func (n *noopMetrics) RecordFailure(name string, errorType string)    {}
func (n *noopMetrics) RecordStateChange(name string, from, to string) {}
func (n *noopMetrics) RecordRejection(name string)                    {}

// ErrorClassifier determines which errors should count toward circuit breaker thresholds
type ErrorClassifier func(error) bool

// DefaultErrorClassifier only counts infrastructure errors, not caller errors.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}

	// Configuration, not found and state errors are caller problems
	if core.IsConfigurationError(err) || core.IsNotFound(err) || core.IsStateError(err) {
		return false
	}

	// Rejected credentials will not recover by waiting
	if errors.Is(err, core.ErrUnauthorized) {
		return false
	}

	// Context cancellation - the caller gave up
	if core.IsCanceled(err) {
		return false
	}

	return true
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name identifies the circuit breaker in logs and metrics
	Name string

	// ErrorThreshold is the error rate (0.0 to 1.0) that triggers opening
	ErrorThreshold float64

	// VolumeThreshold is the minimum number of requests in the window before evaluation
	VolumeThreshold int

	// SleepWindow is how long to wait before entering half-open state
	SleepWindow time.Duration

	// HalfOpenRequests is the number of test requests in half-open state
	HalfOpenRequests int

	// WindowSize is the duration after which closed-state counters reset
	WindowSize time.Duration

	// ErrorClassifier determines which errors count as failures
	ErrorClassifier ErrorClassifier

	Logger  core.Logger
	Metrics MetricsCollector
}

// DefaultConfig returns the default configuration
func DefaultConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             "default",
		ErrorThreshold:   0.5,
		VolumeThreshold:  10,
		SleepWindow:      30 * time.Second,
		HalfOpenRequests: 3,
		WindowSize:       60 * time.Second,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}
}

// FromCoreConfig builds a breaker configuration from the client configuration.
func FromCoreConfig(name string, cfg core.CircuitBreakerConfig, logger core.Logger) *CircuitBreakerConfig {
	c := DefaultConfig()
	c.Name = name
	if cfg.ErrorThreshold > 0 {
		c.ErrorThreshold = cfg.ErrorThreshold
	}
	if cfg.VolumeThreshold > 0 {
		c.VolumeThreshold = cfg.VolumeThreshold
	}
	if cfg.SleepWindow > 0 {
		c.SleepWindow = cfg.SleepWindow
	}
	if logger != nil {
		c.Logger = logger
	}
	return c
}

// Validate checks the configuration.
func (c *CircuitBreakerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("circuit breaker name is required: %w", core.ErrInvalidConfiguration)
	}
	if c.ErrorThreshold <= 0 || c.ErrorThreshold > 1 {
		return fmt.Errorf("error threshold must be in (0,1], got %v: %w", c.ErrorThreshold, core.ErrInvalidConfiguration)
	}
	if c.VolumeThreshold < 1 {
		return fmt.Errorf("volume threshold must be positive: %w", core.ErrInvalidConfiguration)
	}
	if c.SleepWindow <= 0 {
		return fmt.Errorf("sleep window must be positive: %w", core.ErrInvalidConfiguration)
	}
	if c.HalfOpenRequests < 1 {
		return fmt.Errorf("half-open requests must be positive: %w", core.ErrInvalidConfiguration)
	}
	return nil
}

// CircuitBreaker fails fast once the error rate of recent calls crosses the
// threshold, then probes recovery with a limited number of half-open calls.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	mu             sync.Mutex
	state          CircuitState
	stateChangedAt time.Time
	windowStart    time.Time
	successes      int
	failures       int
	halfOpenInUse  int
	halfOpenOK     int
	listeners      []func(name string, from, to CircuitState)

	now func() time.Time
}

// NewCircuitBreaker creates a circuit breaker. A nil config uses DefaultConfig.
func NewCircuitBreaker(config *CircuitBreakerConfig) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &noopMetrics{}
	}
	if config.WindowSize <= 0 {
		config.WindowSize = 60 * time.Second
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	return &CircuitBreaker{
		config:         config,
		state:          StateClosed,
		stateChangedAt: now,
		windowStart:    now,
		now:            time.Now,
	}, nil
}

// Execute runs fn when the circuit allows it and records the outcome.
// Rejections return an error wrapping core.ErrCircuitBreakerOpen.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.CanExecute() {
		cb.config.Metrics.RecordRejection(cb.config.Name)
		cb.config.Logger.Debug("Circuit breaker rejected execution", map[string]interface{}{
			"operation": "circuit_breaker_reject",
			"name":      cb.config.Name,
			"state":     cb.GetState(),
		})
		return fmt.Errorf("circuit breaker '%s' is open: %w", cb.config.Name, core.ErrCircuitBreakerOpen)
	}

	err := fn()
	if err != nil && cb.config.ErrorClassifier(err) {
		cb.RecordFailure()
		cb.config.Metrics.RecordFailure(cb.config.Name, fmt.Sprintf("%T", err))
		return err
	}
	cb.RecordSuccess()
	cb.config.Metrics.RecordSuccess(cb.config.Name)
	return err
}

// CanExecute reports whether a call may proceed, reserving a half-open slot
// when the circuit is probing recovery.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(cb.stateChangedAt) < cb.config.SleepWindow {
			return false
		}
		cb.transitionLocked(StateHalfOpen, now)
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenInUse >= cb.config.HalfOpenRequests {
			return false
		}
		cb.halfOpenInUse++
		return true
	}
	return false
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case StateClosed:
		cb.rollWindowLocked(now)
		cb.successes++
	case StateHalfOpen:
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.config.HalfOpenRequests {
			cb.transitionLocked(StateClosed, now)
		}
	}
}

// RecordFailure records a failed call and opens the circuit when needed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case StateClosed:
		cb.rollWindowLocked(now)
		cb.failures++
		total := cb.successes + cb.failures
		if total >= cb.config.VolumeThreshold &&
			float64(cb.failures)/float64(total) >= cb.config.ErrorThreshold {
			cb.config.Logger.Warn("Circuit breaker opening due to error threshold", map[string]interface{}{
				"operation":       "circuit_breaker_opening",
				"name":            cb.config.Name,
				"failures":        cb.failures,
				"total_requests":  total,
				"error_threshold": cb.config.ErrorThreshold,
			})
			cb.transitionLocked(StateOpen, now)
		}
	case StateHalfOpen:
		cb.transitionLocked(StateOpen, now)
	}
}

// GetState returns the current state name.
func (cb *CircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

// AddStateChangeListener adds a listener for state changes
func (cb *CircuitBreaker) AddStateChangeListener(listener func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.listeners = append(cb.listeners, listener)
}

// Reset closes the circuit and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed, cb.now())
}

func (cb *CircuitBreaker) rollWindowLocked(now time.Time) {
	if now.Sub(cb.windowStart) >= cb.config.WindowSize {
		cb.windowStart = now
		cb.successes = 0
		cb.failures = 0
	}
}

// transitionLocked changes state (must be called with lock held)
func (cb *CircuitBreaker) transitionLocked(to CircuitState, now time.Time) {
	from := cb.state
	cb.state = to
	cb.stateChangedAt = now
	cb.windowStart = now
	cb.successes = 0
	cb.failures = 0
	cb.halfOpenInUse = 0
	cb.halfOpenOK = 0

	if from == to {
		return
	}

	cb.config.Logger.Info("Circuit breaker state changed", map[string]interface{}{
		"name": cb.config.Name,
		"from": from.String(),
		"to":   to.String(),
	})
	cb.config.Metrics.RecordStateChange(cb.config.Name, from.String(), to.String())

	for _, listener := range cb.listeners {
		go listener(cb.config.Name, from, to)
	}
}
