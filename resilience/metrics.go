package resilience

import (
	"github.com/itsneelabh/hitlchat/telemetry"
)

// Circuit breaker metric names.
const (
	MetricCircuitBreakerSuccess     = "hitlchat.circuit_breaker.success"
	MetricCircuitBreakerFailure     = "hitlchat.circuit_breaker.failure"
	MetricCircuitBreakerRejected    = "hitlchat.circuit_breaker.rejected"
	MetricCircuitBreakerStateChange = "hitlchat.circuit_breaker.state_change"
)

// TelemetryMetrics implements MetricsCollector on top of the telemetry package.
type TelemetryMetrics struct{}

// NewTelemetryMetrics creates a metrics collector that emits through the global meter.
func NewTelemetryMetrics() *TelemetryMetrics {
	return &TelemetryMetrics{}
}

// RecordSuccess records a successful circuit breaker execution
func (TelemetryMetrics) RecordSuccess(name string) {
	telemetry.Counter(MetricCircuitBreakerSuccess, "circuit_breaker", name)
}

// RecordFailure records a failed circuit breaker execution
func (TelemetryMetrics) RecordFailure(name string, errorType string) {
	telemetry.Counter(MetricCircuitBreakerFailure, "circuit_breaker", name, "error_type", errorType)
}

// RecordStateChange records a circuit breaker state transition
func (TelemetryMetrics) RecordStateChange(name string, from, to string) {
	telemetry.Counter(MetricCircuitBreakerStateChange,
		"circuit_breaker", name,
		"from_state", from,
		"to_state", to,
	)
}

// RecordRejection records when circuit breaker rejects a request
func (TelemetryMetrics) RecordRejection(name string) {
	telemetry.Counter(MetricCircuitBreakerRejected, "circuit_breaker", name)
}
