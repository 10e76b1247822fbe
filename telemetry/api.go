// Package telemetry provides tracing setup, span helpers and simple metric
// emission for the client. Metrics go through the global OpenTelemetry meter,
// so they are no-ops until a meter provider is installed.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names emitted by the client.
const (
	MetricInterruptPublished = "hitlchat.interrupt.published"
	MetricInterruptCleared   = "hitlchat.interrupt.cleared"
	MetricQueryFailed        = "hitlchat.detector.query_failed"
	MetricResumeSubmitted    = "hitlchat.resume.submitted"
	MetricResumeFailed       = "hitlchat.resume.failed"
	MetricResumeDuration     = "hitlchat.resume.duration_ms"
	MetricLiveReconnects     = "hitlchat.live.reconnects"
)

var (
	counters   sync.Map // name -> metric.Float64Counter
	histograms sync.Map // name -> metric.Float64Histogram
)

// Counter increments a counter metric by 1.
// Labels are key-value pairs.
// Example: Counter("hitlchat.resume.failed", "decision", "approve")
func Counter(name string, labels ...string) {
	if c := counter(name); c != nil {
		c.Add(context.Background(), 1, metric.WithAttributes(toAttributes(labels)...))
	}
}

// Histogram records a value in a distribution.
func Histogram(name string, value float64, labels ...string) {
	if h := histogram(name); h != nil {
		h.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
	}
}

// Duration records elapsed time since startTime in milliseconds.
func Duration(name string, startTime time.Time, labels ...string) {
	Histogram(name, float64(time.Since(startTime).Milliseconds()), labels...)
}

func counter(name string) metric.Float64Counter {
	if c, ok := counters.Load(name); ok {
		return c.(metric.Float64Counter)
	}
	c, err := otel.Meter(instrumentationName).Float64Counter(name)
	if err != nil {
		return nil
	}
	actual, _ := counters.LoadOrStore(name, c)
	return actual.(metric.Float64Counter)
}

func histogram(name string) metric.Float64Histogram {
	if h, ok := histograms.Load(name); ok {
		return h.(metric.Float64Histogram)
	}
	h, err := otel.Meter(instrumentationName).Float64Histogram(name)
	if err != nil {
		return nil
	}
	actual, _ := histograms.LoadOrStore(name, h)
	return actual.(metric.Float64Histogram)
}

// toAttributes turns "k1", "v1", "k2", "v2" into attributes. A trailing key
// without a value is dropped.
func toAttributes(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}
