// Package o11y defines the metrics and tracing interfaces used by the
// dispatcher and the WebSocket transport, so either can run with
// OpenTelemetry, the in-memory provider, or nothing at all.
package o11y

import (
	"context"
)

// MetricsProvider creates named instruments.
type MetricsProvider interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// TracingProvider starts spans.
type TracingProvider interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Counter is a monotonically increasing metric.
type Counter interface {
	Add(ctx context.Context, value int64, labels ...Label)
}

// Histogram records a distribution of values.
type Histogram interface {
	Record(ctx context.Context, value float64, labels ...Label)
}

// Gauge holds a value that can go up and down.
type Gauge interface {
	Set(ctx context.Context, value float64, labels ...Label)
}

// Span is a unit of work in a trace.
type Span interface {
	SetAttributes(labels ...Label)
	SetStatus(code SpanStatusCode, description string)
	End()
}

// Label is a key-value pair attached to metrics and spans.
type Label struct {
	Key   string
	Value string
}

// SpanStatusCode is the outcome recorded on a span.
type SpanStatusCode int

const (
	SpanStatusUnset SpanStatusCode = iota
	SpanStatusOK
	SpanStatusError
)

// StartSpan starts a span when provider is set and returns a no-op span
// otherwise, so callers never need a nil check.
func StartSpan(ctx context.Context, provider TracingProvider, name string) (context.Context, Span) {
	if provider == nil {
		return ctx, nopSpan{}
	}
	return provider.StartSpan(ctx, name)
}

type nopSpan struct{}

func (nopSpan) SetAttributes(...Label) {}
func (nopSpan) SetStatus(SpanStatusCode, string) {}
func (nopSpan) End() {}
