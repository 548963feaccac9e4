package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/tsarna/actionsocket/pkg/actionsocket/o11y"
)

func newNoopProvider() *Provider {
	return NewProviderFrom(metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider(), "actionsocket-test", "0.0.0")
}

func TestInstruments(t *testing.T) {
	p := newNoopProvider()
	ctx := context.Background()
	label := o11y.Label{Key: "namespace", Value: "/chat"}

	assert.NotPanics(t, func() {
		p.Counter("c").Add(ctx, 1, label)
		p.Histogram("h").Record(ctx, 0.5, label)
	})

	ctx, span := p.StartSpan(ctx, "dispatch save")
	require.NotNil(t, ctx)
	assert.NotPanics(t, func() {
		span.SetAttributes(label)
		span.SetStatus(o11y.SpanStatusError, "boom")
		span.End()
	})
}

func TestGaugeTracksLastValuePerLabelSet(t *testing.T) {
	p := newNoopProvider()
	ctx := context.Background()
	g := p.Gauge("active").(*otelGauge)

	chat := o11y.Label{Key: "namespace", Value: "/chat"}
	root := o11y.Label{Key: "namespace", Value: "/"}

	g.Set(ctx, 3, chat)
	g.Set(ctx, 1, root)
	g.Set(ctx, 2, chat)

	key := func(l o11y.Label) attribute.Distinct {
		s := attribute.NewSet(attribute.String(l.Key, l.Value))
		return s.Equivalent()
	}
	assert.Equal(t, 2.0, g.last[key(chat)])
	assert.Equal(t, 1.0, g.last[key(root)])
}

func TestProvidersSatisfyInterfaces(t *testing.T) {
	var metrics o11y.MetricsProvider = NewProvider("actionsocket-test", "0.0.0")
	var tracing o11y.TracingProvider = newNoopProvider()
	assert.NotNil(t, metrics)
	assert.NotNil(t, tracing)
}
