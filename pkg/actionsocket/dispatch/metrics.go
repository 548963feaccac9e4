package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tsarna/actionsocket/pkg/actionsocket/o11y"
)

// Metrics holds the instruments recorded by the dispatcher. A nil *Metrics
// records nothing.
type Metrics struct {
	invocations o11y.Counter   // completed invocations by outcome
	duration    o11y.Histogram // resolve + handler time
	failures    o11y.Counter   // failures by kind
	emissions   o11y.Counter   // events emitted by policy
	acks        o11y.Counter   // acknowledgments sent
	inFlight    o11y.Gauge

	running int64
}

// NewMetrics creates the dispatch instruments. Returns nil when provider is
// nil.
func NewMetrics(provider o11y.MetricsProvider) *Metrics {
	if provider == nil {
		return nil
	}

	return &Metrics{
		invocations: provider.Counter("dispatch_invocations_total"),
		duration:    provider.Histogram("dispatch_invocation_duration_seconds"),
		failures:    provider.Counter("dispatch_failures_total"),
		emissions:   provider.Counter("dispatch_emissions_total"),
		acks:        provider.Counter("dispatch_acks_total"),
		inFlight:    provider.Gauge("dispatch_invocations_in_flight"),
	}
}

// RecordStart marks an invocation as running and returns a function that
// records its completion.
//
//	done := metrics.RecordStart(ctx, "/chat", "save")
//	defer done(outcome)
func (m *Metrics) RecordStart(ctx context.Context, namespace, actionName string) func(result string) {
	if m == nil {
		return func(string) {}
	}

	start := time.Now()
	m.inFlight.Set(ctx, float64(atomic.AddInt64(&m.running, 1)))

	return func(result string) {
		labels := []o11y.Label{
			{Key: "namespace", Value: namespace},
			{Key: "action", Value: actionName},
		}
		m.duration.Record(ctx, time.Since(start).Seconds(), labels...)
		m.invocations.Add(ctx, 1, append(labels, o11y.Label{Key: "result", Value: result})...)
		m.inFlight.Set(ctx, float64(atomic.AddInt64(&m.running, -1)))
	}
}

// RecordFailure counts a failed invocation by failure kind.
func (m *Metrics) RecordFailure(ctx context.Context, actionName, kind string) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1,
		o11y.Label{Key: "action", Value: actionName},
		o11y.Label{Key: "kind", Value: kind},
	)
}

// RecordEmission counts an emitted event.
func (m *Metrics) RecordEmission(ctx context.Context, event, policy string) {
	if m == nil {
		return
	}
	m.emissions.Add(ctx, 1,
		o11y.Label{Key: "event", Value: event},
		o11y.Label{Key: "policy", Value: policy},
	)
}

// RecordAck counts an acknowledgment.
func (m *Metrics) RecordAck(ctx context.Context, actionName string) {
	if m == nil {
		return
	}
	m.acks.Add(ctx, 1, o11y.Label{Key: "action", Value: actionName})
}
