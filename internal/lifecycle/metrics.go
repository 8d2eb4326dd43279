package lifecycle

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petreltrade/petrel/internal/telemetry"
)

// controllerMetrics records lifecycle activity through the global meter
// provider. Instrument construction failures degrade to no-ops.
type controllerMetrics struct {
	submissions   metric.Int64Counter
	transitions   metric.Int64Counter
	submitLatency metric.Float64Histogram
}

func newControllerMetrics() *controllerMetrics {
	meter := otel.Meter("lifecycle")
	m := &controllerMetrics{}
	if counter, err := meter.Int64Counter("petrel_orders_submitted_total",
		metric.WithDescription("Order submissions by outcome"),
		metric.WithUnit("{order}")); err == nil {
		m.submissions = counter
	}
	if counter, err := meter.Int64Counter("petrel_order_transitions_total",
		metric.WithDescription("Order lifecycle state transitions"),
		metric.WithUnit("{transition}")); err == nil {
		m.transitions = counter
	}
	if hist, err := meter.Float64Histogram("petrel_order_submit_latency_ms",
		metric.WithDescription("Venue round-trip latency for order placement"),
		metric.WithUnit("ms")); err == nil {
		m.submitLatency = hist
	}
	return m
}

func (m *controllerMetrics) recordSubmission(ctx context.Context, symbol, result string) {
	if m == nil || m.submissions == nil {
		return
	}
	m.submissions.Add(ctx, 1, metric.WithAttributes(
		telemetry.AttrSymbol.String(symbol),
		telemetry.AttrResult.String(result),
	))
}

func (m *controllerMetrics) recordTransition(ctx context.Context, from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *controllerMetrics) recordSubmitLatency(ctx context.Context, symbol string, elapsed time.Duration) {
	if m == nil || m.submitLatency == nil {
		return
	}
	m.submitLatency.Record(ctx, float64(elapsed)/float64(time.Millisecond),
		metric.WithAttributes(telemetry.AttrSymbol.String(symbol)))
}
