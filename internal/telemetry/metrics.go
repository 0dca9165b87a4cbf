// Package telemetry exposes OpenTelemetry instruments for the session engine.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the session engine instruments. A nil *Metrics is valid and
// records nothing, so components never need to guard their call sites.
type Metrics struct {
	eventsDispatched  metric.Int64Counter
	messagesRouted    metric.Int64Counter
	messagesDropped   metric.Int64Counter
	updatesSuppressed metric.Int64Counter
	fanoutLatency     metric.Float64Histogram
	queueDepth        metric.Int64UpDownCounter
}

// New registers the engine instruments against the provider.
func New(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("github.com/tidewire/tidewire")

	eventsDispatched, err := meter.Int64Counter("tidewire.events.dispatched",
		metric.WithDescription("Events processed by the dispatcher, by kind."))
	if err != nil {
		return nil, fmt.Errorf("create dispatched counter: %w", err)
	}
	messagesRouted, err := meter.Int64Counter("tidewire.messages.routed",
		metric.WithDescription("Messages appended to a pending accumulator."))
	if err != nil {
		return nil, fmt.Errorf("create routed counter: %w", err)
	}
	messagesDropped, err := meter.Int64Counter("tidewire.messages.dropped",
		metric.WithDescription("Messages whose correlation had no pending accumulator."))
	if err != nil {
		return nil, fmt.Errorf("create dropped counter: %w", err)
	}
	updatesSuppressed, err := meter.Int64Counter("tidewire.conflation.suppressed",
		metric.WithDescription("Real-time updates conflated away as unchanged."))
	if err != nil {
		return nil, fmt.Errorf("create suppressed counter: %w", err)
	}
	fanoutLatency, err := meter.Float64Histogram("tidewire.conflation.fanout_seconds",
		metric.WithDescription("Listener fan-out duration per changed value."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create fanout histogram: %w", err)
	}
	queueDepth, err := meter.Int64UpDownCounter("tidewire.subscription.queue_depth",
		metric.WithDescription("Entries waiting in the subscription queue."))
	if err != nil {
		return nil, fmt.Errorf("create queue depth counter: %w", err)
	}

	return &Metrics{
		eventsDispatched:  eventsDispatched,
		messagesRouted:    messagesRouted,
		messagesDropped:   messagesDropped,
		updatesSuppressed: updatesSuppressed,
		fanoutLatency:     fanoutLatency,
		queueDepth:        queueDepth,
	}, nil
}

// EventDispatched records one dispatched event of the given kind.
func (m *Metrics) EventDispatched(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.eventsDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// MessageRouted records one message delivered to an accumulator.
func (m *Metrics) MessageRouted(ctx context.Context) {
	if m == nil {
		return
	}
	m.messagesRouted.Add(ctx, 1)
}

// MessageDropped records one message with no matching correlation.
func (m *Metrics) MessageDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.messagesDropped.Add(ctx, 1)
}

// UpdateSuppressed records one conflated (unchanged) update.
func (m *Metrics) UpdateSuppressed(ctx context.Context) {
	if m == nil {
		return
	}
	m.updatesSuppressed.Add(ctx, 1)
}

// FanoutObserved records the listener fan-out duration for one changed value.
func (m *Metrics) FanoutObserved(ctx context.Context, d time.Duration, listeners int) {
	if m == nil {
		return
	}
	m.fanoutLatency.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.Int("listeners", listeners)))
}

// QueueDepthAdd adjusts the subscription queue depth gauge.
func (m *Metrics) QueueDepthAdd(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.queueDepth.Add(ctx, delta)
}
