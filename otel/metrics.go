// Package otel provides OpenTelemetry observer components for the Arbor
// runtime. The observers are ordinary components: attach them anywhere in a
// tree and they record metrics and spans for the events flowing through it.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/arbor"
)

// Metrics is a component that records OpenTelemetry metrics for completed
// events and handler failures.
type Metrics struct {
	*arbor.Component

	eventsCompleted metric.Int64Counter
	handlerFailures metric.Int64Counter
	eventDuration   metric.Float64Histogram
}

// NewMetrics creates a Metrics component using the given meter for its
// instruments.
func NewMetrics(meter metric.Meter, opts ...arbor.ComponentOption) (*Metrics, error) {
	completed, err := meter.Int64Counter("arbor.events.completed",
		metric.WithDescription("Number of completed events"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("arbor.handler.failures",
		metric.WithDescription("Number of handler failures"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("arbor.event.duration",
		metric.WithDescription("Time from firing an event to its completion in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		eventsCompleted: completed,
		handlerFailures: failures,
		eventDuration:   duration,
	}
	m.Component = arbor.NewComponent(m, opts...)
	m.On(m.onCompleted, arbor.WithEvents(arbor.TypeCompleted), arbor.WithChannels(arbor.Broadcast))
	m.On(m.onHandlingError, arbor.WithEvents(arbor.TypeHandlingError), arbor.WithChannels(arbor.Broadcast))
	return m, nil
}

func (m *Metrics) onCompleted(ctx context.Context, ev arbor.Event) error {
	inner := ev.(*arbor.Completed).Event()
	attrs := metric.WithAttributes(
		attribute.String("event_type", EventTypeLabel(inner)),
	)
	m.eventsCompleted.Add(ctx, 1, attrs)
	if firedAt := inner.FiredAt(); !firedAt.IsZero() {
		m.eventDuration.Record(ctx, time.Since(firedAt).Seconds(), attrs)
	}
	return nil
}

func (m *Metrics) onHandlingError(ctx context.Context, ev arbor.Event) error {
	he := ev.(*arbor.HandlingError)
	attrs := []attribute.KeyValue{}
	if inner := he.Event(); inner != nil {
		attrs = append(attrs, attribute.String("event_type", EventTypeLabel(inner)))
	}
	m.handlerFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
	return nil
}

// EventTypeLabel renders an event's match key as a metric label.
func EventTypeLabel(ev arbor.Event) string {
	switch key := ev.MatchKey().(type) {
	case *arbor.EventType:
		return key.Name()
	case string:
		return key
	default:
		return "unknown"
	}
}
