package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/arbor"
)

// Tracing is a component that records a span per completed event, using the
// event's real fire and completion times. Handler failures mark the span of
// the failed event as errored.
type Tracing struct {
	*arbor.Component

	tracer trace.Tracer
	failed *failureSet
}

// NewTracing creates a Tracing component using the given tracer.
func NewTracing(tracer trace.Tracer, opts ...arbor.ComponentOption) *Tracing {
	t := &Tracing{tracer: tracer, failed: newFailureSet()}
	t.Component = arbor.NewComponent(t, opts...)
	t.On(t.onHandlingError, arbor.WithEvents(arbor.TypeHandlingError), arbor.WithChannels(arbor.Broadcast), arbor.WithPriority(10))
	t.On(t.onCompleted, arbor.WithEvents(arbor.TypeCompleted), arbor.WithChannels(arbor.Broadcast))
	return t
}

func (t *Tracing) onHandlingError(_ context.Context, ev arbor.Event) error {
	he := ev.(*arbor.HandlingError)
	if inner := he.Event(); inner != nil {
		t.failed.record(inner.ID(), he.Err())
	}
	return nil
}

func (t *Tracing) onCompleted(ctx context.Context, ev arbor.Event) error {
	inner := ev.(*arbor.Completed).Event()
	firedAt := inner.FiredAt()
	if firedAt.IsZero() {
		firedAt = time.Now()
	}

	_, span := t.tracer.Start(ctx, "event:"+EventTypeLabel(inner),
		trace.WithTimestamp(firedAt),
		trace.WithAttributes(
			attribute.String("arbor.event_type", EventTypeLabel(inner)),
			attribute.String("arbor.event_id", inner.ID()),
		),
	)
	if err, ok := t.failed.take(inner.ID()); ok {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(time.Now()))
	return nil
}
