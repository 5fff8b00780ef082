package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the event bus tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("eventbus")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartTickSpan starts a span for one scheduler tick.
	StartTickSpan(ctx context.Context) (context.Context, trace.Span)

	// StartConsumeSpan starts a span for one consumption attempt.
	// The consume span should be a child of the tick span.
	StartConsumeSpan(ctx context.Context, eventType, eventID, consumerID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartTickSpan starts a span for one scheduler tick.
func (m *otelSpanManager) StartTickSpan(ctx context.Context) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventbus.tick",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartConsumeSpan starts a span for one consumption attempt.
func (m *otelSpanManager) StartConsumeSpan(ctx context.Context, eventType, eventID, consumerID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventbus.consume."+eventType,
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("event.id", eventID),
			attribute.String("consumer.id", consumerID),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
