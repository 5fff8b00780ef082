package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordPublish does nothing.
func (NoopMetrics) RecordPublish(_ context.Context, _ string) {}

// RecordConsume does nothing.
func (NoopMetrics) RecordConsume(_ context.Context, _, _ string, _ bool, _ time.Duration) {}

// RecordFailure does nothing.
func (NoopMetrics) RecordFailure(_ context.Context, _, _ string, _ bool) {}

// RecordArchived does nothing.
func (NoopMetrics) RecordArchived(_ context.Context, _ int) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

// noopSpan is a span that does nothing.
// We use the OTel noop package for a proper no-op span implementation.
var noopSpan = noop.Span{}

// StartTickSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartTickSpan(ctx context.Context) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartConsumeSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartConsumeSpan(ctx context.Context, _, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
