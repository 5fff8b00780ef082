package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records event-bus metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records a published event.
	RecordPublish(ctx context.Context, eventType string)

	// RecordConsume records a consumption attempt with its duration and outcome.
	RecordConsume(ctx context.Context, eventType, consumerID string, success bool, duration time.Duration)

	// RecordFailure records a failed consumption with its retryability.
	RecordFailure(ctx context.Context, eventType, consumerID string, retryable bool)

	// RecordArchived records an archival pass.
	RecordArchived(ctx context.Context, count int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	published      metric.Int64Counter
	consumes       metric.Int64Counter
	consumeLatency metric.Float64Histogram
	failures       metric.Int64Counter
	archived       metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventbus")

	published, err := meter.Int64Counter("eventbus.events.published",
		metric.WithDescription("Number of events published"),
	)
	if err != nil {
		return nil, err
	}

	consumes, err := meter.Int64Counter("eventbus.consume.executions",
		metric.WithDescription("Number of consumption attempts"),
	)
	if err != nil {
		return nil, err
	}

	consumeLatency, err := meter.Float64Histogram("eventbus.consume.latency_ms",
		metric.WithDescription("Consumption latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("eventbus.consume.failures",
		metric.WithDescription("Number of failed consumptions"),
	)
	if err != nil {
		return nil, err
	}

	archived, err := meter.Int64Counter("eventbus.events.archived",
		metric.WithDescription("Number of events archived"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		published:      published,
		consumes:       consumes,
		consumeLatency: consumeLatency,
		failures:       failures,
		archived:       archived,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPublish records a published event.
func (m *otelMetrics) RecordPublish(ctx context.Context, eventType string) {
	m.published.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordConsume records a consumption attempt.
func (m *otelMetrics) RecordConsume(ctx context.Context, eventType, consumerID string, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
		attribute.String("consumer_id", consumerID),
	}

	m.consumes.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.Bool("success", success))...))
	m.consumeLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordFailure records a failed consumption.
func (m *otelMetrics) RecordFailure(ctx context.Context, eventType, consumerID string, retryable bool) {
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("consumer_id", consumerID),
		attribute.Bool("retryable", retryable),
	))
}

// RecordArchived records an archival pass.
func (m *otelMetrics) RecordArchived(ctx context.Context, count int) {
	m.archived.Add(ctx, int64(count))
}
