package eventbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/store"
)

// Metrics maintains daily processing rollups keyed by
// (date, event type, consumer, status). Rollups are aggregates only; they
// carry no per-event detail and are never used to drive processing
// decisions.
type Metrics struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// MetricsOption configures a Metrics component.
type MetricsOption func(*Metrics)

// WithMetricsLogger sets the logger. Default: no logging.
func WithMetricsLogger(l *slog.Logger) MetricsOption {
	return func(m *Metrics) {
		m.logger = l
	}
}

// WithMetricsClock overrides the clock used to derive the rollup day.
func WithMetricsClock(now func() time.Time) MetricsOption {
	return func(m *Metrics) {
		m.now = now
	}
}

// NewMetrics creates a Metrics component over the given store.
func NewMetrics(st store.Store, opts ...MetricsOption) *Metrics {
	m := &Metrics{
		store: st,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record increments today's rollup for the key, adding the duration to the
// running total and recomputing the average.
func (m *Metrics) Record(ctx context.Context, eventType, consumerID string, status store.Status, duration time.Duration) error {
	date := store.Day(m.now())
	return m.store.RecordMetric(ctx, date, eventType, consumerID, status, duration.Milliseconds())
}

// Range returns rollups for an event type across an inclusive date range
// ("2006-01-02" UTC days), ordered by date.
func (m *Metrics) Range(ctx context.Context, eventType, fromDate, toDate string) ([]*store.Metric, error) {
	return m.store.MetricsRange(ctx, eventType, fromDate, toDate)
}

// DailySuccessCount returns the number of successful consumptions recorded
// for an event type on a given day. Zero if no rollup exists.
func (m *Metrics) DailySuccessCount(ctx context.Context, eventType, date string) (int64, error) {
	return m.store.DailySuccessCount(ctx, eventType, date)
}
