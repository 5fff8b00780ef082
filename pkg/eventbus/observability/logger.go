// Package observability provides structured logging, metrics, and tracing
// helpers for the event bus.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds event-bus context to a logger.
// Returns a new logger with event_id, consumer_id, and attempt fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, evt.ID, worker.ID, 2)
//	enriched.Info("retrying") // includes event_id, consumer_id, attempt
func EnrichLogger(logger *slog.Logger, eventID, consumerID string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", eventID),
		slog.String("consumer_id", consumerID),
		slog.Int("attempt", attempt),
	)
}

// LogPublish logs a published event.
func LogPublish(logger *slog.Logger, eventID, eventType, producer string) {
	if logger == nil {
		return
	}
	logger.Info("event published",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("producer", producer),
	)
}

// LogConsumeStart logs the start of a consumption attempt.
func LogConsumeStart(logger *slog.Logger, eventID, consumerID string, attempt int) {
	if logger == nil {
		return
	}
	logger.Debug("consumption starting",
		slog.String("event_id", eventID),
		slog.String("consumer_id", consumerID),
		slog.Int("attempt", attempt),
	)
}

// LogConsumeSuccess logs a successful consumption.
func LogConsumeSuccess(logger *slog.Logger, eventID, consumerID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("consumption completed",
		slog.String("event_id", eventID),
		slog.String("consumer_id", consumerID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogConsumeFailure logs a failed consumption.
func LogConsumeFailure(logger *slog.Logger, eventID, consumerID string, err error, retryable bool) {
	if logger == nil {
		return
	}
	logger.Error("consumption failed",
		slog.String("event_id", eventID),
		slog.String("consumer_id", consumerID),
		slog.String("error", err.Error()),
		slog.Bool("retryable", retryable),
	)
}

// LogClaimLost logs a claim attempt that lost the race. Debug level: claim
// races are normal operation, not errors.
func LogClaimLost(logger *slog.Logger, eventID, consumerID string) {
	if logger == nil {
		return
	}
	logger.Debug("claim lost",
		slog.String("event_id", eventID),
		slog.String("consumer_id", consumerID),
	)
}

// LogArchive logs an archival pass.
func LogArchive(logger *slog.Logger, archived, olderThanDays int) {
	if logger == nil {
		return
	}
	logger.Info("events archived",
		slog.Int("archived", archived),
		slog.Int("older_than_days", olderThanDays),
	)
}

// LogRegistered logs a worker registration.
func LogRegistered(logger *slog.Logger, role, workerName string, eventTypes []string) {
	if logger == nil {
		return
	}
	logger.Info("worker registered",
		slog.String("role", role),
		slog.String("worker", workerName),
		slog.Any("event_types", eventTypes),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
