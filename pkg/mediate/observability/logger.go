// Package observability provides logging, metrics and tracing for
// request dispatch and event delivery.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry or Prometheus
//   - Tracing via OpenTelemetry
//
// Every feature is opt-in and has a no-op implementation.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds dispatch context to a logger.
// Returns a new logger with request_id, feature, and attempt fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "01J...", "app.PlaceOrder", 1)
//	enriched.Info("handling") // includes request_id, feature, attempt
func EnrichLogger(logger *slog.Logger, requestID, feature string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("request_id", requestID),
		slog.String("feature", feature),
		slog.Int("attempt", attempt),
	)
}

// LogDispatchStart logs the start of a pipeline execution.
func LogDispatchStart(logger *slog.Logger, feature string) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch starting",
		slog.String("feature", feature),
	)
}

// LogDispatchComplete logs a successful pipeline execution.
func LogDispatchComplete(logger *slog.Logger, feature string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch completed",
		slog.String("feature", feature),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDispatchError logs a failed pipeline execution.
func LogDispatchError(logger *slog.Logger, feature string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("dispatch failed",
		slog.String("feature", feature),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogEventRetry logs a failed event delivery that will be retried.
func LogEventRetry(logger *slog.Logger, eventID string, attempt int, action string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("event delivery failed, retrying",
		slog.String("event_id", eventID),
		slog.Int("attempt", attempt),
		slog.String("action", action),
		slog.String("error", err.Error()),
	)
}

// LogEventDropped logs an event discarded after a failure without a dead letter.
func LogEventDropped(logger *slog.Logger, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("event dropped",
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogDeadLetter logs an event handed to the dead-letter strategy.
func LogDeadLetter(logger *slog.Logger, eventID string, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Error("event dead-lettered",
		slog.String("event_id", eventID),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogDeadLetterError logs a dead-letter persistence failure (non-fatal).
func LogDeadLetterError(logger *slog.Logger, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("dead letter failed",
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
