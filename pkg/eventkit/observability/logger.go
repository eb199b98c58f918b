// Package observability provides structured logging, metrics, and
// tracing for eventkit.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// The core pipeline never performs direct output; it goes through the
// helpers and interfaces here.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger returns a logger carrying event context, so every line
// logged during an attempt identifies the event and attempt number.
func EnrichLogger(logger *slog.Logger, eventID, eventType string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.Int("attempt", attempt),
	)
}

// LogEmit logs admission of an event into the pipeline.
func LogEmit(logger *slog.Logger, eventID, eventType string) {
	if logger == nil {
		return
	}
	logger.Debug("event emitted",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
	)
}

// LogBuffered logs that an event was parked in the overflow buffer.
func LogBuffered(logger *slog.Logger, eventID string, depth int) {
	if logger == nil {
		return
	}
	logger.Debug("event buffered",
		slog.String("event_id", eventID),
		slog.Int("buffer_depth", depth),
	)
}

// LogProcessed logs a successful processing attempt.
func LogProcessed(logger *slog.Logger, eventID, eventType string, duration time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("event processed",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}

// LogProcessingFailed logs a failed attempt (terminal or not).
func LogProcessingFailed(logger *slog.Logger, eventID, eventType string, attempt int, err error) {
	if logger == nil {
		return
	}
	logger.Error("event processing failed",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// LogRetryScheduled logs a scheduled retry.
func LogRetryScheduled(logger *slog.Logger, eventID string, attempt int, delay time.Duration) {
	if logger == nil {
		return
	}
	logger.Info("retry scheduled",
		slog.String("event_id", eventID),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
	)
}

// LogStoreError logs a persistence failure (non-fatal to the pipeline).
func LogStoreError(logger *slog.Logger, eventID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("store operation failed",
		slog.String("event_id", eventID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogSweep logs the outcome of a periodic maintenance pass.
func LogSweep(logger *slog.Logger, task string, removed int) {
	if logger == nil {
		return
	}
	logger.Debug("maintenance sweep",
		slog.String("task", task),
		slog.Int("removed", removed),
	)
}
