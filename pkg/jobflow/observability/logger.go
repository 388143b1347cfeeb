// Package observability provides structured logging, metrics, and tracing
// helpers for the jobflow dispatch layers.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds task context to a logger.
// Returns a new logger with task_id, task_name, and attempt fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "0190...", "verify_account_email", 1)
//	enriched.Info("sending") // includes task_id, task_name, attempt
func EnrichLogger(logger *slog.Logger, taskID, taskName string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("task_id", taskID),
		slog.String("task_name", taskName),
		slog.Int("attempt", attempt),
	)
}

// LogDispatch logs an event being handed to its handlers.
func LogDispatch(logger *slog.Logger, eventType, eventID string, handlers int) {
	if logger == nil {
		return
	}
	logger.Debug("dispatching event",
		slog.String("event_type", eventType),
		slog.String("event_id", eventID),
		slog.Int("handlers", handlers),
	)
}

// LogNoHandler logs an event that has no registered handler.
func LogNoHandler(logger *slog.Logger, eventType string) {
	if logger == nil {
		return
	}
	logger.Warn("no handler registered for event",
		slog.String("event_type", eventType),
	)
}

// LogHandlerError logs a failed handler invocation. The dispatch continues.
func LogHandlerError(logger *slog.Logger, eventType, handler string, err error) {
	if logger == nil {
		return
	}
	logger.Error("event handler failed",
		slog.String("event_type", eventType),
		slog.String("handler", handler),
		slog.String("error", err.Error()),
	)
}

// LogDrop logs a handler invocation discarded by a saturated async dispatcher.
func LogDrop(logger *slog.Logger, eventType, handler string, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("event invocation dropped",
		slog.String("event_type", eventType),
		slog.String("handler", handler),
		slog.String("reason", reason),
	)
}

// LogJobSubmitted logs a job accepted by the transport.
func LogJobSubmitted(logger *slog.Logger, jobName, taskName, jobID string) {
	if logger == nil {
		return
	}
	logger.Info("job dispatched",
		slog.String("job_name", jobName),
		slog.String("task_name", taskName),
		slog.String("job_id", jobID),
	)
}

// LogJobSubmitError logs a job the transport refused.
func LogJobSubmitError(logger *slog.Logger, jobName, taskName string, err error) {
	if logger == nil {
		return
	}
	logger.Error("job dispatch failed",
		slog.String("job_name", jobName),
		slog.String("task_name", taskName),
		slog.String("error", err.Error()),
	)
}

// LogTaskStart logs task execution start. The task fields come from a
// logger built by EnrichLogger.
func LogTaskStart(logger *slog.Logger) {
	if logger == nil {
		return
	}
	logger.Debug("task starting")
}

// LogTaskOutcome logs how a task execution was settled, on a logger built by
// EnrichLogger. Failures log at error level, retries at warn, successes at
// info.
func LogTaskOutcome(logger *slog.Logger, outcome string, durationMs float64, detail string) {
	if logger == nil {
		return
	}
	attrs := []any{
		slog.String("outcome", outcome),
		slog.Float64("duration_ms", durationMs),
	}
	if detail != "" {
		attrs = append(attrs, slog.String("detail", detail))
	}
	switch outcome {
	case "failure":
		logger.Error("task failed", attrs...)
	case "retry":
		logger.Warn("task scheduled for retry", attrs...)
	default:
		logger.Info("task completed", attrs...)
	}
}

// LogSettleError logs a broker error while recording a task outcome.
func LogSettleError(logger *slog.Logger, taskID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("task settle failed",
		slog.String("task_id", taskID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogReserveError logs a failed attempt to reserve the next task.
func LogReserveError(logger *slog.Logger, err error, backoff time.Duration) {
	if logger == nil {
		return
	}
	logger.Warn("task reserve failed",
		slog.String("error", err.Error()),
		slog.Duration("backoff", backoff),
	)
}

// LogDeadLetter logs a task moved to the dead letter queue.
func LogDeadLetter(logger *slog.Logger, taskName, taskID, reason string) {
	if logger == nil {
		return
	}
	logger.Info("task dead-lettered",
		slog.String("task_name", taskName),
		slog.String("task_id", taskID),
		slog.String("reason", reason),
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
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
