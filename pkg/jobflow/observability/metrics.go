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

// MetricsRecorder records jobflow metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDispatch records an event dispatch and how many handlers it reached.
	RecordDispatch(ctx context.Context, eventType string, handlers int)

	// RecordHandler records one handler invocation with its duration and error status.
	RecordHandler(ctx context.Context, eventType, handler string, duration time.Duration, err error)

	// RecordJobSubmit records a job submission attempt.
	RecordJobSubmit(ctx context.Context, jobName, taskName string, err error)

	// RecordTaskOutcome records a settled task execution.
	RecordTaskOutcome(ctx context.Context, taskName, outcome string, duration time.Duration)

	// RecordAccountCreated counts a new account seen by the analytics handler.
	RecordAccountCreated(ctx context.Context)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	dispatches      metric.Int64Counter
	handlerErrors   metric.Int64Counter
	handlerLatency  metric.Float64Histogram
	jobSubmissions  metric.Int64Counter
	taskOutcomes    metric.Int64Counter
	taskLatency     metric.Float64Histogram
	accountsCreated metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.GetMeterProvider())
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics(mp metric.MeterProvider) (*otelMetrics, error) {
	meter := mp.Meter(instrumentationName)

	dispatches, err := meter.Int64Counter("jobflow.event.dispatches",
		metric.WithDescription("Number of dispatched domain events"),
	)
	if err != nil {
		return nil, err
	}

	handlerErrors, err := meter.Int64Counter("jobflow.handler.errors",
		metric.WithDescription("Number of failed event handler invocations"),
	)
	if err != nil {
		return nil, err
	}

	handlerLatency, err := meter.Float64Histogram("jobflow.handler.latency_ms",
		metric.WithDescription("Event handler latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	jobSubmissions, err := meter.Int64Counter("jobflow.job.submissions",
		metric.WithDescription("Number of job submissions to the transport"),
	)
	if err != nil {
		return nil, err
	}

	taskOutcomes, err := meter.Int64Counter("jobflow.task.outcomes",
		metric.WithDescription("Number of settled task executions by outcome"),
	)
	if err != nil {
		return nil, err
	}

	taskLatency, err := meter.Float64Histogram("jobflow.task.latency_ms",
		metric.WithDescription("Task execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	accountsCreated, err := meter.Int64Counter("jobflow.accounts.created",
		metric.WithDescription("Number of accounts created"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		dispatches:      dispatches,
		handlerErrors:   handlerErrors,
		handlerLatency:  handlerLatency,
		jobSubmissions:  jobSubmissions,
		taskOutcomes:    taskOutcomes,
		taskLatency:     taskLatency,
		accountsCreated: accountsCreated,
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

// NewMetricsRecorderWithProvider returns a MetricsRecorder whose instruments
// are created from mp. Unlike NewMetricsRecorder it is not cached.
func NewMetricsRecorderWithProvider(mp metric.MeterProvider) MetricsRecorder {
	m, err := newOtelMetrics(mp)
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordDispatch(ctx context.Context, eventType string, handlers int) {
	m.dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.Bool("handled", handlers > 0),
	))
}

func (m *otelMetrics) RecordHandler(ctx context.Context, eventType, handler string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("handler", handler),
	)
	m.handlerLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.handlerErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordJobSubmit(ctx context.Context, jobName, taskName string, err error) {
	m.jobSubmissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_name", jobName),
		attribute.String("task_name", taskName),
		attribute.Bool("success", err == nil),
	))
}

func (m *otelMetrics) RecordTaskOutcome(ctx context.Context, taskName, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("task_name", taskName),
		attribute.String("outcome", outcome),
	)
	m.taskOutcomes.Add(ctx, 1, attrs)
	m.taskLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

func (m *otelMetrics) RecordAccountCreated(ctx context.Context) {
	m.accountsCreated.Add(ctx, 1)
}
