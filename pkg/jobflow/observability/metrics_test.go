package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})
	return reader, provider
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor totals the int64 sum datapoints that carry attr.
func sumFor(t *testing.T, m *metricdata.Metrics, attr attribute.KeyValue) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "Expected Sum type")

	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attr.Key); ok && v.Emit() == attr.Value.Emit() {
			total += dp.Value
		}
	}
	return total
}

func TestNewMetricsRecorder(t *testing.T) {
	original := otel.GetMeterProvider()
	_, provider := setupMetricsTest(t)
	otel.SetMeterProvider(provider)
	defer otel.SetMeterProvider(original)

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordDispatch(t *testing.T) {
	reader, provider := setupMetricsTest(t)
	m := NewMetricsRecorderWithProvider(provider)
	ctx := context.Background()

	m.RecordDispatch(ctx, "account.created", 2)
	m.RecordDispatch(ctx, "account.created", 0)

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "jobflow.event.dispatches")
	assert.Equal(t, int64(1), sumFor(t, metric, attribute.Bool("handled", true)))
	assert.Equal(t, int64(1), sumFor(t, metric, attribute.Bool("handled", false)))
}

func TestRecordHandler(t *testing.T) {
	reader, provider := setupMetricsTest(t)
	m := NewMetricsRecorderWithProvider(provider)
	ctx := context.Background()

	m.RecordHandler(ctx, "account.created", "ok", 3*time.Millisecond, nil)
	m.RecordHandler(ctx, "account.created", "broken", time.Millisecond, errors.New("boom"))

	rm := collectMetrics(t, reader)

	errs := findMetric(rm, "jobflow.handler.errors")
	assert.Equal(t, int64(1), sumFor(t, errs, attribute.String("handler", "broken")))
	assert.Equal(t, int64(0), sumFor(t, errs, attribute.String("handler", "ok")))

	latency := findMetric(rm, "jobflow.handler.latency_ms")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "Expected Histogram type")
	assert.Len(t, hist.DataPoints, 2)
}

func TestRecordJobSubmit(t *testing.T) {
	reader, provider := setupMetricsTest(t)
	m := NewMetricsRecorderWithProvider(provider)
	ctx := context.Background()

	m.RecordJobSubmit(ctx, "verify_account_email", "verify_account_email", nil)
	m.RecordJobSubmit(ctx, "verify_account_email", "verify_account_email", errors.New("down"))

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "jobflow.job.submissions")
	assert.Equal(t, int64(1), sumFor(t, metric, attribute.Bool("success", true)))
	assert.Equal(t, int64(1), sumFor(t, metric, attribute.Bool("success", false)))
}

func TestRecordTaskOutcome(t *testing.T) {
	reader, provider := setupMetricsTest(t)
	m := NewMetricsRecorderWithProvider(provider)
	ctx := context.Background()

	m.RecordTaskOutcome(ctx, "verify_account_email", "retry", time.Millisecond)
	m.RecordTaskOutcome(ctx, "verify_account_email", "retry", time.Millisecond)
	m.RecordTaskOutcome(ctx, "verify_account_email", "success", time.Millisecond)

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "jobflow.task.outcomes")
	assert.Equal(t, int64(2), sumFor(t, metric, attribute.String("outcome", "retry")))
	assert.Equal(t, int64(1), sumFor(t, metric, attribute.String("outcome", "success")))
	assert.NotNil(t, findMetric(rm, "jobflow.task.latency_ms"))
}

func TestRecordAccountCreated(t *testing.T) {
	reader, provider := setupMetricsTest(t)
	m := NewMetricsRecorderWithProvider(provider)

	m.RecordAccountCreated(context.Background())
	m.RecordAccountCreated(context.Background())

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "jobflow.accounts.created")
	require.NotNil(t, metric)
	sum, ok := metric.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}
