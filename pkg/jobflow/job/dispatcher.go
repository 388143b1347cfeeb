package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/randalmurphal/jobflow/pkg/jobflow/broker"
	"github.com/randalmurphal/jobflow/pkg/jobflow/observability"
	"github.com/randalmurphal/jobflow/pkg/jobflow/registry"
)

// Config configures a Dispatcher.
type Config struct {
	// Logger receives submission logs. Default: slog.Default()
	Logger *slog.Logger

	// Metrics counts submissions. Default: no-op.
	Metrics observability.MetricsRecorder

	// Spans traces submissions. Default: no-op.
	Spans observability.SpanManager

	// Clock paces Wait. Default: real clock.
	Clock clockwork.Clock
}

// Dispatcher resolves job names to task names and submits jobs.
type Dispatcher struct {
	transport broker.Transport
	routes    *registry.Registry[string, string]
	config    Config
}

// NewDispatcher creates a dispatcher that submits through transport.
func NewDispatcher(transport broker.Transport, config Config) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = observability.NoopMetrics{}
	}
	if config.Spans == nil {
		config.Spans = observability.NoopSpanManager{}
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	return &Dispatcher{
		transport: transport,
		routes:    registry.New[string, string](),
		config:    config,
	}
}

// Register maps jobName to taskName, replacing any previous mapping.
func (d *Dispatcher) Register(jobName, taskName string) {
	d.routes.Register(jobName, taskName)
}

// TaskName returns the task a job name resolves to.
func (d *Dispatcher) TaskName(jobName string) string {
	return d.routes.Lookup(jobName, jobName)
}

// Dispatch submits payload under jobName's task and returns once the broker
// has accepted it. An unreachable broker yields a
// *broker.TransportUnavailableError.
func (d *Dispatcher) Dispatch(ctx context.Context, jobName string, payload Payload) (job Job, err error) {
	if jobName == "" {
		return Job{}, errors.New("job: empty job name")
	}
	if payload == nil {
		return Job{}, fmt.Errorf("job %s: nil payload", jobName)
	}

	taskName := d.TaskName(jobName)
	ctx, span := d.config.Spans.StartSubmitSpan(ctx, jobName, taskName)
	defer func() {
		d.config.Metrics.RecordJobSubmit(ctx, jobName, taskName, err)
		d.config.Spans.EndSpanWithError(span, err)
	}()

	data := payload.ToMap()
	id, err := d.transport.Submit(ctx, taskName, []any{data})
	if err != nil {
		observability.LogJobSubmitError(d.config.Logger, jobName, taskName, err)
		return Job{}, fmt.Errorf("dispatch job %s: %w", jobName, err)
	}

	observability.LogJobSubmitted(d.config.Logger, jobName, taskName, id)
	return Job{Name: jobName, ID: id, Payload: data}, nil
}

// Status polls the broker for the job's current result.
func (d *Dispatcher) Status(ctx context.Context, job Job) (broker.Result, error) {
	res, err := d.transport.Poll(ctx, job.ID)
	if err != nil {
		return broker.Result{}, fmt.Errorf("poll job %s (%s): %w", job.Name, job.ID, err)
	}
	return res, nil
}

// Wait polls every interval until the job reaches a terminal state or ctx
// ends.
func (d *Dispatcher) Wait(ctx context.Context, job Job, interval time.Duration) (broker.Result, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	for {
		res, err := d.Status(ctx, job)
		if err != nil || res.Done() {
			return res, err
		}
		select {
		case <-d.config.Clock.After(interval):
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
}
