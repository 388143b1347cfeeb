package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/jobflow/pkg/jobflow/broker"
	ferrors "github.com/randalmurphal/jobflow/pkg/jobflow/errors"
	"github.com/randalmurphal/jobflow/pkg/jobflow/observability"
	"github.com/randalmurphal/jobflow/pkg/jobflow/registry"
)

// Config configures a Worker.
type Config struct {
	// Concurrency is the number of tasks executed in parallel.
	// Default: 1
	Concurrency int

	// ReserveBackoff is the pause after a failed Reserve before trying again.
	// Default: 1 second
	ReserveBackoff time.Duration

	// DeadLetters records permanently failed tasks. Optional.
	DeadLetters DeadLetterQueue

	// Logger for task logs. Default: slog.Default()
	Logger *slog.Logger

	// Metrics records task outcomes. Default: no-op.
	Metrics observability.MetricsRecorder

	// Spans traces task executions. Default: no-op.
	Spans observability.SpanManager

	// Clock paces reserve backoff. Default: real clock.
	Clock clockwork.Clock
}

type taskEntry struct {
	fn      TaskFunc
	policy  RetryPolicy
	timeout time.Duration
}

// TaskOption configures a registered task.
type TaskOption func(*taskEntry)

// WithRetry sets the task's retry policy. Tasks default to
// DefaultRetryPolicy.
func WithRetry(p RetryPolicy) TaskOption {
	return func(e *taskEntry) {
		e.policy = p
	}
}

// WithTimeout bounds each execution. A timed out execution is a transient
// failure.
func WithTimeout(d time.Duration) TaskOption {
	return func(e *taskEntry) {
		e.timeout = d
	}
}

// Worker reserves tasks from a broker and executes them.
type Worker struct {
	broker broker.Broker
	tasks  *registry.Registry[string, taskEntry]
	config Config
}

// New creates a worker consuming from b.
func New(b broker.Broker, config Config) *Worker {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.ReserveBackoff <= 0 {
		config.ReserveBackoff = time.Second
	}
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
	return &Worker{
		broker: b,
		tasks:  registry.New[string, taskEntry](),
		config: config,
	}
}

// Register binds name to fn, replacing any previous registration.
func (w *Worker) Register(name string, fn TaskFunc, opts ...TaskOption) {
	entry := taskEntry{fn: fn, policy: DefaultRetryPolicy}
	for _, opt := range opts {
		opt(&entry)
	}
	w.tasks.Register(name, entry)
}

// Tasks returns the registered task names.
func (w *Worker) Tasks() []string {
	return w.tasks.Keys()
}

// Run executes tasks until ctx is cancelled or the broker is closed. Both
// end Run without error.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.config.Concurrency; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		d, err := w.broker.Reserve(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil, errors.Is(err, broker.ErrClosed):
			return nil
		default:
			observability.LogReserveError(w.config.Logger, err, w.config.ReserveBackoff)
			select {
			case <-w.config.Clock.After(w.config.ReserveBackoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		// A reserved task is always settled, even while shutting down.
		if err := w.Process(context.WithoutCancel(ctx), d); err != nil {
			observability.LogSettleError(w.config.Logger, d.ID, "settle", err)
		}
	}
}

// Process executes d and settles the outcome on the broker.
func (w *Worker) Process(ctx context.Context, d broker.Delivery) error {
	outcome := w.Execute(ctx, d)
	return w.settle(ctx, d, outcome)
}

// Execute runs the delivery's task and decides its outcome without touching
// the broker. Unknown tasks and panics fail permanently.
func (w *Worker) Execute(ctx context.Context, d broker.Delivery) Outcome {
	logger := observability.EnrichLogger(w.config.Logger, d.ID, d.TaskName, d.Attempt)
	observability.LogTaskStart(logger)

	ctx, span := w.config.Spans.StartTaskSpan(ctx, d.TaskName, d.ID, d.Attempt)
	elapsed := observability.TimedOperation()

	var outcome Outcome
	entry, ok := w.tasks.Get(d.TaskName)
	if !ok {
		err := ferrors.Permanent(fmt.Errorf("unknown task %q", d.TaskName), "")
		outcome = Fail{Reason: err.Error(), Err: err}
	} else {
		value, err := entry.run(ctx, callFor(d))
		if err == nil {
			value, err = encodeResult(value)
		}
		outcome = entry.policy.Decide(d.Attempt, value, err)
	}

	durationMs := elapsed()
	w.config.Metrics.RecordTaskOutcome(ctx, d.TaskName, outcome.Kind().String(),
		time.Duration(durationMs*float64(time.Millisecond)))
	observability.LogTaskOutcome(logger, outcome.Kind().String(), durationMs, describe(outcome))
	w.config.Spans.EndSpanWithError(span, outcomeErr(outcome))
	return outcome
}

func (e taskEntry) run(ctx context.Context, call Call) (value any, err error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = ferrors.Permanent(fmt.Errorf("%v", r), "task panicked")
		}
	}()
	return e.fn(ctx, call)
}

// encodeResult serializes a task's return value up front so a value the
// broker cannot store fails the task instead of leaving it reserved.
func encodeResult(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, ferrors.Permanent(err, "encode result")
	}
	return raw, nil
}

func (w *Worker) settle(ctx context.Context, d broker.Delivery, outcome Outcome) error {
	switch o := outcome.(type) {
	case Success:
		return w.broker.Complete(ctx, d.ID, o.Value)
	case Retry:
		return w.broker.Retry(ctx, d.ID, o.After)
	case Fail:
		if err := w.broker.Fail(ctx, d.ID, o.Reason); err != nil {
			return err
		}
		return w.deadLetter(ctx, d, o)
	default:
		return fmt.Errorf("worker: unknown outcome %T", outcome)
	}
}

func (w *Worker) deadLetter(ctx context.Context, d broker.Delivery, o Fail) error {
	if w.config.DeadLetters == nil {
		return nil
	}
	err := w.config.DeadLetters.Add(ctx, DeadLetter{
		TaskID:   d.ID,
		TaskName: d.TaskName,
		Args:     d.Args,
		Attempts: d.Attempt + 1,
		Reason:   o.Reason,
		FailedAt: w.config.Clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("dead letter %s: %w", d.ID, err)
	}
	observability.LogDeadLetter(w.config.Logger, d.TaskName, d.ID, o.Reason)
	return nil
}

// Requeue removes a dead letter and submits its task again under a new id.
func (w *Worker) Requeue(ctx context.Context, taskID string) (string, error) {
	if w.config.DeadLetters == nil {
		return "", ErrDeadLetterNotFound
	}
	dl, err := w.config.DeadLetters.Remove(ctx, taskID)
	if err != nil {
		return "", err
	}
	args := make([]any, len(dl.Args))
	for i, a := range dl.Args {
		args[i] = a
	}
	id, err := w.broker.Submit(ctx, dl.TaskName, args)
	if err != nil {
		// Keep the letter so the requeue can be tried again.
		_ = w.config.DeadLetters.Add(ctx, dl)
		return "", fmt.Errorf("requeue %s: %w", taskID, err)
	}
	return id, nil
}

func describe(o Outcome) string {
	switch o := o.(type) {
	case Retry:
		return fmt.Sprintf("retry in %s: %v", o.After, o.Err)
	case Fail:
		return o.Reason
	default:
		return ""
	}
}

func outcomeErr(o Outcome) error {
	switch o := o.(type) {
	case Retry:
		return o.Err
	case Fail:
		return o.Err
	default:
		return nil
	}
}
