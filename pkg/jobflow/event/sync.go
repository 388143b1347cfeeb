package event

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/jobflow/pkg/jobflow/observability"
)

// SyncConfig configures a SyncDispatcher.
type SyncConfig struct {
	// Logger receives handler failures and missing-handler warnings.
	// Default: slog.Default()
	Logger *slog.Logger

	// Metrics records dispatches and handler latency. Default: no-op.
	Metrics observability.MetricsRecorder

	// Spans traces each dispatch. Default: no-op.
	Spans observability.SpanManager

	// OnError is called with every *HandlerError after it is logged.
	OnError func(evt Event, handler string, err error)
}

func (c *SyncConfig) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observability.NoopMetrics{}
	}
	if c.Spans == nil {
		c.Spans = observability.NoopSpanManager{}
	}
}

// SyncDispatcher runs handlers one after another on the caller's goroutine,
// in registration order. A failing handler never stops its siblings and never
// fails the dispatch.
type SyncDispatcher struct {
	config SyncConfig
	table  handlerTable
}

var _ Dispatcher = (*SyncDispatcher)(nil)

// NewSyncDispatcher creates a synchronous dispatcher.
func NewSyncDispatcher(config SyncConfig) *SyncDispatcher {
	config.applyDefaults()
	return &SyncDispatcher{
		config: config,
		table:  newHandlerTable(),
	}
}

// Use adds middleware that applies to subsequently registered handlers.
func (d *SyncDispatcher) Use(mw MiddlewareFunc) {
	d.table.use(mw)
}

// Register appends h to the handlers of eventType.
func (d *SyncDispatcher) Register(eventType string, h Handler) {
	d.table.add(eventType, h, nil)
}

// RegisterWith appends h with per-handler options.
func (d *SyncDispatcher) RegisterWith(eventType string, h Handler, opts ...HandlerOption) {
	d.table.add(eventType, h, opts)
}

// Handlers returns how many handlers are registered for eventType.
func (d *SyncDispatcher) Handlers(eventType string) int {
	return d.table.count(eventType)
}

// Dispatch invokes every handler of evt.Type() and returns when all have
// run. It only fails for a nil event.
func (d *SyncDispatcher) Dispatch(ctx context.Context, evt Event) error {
	if evt == nil {
		return errors.New("event: dispatch of nil event")
	}

	entries := d.table.lookup(evt.Type())
	d.config.Metrics.RecordDispatch(ctx, evt.Type(), len(entries))
	if len(entries) == 0 {
		observability.LogNoHandler(d.config.Logger, evt.Type())
		return nil
	}

	ctx, span := d.config.Spans.StartDispatchSpan(ctx, evt.Type(), evt.ID().String())
	observability.LogDispatch(d.config.Logger, evt.Type(), evt.ID().String(), len(entries))

	failures := 0
	for _, entry := range entries {
		start := time.Now()
		err := entry.invoke(ctx, evt)
		d.config.Metrics.RecordHandler(ctx, evt.Type(), entry.name, time.Since(start), err)
		if err != nil {
			failures++
			observability.LogHandlerError(d.config.Logger, evt.Type(), entry.name, err)
			if d.config.OnError != nil {
				d.config.OnError(evt, entry.name, err)
			}
		}
	}

	if failures > 0 {
		span.SetAttributes(attribute.Int("handler.failures", failures))
	}
	d.config.Spans.EndSpanWithError(span, nil)
	return nil
}
