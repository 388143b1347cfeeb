package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/jobflow/pkg/jobflow/observability"
)

// AsyncConfig configures an AsyncDispatcher.
type AsyncConfig struct {
	// Workers is the number of goroutines running handlers.
	// Default: 16
	Workers int

	// QueueSize bounds invocations waiting for a worker.
	// Default: 256
	QueueSize int

	// Logger receives handler failures, drops and missing-handler warnings.
	// Default: slog.Default()
	Logger *slog.Logger

	// Metrics records dispatches and handler latency. Default: no-op.
	Metrics observability.MetricsRecorder

	// OnError is called with every *HandlerError, from a worker goroutine.
	OnError func(evt Event, handler string, err error)

	// OnDrop is called when an invocation is discarded because the queue is
	// full. It runs on the dispatching goroutine once the queue lock is
	// released, so it may call Close.
	OnDrop func(evt Event, handler string)
}

// DefaultAsyncConfig provides reasonable defaults.
var DefaultAsyncConfig = AsyncConfig{
	Workers:   16,
	QueueSize: 256,
}

// invocation is one handler call waiting for a worker.
type invocation struct {
	ctx   context.Context
	evt   Event
	entry handlerEntry
}

// AsyncDispatcher schedules each handler invocation on a bounded worker pool
// and returns without waiting. Dispatch never blocks: when the queue is full
// the invocation is dropped and reported through OnDrop.
//
// Close stops new dispatches and drains what is already queued.
type AsyncDispatcher struct {
	config AsyncConfig
	table  handlerTable

	queue chan invocation

	mu        sync.RWMutex // held for writing only to close queue
	closed    bool
	closeOnce sync.Once
	drained   chan struct{}
}

var _ Dispatcher = (*AsyncDispatcher)(nil)

// NewAsyncDispatcher creates the dispatcher and starts its workers.
func NewAsyncDispatcher(config AsyncConfig) *AsyncDispatcher {
	if config.Workers <= 0 {
		config.Workers = DefaultAsyncConfig.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultAsyncConfig.QueueSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = observability.NoopMetrics{}
	}

	d := &AsyncDispatcher{
		config:  config,
		table:   newHandlerTable(),
		queue:   make(chan invocation, config.QueueSize),
		drained: make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go func() {
			defer wg.Done()
			for inv := range d.queue {
				d.run(inv)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(d.drained)
	}()

	return d
}

// Use adds middleware that applies to subsequently registered handlers.
func (d *AsyncDispatcher) Use(mw MiddlewareFunc) {
	d.table.use(mw)
}

// Register appends h to the handlers of eventType.
func (d *AsyncDispatcher) Register(eventType string, h Handler) {
	d.table.add(eventType, h, nil)
}

// RegisterWith appends h with per-handler options.
func (d *AsyncDispatcher) RegisterWith(eventType string, h Handler, opts ...HandlerOption) {
	d.table.add(eventType, h, opts)
}

// Handlers returns how many handlers are registered for eventType.
func (d *AsyncDispatcher) Handlers(eventType string) int {
	return d.table.count(eventType)
}

// Pending returns the number of queued invocations.
func (d *AsyncDispatcher) Pending() int {
	return len(d.queue)
}

// Dispatch queues one invocation per handler and returns immediately.
// Handlers run detached from ctx's cancellation but keep its values.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, evt Event) error {
	if evt == nil {
		return errors.New("event: dispatch of nil event")
	}

	dropped, err := d.enqueue(ctx, evt)
	if err != nil {
		return err
	}
	for _, name := range dropped {
		observability.LogDrop(d.config.Logger, evt.Type(), name, "queue full")
		if d.config.OnDrop != nil {
			d.config.OnDrop(evt, name)
		}
	}
	return nil
}

// enqueue hands evt to every handler's queue slot and returns the names of
// handlers whose invocation did not fit. OnDrop runs after the lock is
// released so it may call Close.
func (d *AsyncDispatcher) enqueue(ctx context.Context, evt Event) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrDispatcherClosed
	}

	entries := d.table.lookup(evt.Type())
	d.config.Metrics.RecordDispatch(ctx, evt.Type(), len(entries))
	if len(entries) == 0 {
		observability.LogNoHandler(d.config.Logger, evt.Type())
		return nil, nil
	}
	observability.LogDispatch(d.config.Logger, evt.Type(), evt.ID().String(), len(entries))

	var dropped []string
	detached := context.WithoutCancel(ctx)
	for _, entry := range entries {
		select {
		case d.queue <- invocation{ctx: detached, evt: evt, entry: entry}:
		default:
			dropped = append(dropped, entry.name)
		}
	}
	return dropped, nil
}

// Close rejects further dispatches and waits for queued and running
// invocations. If ctx ends first, Close returns ctx.Err() and the remaining
// invocations keep running in the background. Close is idempotent.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	select {
	case <-d.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *AsyncDispatcher) run(inv invocation) {
	start := time.Now()
	err := inv.entry.invoke(inv.ctx, inv.evt)
	d.config.Metrics.RecordHandler(inv.ctx, inv.evt.Type(), inv.entry.name, time.Since(start), err)
	if err == nil {
		return
	}
	observability.LogHandlerError(d.config.Logger, inv.evt.Type(), inv.entry.name, err)
	if d.config.OnError != nil {
		d.config.OnError(inv.evt, inv.entry.name, err)
	}
}
