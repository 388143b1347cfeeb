package event

import (
	"context"
	"sync"
	"time"

	ferrors "github.com/randalmurphal/jobflow/pkg/jobflow/errors"
	"github.com/randalmurphal/jobflow/pkg/jobflow/registry"
)

// handlerEntry stores a handler with its configuration.
type handlerEntry struct {
	name    string
	handler Handler // wrapped in middleware at registration
	retry   ferrors.RetryConfig
	timeout time.Duration
}

// HandlerOption configures handler behavior.
type HandlerOption func(*handlerEntry)

// WithHandlerRetry retries transient handler errors in place.
func WithHandlerRetry(cfg ferrors.RetryConfig) HandlerOption {
	return func(e *handlerEntry) {
		e.retry = cfg
	}
}

// WithHandlerTimeout bounds each handler invocation.
func WithHandlerTimeout(d time.Duration) HandlerOption {
	return func(e *handlerEntry) {
		e.timeout = d
	}
}

// WithHandlerName overrides the name reported in logs and errors.
func WithHandlerName(name string) HandlerOption {
	return func(e *handlerEntry) {
		e.name = name
	}
}

// handlerTable is the event type -> handlers table shared by both
// dispatchers. Dispatch reads a snapshot and never blocks on Register.
type handlerTable struct {
	mu         sync.Mutex // guards middleware
	middleware []MiddlewareFunc
	entries    *registry.Registry[string, []handlerEntry]
}

func newHandlerTable() handlerTable {
	return handlerTable{entries: registry.New[string, []handlerEntry]()}
}

func (t *handlerTable) use(mw MiddlewareFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.middleware = append(t.middleware, mw)
}

func (t *handlerTable) add(eventType string, h Handler, opts []HandlerOption) {
	entry := handlerEntry{
		name:  handlerName(h),
		retry: ferrors.NoRetry,
	}
	for _, opt := range opts {
		opt(&entry)
	}

	t.mu.Lock()
	mw := append([]MiddlewareFunc(nil), t.middleware...)
	t.mu.Unlock()
	entry.handler = ChainMiddleware(h, mw...)

	t.entries.Update(eventType, func(cur []handlerEntry, _ bool) []handlerEntry {
		return append(cur[:len(cur):len(cur)], entry)
	})
}

func (t *handlerTable) lookup(eventType string) []handlerEntry {
	entries, _ := t.entries.Get(eventType)
	return entries
}

func (t *handlerTable) count(eventType string) int {
	return len(t.lookup(eventType))
}

// invoke runs one handler with its timeout and retry settings. Any failure,
// including a panic, comes back as a *HandlerError.
func (e handlerEntry) invoke(ctx context.Context, evt Event) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	call := func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.safeHandle(ctx, evt)
	}

	var err error
	if e.retry.MaxAttempts > 1 {
		err = ferrors.WithRetryContext(ctx, e.retry, call).Err
	} else {
		_, err = call(ctx)
	}
	if err != nil {
		return newHandlerError(evt, e.name, err)
	}
	return nil
}

func (e handlerEntry) safeHandle(ctx context.Context, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(evt, e.name, r)
		}
	}()
	return e.handler.Handle(ctx, evt)
}
