package event

import (
	"context"
	"fmt"
)

// Handler reacts to one kind of event.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Dispatcher delivers events to the handlers registered for their type.
type Dispatcher interface {
	// Register appends h to the handlers of eventType. Registering the same
	// handler twice yields two invocations.
	Register(eventType string, h Handler)

	// Dispatch delivers evt. Handler failures never surface here.
	Dispatch(ctx context.Context, evt Event) error
}

// MiddlewareFunc wraps a handler.
type MiddlewareFunc func(next Handler) Handler

// ChainMiddleware applies middleware so the first one is outermost.
func ChainMiddleware(handler Handler, middleware ...MiddlewareFunc) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}

// namer is implemented by handlers that report their own name.
type namer interface {
	Name() string
}

type namedHandler struct {
	name string
	Handler
}

func (h namedHandler) Name() string { return h.name }

// Named attaches a name used in logs, metrics and HandlerError.
func Named(name string, h Handler) Handler {
	return namedHandler{name: name, Handler: h}
}

// handlerName returns the handler's reported name or its dynamic type.
func handlerName(h Handler) string {
	if n, ok := h.(namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}

// Typed adapts a function taking a concrete event variant. Events of any
// other variant are rejected with an error.
func Typed[E Event](fn func(ctx context.Context, evt E) error) Handler {
	return HandlerFunc(func(ctx context.Context, evt Event) error {
		typed, ok := evt.(E)
		if !ok {
			var zero E
			return fmt.Errorf("handler expects %T, got %T", zero, evt)
		}
		return fn(ctx, typed)
	})
}
