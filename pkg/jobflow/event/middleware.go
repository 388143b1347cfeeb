package event

import (
	"context"
	"log/slog"
	"time"
)

// LoggingMiddleware logs every handler invocation at debug level.
func LoggingMiddleware(logger *slog.Logger) MiddlewareFunc {
	return func(next Handler) Handler {
		name := handlerName(next)
		return Named(name, HandlerFunc(func(ctx context.Context, evt Event) error {
			start := time.Now()
			err := next.Handle(ctx, evt)
			logger.Debug("event handled",
				slog.String("event_type", evt.Type()),
				slog.String("event_id", evt.ID().String()),
				slog.String("handler", name),
				slog.Duration("duration", time.Since(start)),
				slog.Bool("ok", err == nil),
			)
			return err
		}))
	}
}

// RecoveryMiddleware turns a handler panic into a *HandlerError. Both
// dispatchers already recover; this is for handlers invoked directly, such
// as from a worker task.
func RecoveryMiddleware() MiddlewareFunc {
	return func(next Handler) Handler {
		name := handlerName(next)
		return Named(name, HandlerFunc(func(ctx context.Context, evt Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = newPanicError(evt, name, r)
				}
			}()
			return next.Handle(ctx, evt)
		}))
	}
}

// MetricsMiddleware reports each invocation's duration and error.
func MetricsMiddleware(onComplete func(eventType string, duration time.Duration, err error)) MiddlewareFunc {
	return func(next Handler) Handler {
		return Named(handlerName(next), HandlerFunc(func(ctx context.Context, evt Event) error {
			start := time.Now()
			err := next.Handle(ctx, evt)
			if onComplete != nil {
				onComplete(evt.Type(), time.Since(start), err)
			}
			return err
		}))
	}
}

// FilterMiddleware skips events for which keep returns false.
func FilterMiddleware(keep func(Event) bool) MiddlewareFunc {
	return func(next Handler) Handler {
		return Named(handlerName(next), HandlerFunc(func(ctx context.Context, evt Event) error {
			if !keep(evt) {
				return nil
			}
			return next.Handle(ctx, evt)
		}))
	}
}
