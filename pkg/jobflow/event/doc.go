// Package event defines domain events and the in-process dispatchers that
// deliver them to handlers.
//
// # Events
//
// An Event is an immutable value with a UUIDv7 id, a UTC timestamp and a
// type tag. ToMap produces the JSON-compatible wire form:
//
//	{"event_id": "...", "occurred_at": "2025-01-02T03:04:05.123456789Z",
//	 "event_type": "account.created", "account_id": "a1", "email": "u@x.com"}
//
// A Codec turns that mapping back into the concrete variant by routing on
// event_type:
//
//	codec := event.NewDefaultCodec()
//	evt, err := codec.Decode(data)
//
// # Dispatchers
//
// SyncDispatcher calls handlers in registration order on the caller's
// goroutine. AsyncDispatcher hands each invocation to a bounded worker pool
// and returns at once:
//
//	d := event.NewAsyncDispatcher(event.AsyncConfig{Workers: 8, QueueSize: 128})
//	d.Register(event.TypeAccountCreated, sendVerification)
//	_ = d.Dispatch(ctx, event.NewAccountCreated("a1", "u@x.com"))
//	defer d.Close(shutdownCtx)
//
// In both, a handler error or panic is wrapped in a *HandlerError, logged and
// passed to OnError. Dispatch itself never reports it. An event type with no
// handler only produces a warning log.
//
// Registration is safe at any time; dispatch reads an immutable snapshot of
// the handler table.
package event
