package event

import (
	"errors"
	"fmt"
)

// ErrDispatcherClosed is returned by Dispatch after Close.
var ErrDispatcherClosed = errors.New("event: dispatcher closed")

// DeserializationError reports a malformed or missing field while
// reconstructing an event. It is never worth retrying.
type DeserializationError struct {
	Field  string // offending key, empty when the whole payload is unusable
	Reason string
	Err    error
}

// Error implements error.
func (e *DeserializationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("event: deserialize: %s", e.Reason)
	}
	return fmt.Sprintf("event: deserialize field %q: %s", e.Field, e.Reason)
}

// Unwrap returns the parse error, if any.
func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// HandlerError wraps a failure raised by one handler during dispatch.
type HandlerError struct {
	EventType string
	EventID   string
	Handler   string
	Err       error
	Panic     any // recovered value when the handler panicked
}

// Error implements error.
func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("event %s (%s): handler %s panicked: %v", e.EventID, e.EventType, e.Handler, e.Panic)
	}
	return fmt.Sprintf("event %s (%s): handler %s: %v", e.EventID, e.EventType, e.Handler, e.Err)
}

// Unwrap returns the handler's error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

func newHandlerError(evt Event, handler string, err error) *HandlerError {
	var he *HandlerError
	if errors.As(err, &he) {
		return he
	}
	return &HandlerError{
		EventType: evt.Type(),
		EventID:   evt.ID().String(),
		Handler:   handler,
		Err:       err,
	}
}

func newPanicError(evt Event, handler string, recovered any) *HandlerError {
	return &HandlerError{
		EventType: evt.Type(),
		EventID:   evt.ID().String(),
		Handler:   handler,
		Err:       fmt.Errorf("panic: %v", recovered),
		Panic:     recovered,
	}
}
