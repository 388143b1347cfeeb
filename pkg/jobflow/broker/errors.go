package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned for an unknown or expired task id.
	ErrTaskNotFound = errors.New("broker: task not found")

	// ErrClosed is returned by operations on a closed broker.
	ErrClosed = errors.New("broker: closed")

	errCorruptArgs = errors.New("broker: undecodable args")
)

// TransportUnavailableError reports that the broker could not be reached.
// Submitted work is never silently dropped: the caller gets this error.
type TransportUnavailableError struct {
	Backend string // memory, redis, sqlite, nats
	Op      string
	Err     error
}

// Error implements error.
func (e *TransportUnavailableError) Error() string {
	return fmt.Sprintf("broker %s unavailable during %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the connectivity error.
func (e *TransportUnavailableError) Unwrap() error {
	return e.Err
}

// Transient marks the failure as retryable for worker retry policies.
func (e *TransportUnavailableError) Transient() bool { return true }

// IsUnavailable reports whether err is a *TransportUnavailableError.
func IsUnavailable(err error) bool {
	var tu *TransportUnavailableError
	return errors.As(err, &tu)
}

func unavailable(backend, op string, err error) error {
	return &TransportUnavailableError{Backend: backend, Op: op, Err: err}
}
