package broker

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the externally visible state of a submitted task.
type Status string

const (
	// StatusPending covers queued, delayed and running tasks.
	StatusPending Status = "pending"
	// StatusSuccess means the task completed and Value holds its result.
	StatusSuccess Status = "success"
	// StatusFailure means the task failed for good; Error says why.
	StatusFailure Status = "failure"
)

// Result is what Poll reports for a task.
type Result struct {
	Status Status          `json:"status"`
	Value  json.RawMessage `json:"value,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Done reports whether the task reached a terminal state.
func (r Result) Done() bool {
	return r.Status == StatusSuccess || r.Status == StatusFailure
}

// Delivery is one reserved execution of a task.
type Delivery struct {
	ID       string
	TaskName string
	Args     []json.RawMessage

	// Attempt counts previous executions: 0 on first delivery.
	Attempt int
}

// Transport is the producer side: submit a named task and poll its result.
type Transport interface {
	// Submit enqueues taskName with JSON-serializable args and returns the
	// task id once the broker has accepted it. Connectivity failures are
	// reported as *TransportUnavailableError.
	Submit(ctx context.Context, taskName string, args []any) (string, error)

	// Poll returns the current result for id, or ErrTaskNotFound.
	Poll(ctx context.Context, id string) (Result, error)
}

// Broker adds the worker side to Transport. A reserved delivery must be
// settled with exactly one of Complete, Retry or Fail.
type Broker interface {
	Transport

	// Reserve blocks until a task is ready, ctx ends, or the broker closes.
	Reserve(ctx context.Context) (Delivery, error)

	// Complete records value as the task's result.
	Complete(ctx context.Context, id string, value any) error

	// Retry makes the task deliverable again after the given delay, with its
	// attempt count incremented. The delay is kept by the broker.
	Retry(ctx context.Context, id string, after time.Duration) error

	// Fail records a permanent failure.
	Fail(ctx context.Context, id string, reason string) error

	// Close releases broker resources. Blocked Reserve calls return ErrClosed.
	Close() error
}
