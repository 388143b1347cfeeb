// Package job submits named units of work to a broker.
//
// A Dispatcher maps logical job names to broker task names (falling back to
// the job name itself), serializes the payload, and returns a Job handle as
// soon as the broker has accepted the task. Execution happens elsewhere; the
// handle can be polled for the outcome.
package job

// Payload is anything that can be serialized into a JSON-compatible map.
// Every event.Event satisfies it.
type Payload interface {
	ToMap() map[string]any
}

// Map adapts a plain map to Payload.
type Map map[string]any

// ToMap implements Payload.
func (m Map) ToMap() map[string]any { return m }

// Job is the handle returned by Dispatch. It is a value; one per dispatch.
type Job struct {
	// Name is the logical job name passed to Dispatch.
	Name string

	// ID is assigned by the broker.
	ID string

	// Payload is the serialized payload that was submitted.
	Payload map[string]any
}
