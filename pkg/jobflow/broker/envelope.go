package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// envelope is the serialized form of a task on queue-backed brokers.
type envelope struct {
	ID          string            `json:"id"`
	Task        string            `json:"task"`
	Args        []json.RawMessage `json:"args"`
	Attempt     int               `json:"attempt"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

func (e envelope) delivery() Delivery {
	return Delivery{ID: e.ID, TaskName: e.Task, Args: e.Args, Attempt: e.Attempt}
}

func newEnvelope(taskName string, args []any, now time.Time) (envelope, error) {
	if taskName == "" {
		return envelope{}, fmt.Errorf("broker: empty task name")
	}
	encoded, err := encodeArgs(args)
	if err != nil {
		return envelope{}, err
	}
	return envelope{
		ID:          newTaskID(),
		Task:        taskName,
		Args:        encoded,
		SubmittedAt: now.UTC(),
	}, nil
}

// newTaskID returns a time-ordered task id.
func newTaskID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// encodeArgs serializes each argument; only JSON is accepted.
func encodeArgs(args []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(args))
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("broker: encode arg %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}

func marshalValue(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("broker: encode result: %w", err)
	}
	return raw, nil
}

// FailureValue is the result payload recorded for a failed task.
func FailureValue(reason string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"status": "failed", "error": reason})
	return raw
}

func failureResult(reason string) Result {
	return Result{Status: StatusFailure, Value: FailureValue(reason), Error: reason}
}
