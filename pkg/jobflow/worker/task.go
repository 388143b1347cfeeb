package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/randalmurphal/jobflow/pkg/jobflow/broker"
	ferrors "github.com/randalmurphal/jobflow/pkg/jobflow/errors"
	"github.com/randalmurphal/jobflow/pkg/jobflow/event"
)

// Call is a single execution of a task.
type Call struct {
	ID   string
	Name string
	Args []json.RawMessage

	// Attempt is 0 on the first execution and grows by one per retry.
	Attempt int
}

func callFor(d broker.Delivery) Call {
	return Call{ID: d.ID, Name: d.TaskName, Args: d.Args, Attempt: d.Attempt}
}

// Arg decodes argument i into v. Missing or malformed arguments are
// permanent errors.
func (c Call) Arg(i int, v any) error {
	if i < 0 || i >= len(c.Args) {
		return ferrors.Permanent(fmt.Errorf("argument %d missing (have %d)", i, len(c.Args)), "decode args")
	}
	if err := json.Unmarshal(c.Args[i], v); err != nil {
		return ferrors.Permanent(err, "decode args")
	}
	return nil
}

// TaskFunc runs one task execution. The returned value must be JSON
// serializable; it becomes the task result on success.
type TaskFunc func(ctx context.Context, call Call) (any, error)

// DecodeEvent reconstructs the domain event carried as the first argument.
func DecodeEvent(codec *event.Codec, call Call) (event.Event, error) {
	if len(call.Args) == 0 {
		return nil, ferrors.Permanent(fmt.Errorf("task %s: no event argument", call.Name), "decode event")
	}
	evt, err := codec.DecodeJSON(call.Args[0])
	if err != nil {
		return nil, ferrors.Permanent(err, "decode event")
	}
	return evt, nil
}

// HandlerTask adapts an event handler into a task. The event is decoded from
// the first argument; a payload that cannot be decoded fails permanently.
// Handler errors keep their category.
func HandlerTask(codec *event.Codec, h event.Handler) TaskFunc {
	return func(ctx context.Context, call Call) (any, error) {
		evt, err := DecodeEvent(codec, call)
		if err != nil {
			return nil, err
		}
		if err := h.Handle(ctx, evt); err != nil {
			return nil, err
		}
		return map[string]string{
			"status":     "handled",
			"event_id":   evt.ID().String(),
			"event_type": evt.Type(),
		}, nil
	}
}
