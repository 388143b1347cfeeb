package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Wire keys shared by every event variant.
const (
	KeyEventID    = "event_id"
	KeyOccurredAt = "occurred_at"
	KeyEventType  = "event_type"
)

// TimeLayout is the wire format of occurred_at. RFC 3339 keeps the UTC
// offset, and the nanosecond fraction preserves sub-second precision.
const TimeLayout = time.RFC3339Nano

// Event is an immutable record of something that happened.
//
// Concrete variants embed Meta and keep their fields unexported behind
// accessors, so a value cannot change after construction.
type Event interface {
	// ID is a time-ordered unique identifier (UUIDv7).
	ID() uuid.UUID

	// OccurredAt is the UTC construction time.
	OccurredAt() time.Time

	// Type is the stable tag used for routing and decoding.
	Type() string

	// ToMap returns a JSON-compatible mapping of every field.
	ToMap() map[string]any
}

// Meta carries the identity and timestamp common to all events.
type Meta struct {
	id         uuid.UUID
	occurredAt time.Time
}

// NewMeta generates a fresh identity stamped with the current UTC time.
func NewMeta() Meta {
	return Meta{
		id:         uuid.Must(uuid.NewV7()),
		occurredAt: time.Now().UTC(),
	}
}

// ID returns the event identifier.
func (m Meta) ID() uuid.UUID { return m.id }

// OccurredAt returns when the event was created.
func (m Meta) OccurredAt() time.Time { return m.occurredAt }

// fields renders the common keys for an event of the given type.
func (m Meta) fields(eventType string) map[string]any {
	return map[string]any{
		KeyEventID:    m.id.String(),
		KeyOccurredAt: m.occurredAt.Format(TimeLayout),
		KeyEventType:  eventType,
	}
}

// RestoreMeta parses event_id and occurred_at back out of a mapping.
func RestoreMeta(data map[string]any) (Meta, error) {
	rawID, err := stringField(data, KeyEventID)
	if err != nil {
		return Meta{}, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Meta{}, &DeserializationError{Field: KeyEventID, Reason: "not a valid UUID", Err: err}
	}

	rawTime, err := stringField(data, KeyOccurredAt)
	if err != nil {
		return Meta{}, err
	}
	ts, err := time.Parse(TimeLayout, rawTime)
	if err != nil {
		return Meta{}, &DeserializationError{Field: KeyOccurredAt, Reason: "not an RFC 3339 timestamp", Err: err}
	}

	return Meta{id: id, occurredAt: ts.UTC()}, nil
}

// stringField reads a required string value.
func stringField(data map[string]any, key string) (string, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return "", &DeserializationError{Field: key, Reason: "missing"}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &DeserializationError{Field: key, Reason: fmt.Sprintf("expected string, got %T", raw)}
	}
	return s, nil
}

// checkType verifies the optional event_type tag matches want.
func checkType(data map[string]any, want string) error {
	raw, ok := data[KeyEventType]
	if !ok {
		return nil
	}
	got, isString := raw.(string)
	if !isString || got != want {
		return &DeserializationError{Field: KeyEventType, Reason: fmt.Sprintf("expected %q, got %v", want, raw)}
	}
	return nil
}
