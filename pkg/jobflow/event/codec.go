package event

import (
	"encoding/json"
	"fmt"

	"github.com/randalmurphal/jobflow/pkg/jobflow/registry"
)

// Decoder rebuilds an event from its mapping.
type Decoder func(data map[string]any) (Event, error)

// Codec decodes serialized events by routing on their event_type tag.
type Codec struct {
	decoders *registry.Registry[string, Decoder]
}

// NewCodec creates an empty codec.
func NewCodec() *Codec {
	return &Codec{decoders: registry.New[string, Decoder]()}
}

// NewDefaultCodec creates a codec that knows every built-in event variant.
func NewDefaultCodec() *Codec {
	c := NewCodec()
	RegisterDecoder(c, TypeAccountCreated, DecodeAccountCreated)
	return c
}

// Register installs the decoder for eventType, replacing any previous one.
func (c *Codec) Register(eventType string, d Decoder) {
	c.decoders.Register(eventType, d)
}

// RegisterDecoder installs a typed decode function.
func RegisterDecoder[E Event](c *Codec, eventType string, fn func(map[string]any) (E, error)) {
	c.Register(eventType, func(data map[string]any) (Event, error) {
		e, err := fn(data)
		if err != nil {
			return nil, err
		}
		return e, nil
	})
}

// Types lists the registered event types in no particular order.
func (c *Codec) Types() []string {
	return c.decoders.Keys()
}

// Decode rebuilds an event from a mapping produced by Event.ToMap.
func (c *Codec) Decode(data map[string]any) (Event, error) {
	eventType, err := stringField(data, KeyEventType)
	if err != nil {
		return nil, err
	}
	decode, ok := c.decoders.Get(eventType)
	if !ok {
		return nil, &DeserializationError{Field: KeyEventType, Reason: fmt.Sprintf("unknown event type %q", eventType)}
	}
	return decode(data)
}

// DecodeJSON decodes a JSON object into an event.
func (c *Codec) DecodeJSON(raw []byte) (Event, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &DeserializationError{Reason: "not a JSON object", Err: err}
	}
	if data == nil {
		return nil, &DeserializationError{Reason: "null payload"}
	}
	return c.Decode(data)
}
