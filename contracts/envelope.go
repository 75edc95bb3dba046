package contracts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Envelope is the broker wire form of a domain event
type Envelope struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData"`
}

// Serialize converts an event into its envelope. Failures are programming
// errors and are reported before any network I/O happens.
func Serialize(event DomainEvent) (Envelope, error) {
	if event == nil {
		return Envelope{}, &SerializationError{Op: "serialize", Err: fmt.Errorf("%w: nil event", ErrInvalidEvent)}
	}

	name := event.EventName()
	if name == "" {
		return Envelope{}, &SerializationError{Op: "serialize", Err: fmt.Errorf("%w: empty event name", ErrInvalidEvent)}
	}

	shape := event.WireShape()
	if shape == nil {
		return Envelope{}, &SerializationError{Op: "serialize", EventType: name, Err: fmt.Errorf("%w: nil payload", ErrInvalidEvent)}
	}

	data, err := json.Marshal(shape)
	if err != nil {
		return Envelope{}, &SerializationError{Op: "serialize", EventType: name, Err: errors.Join(ErrInvalidEvent, err)}
	}
	if !isJSONObject(data) {
		return Envelope{}, &SerializationError{Op: "serialize", EventType: name, Err: fmt.Errorf("%w: payload is not a JSON object", ErrInvalidEvent)}
	}

	return Envelope{EventType: name, EventData: data}, nil
}

// Marshal serializes an event and encodes the envelope as JSON.
func Marshal(event DomainEvent) ([]byte, error) {
	env, err := Serialize(event)
	if err != nil {
		return nil, err
	}
	return env.Bytes()
}

// Bytes encodes the envelope.
func (e Envelope) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// Deserialize parses a broker body. It never returns a partial envelope:
// the top level must hold exactly the keys eventType and eventData, spelled
// with that case, eventType must be a non-empty string and eventData an object.
func Deserialize(body []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return Envelope{}, malformed(err)
	}
	if dec.More() {
		return Envelope{}, malformed(errors.New("trailing data after envelope"))
	}
	if fields == nil {
		return Envelope{}, malformed(errors.New("envelope is not an object"))
	}
	for key := range fields {
		if key != "eventType" && key != "eventData" {
			return Envelope{}, malformed(fmt.Errorf("unexpected field %q", key))
		}
	}

	rawType, ok := fields["eventType"]
	if !ok {
		return Envelope{}, malformed(errors.New("missing eventType"))
	}
	var eventType string
	if err := json.Unmarshal(rawType, &eventType); err != nil {
		return Envelope{}, malformed(fmt.Errorf("eventType: %w", err))
	}
	if eventType == "" {
		return Envelope{}, malformed(errors.New("missing eventType"))
	}

	data := fields["eventData"]
	if !isJSONObject(data) {
		return Envelope{}, &SerializationError{
			Op:        "deserialize",
			EventType: eventType,
			Err:       fmt.Errorf("%w: eventData must be an object", ErrMalformedEnvelope),
		}
	}
	return Envelope{EventType: eventType, EventData: data}, nil
}

// Decode unmarshals eventData into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.EventData, v); err != nil {
		return &SerializationError{Op: "decode", EventType: e.EventType, Err: errors.Join(ErrMalformedEnvelope, err)}
	}
	return nil
}

// DecodeData is a typed convenience over Envelope.Decode.
func DecodeData[T any](e Envelope) (T, error) {
	var v T
	err := e.Decode(&v)
	return v, err
}

func malformed(err error) error {
	return &SerializationError{Op: "deserialize", Err: errors.Join(ErrMalformedEnvelope, err)}
}

func isJSONObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) >= 2 && trimmed[0] == '{'
}

// EventRecorder collects events raised by an aggregate until they are pulled
// for publication. Embed it in aggregate types.
type EventRecorder struct {
	mu     sync.Mutex
	events []DomainEvent
}

// Record appends an event.
func (r *EventRecorder) Record(event DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// PullEvents returns the recorded events and clears them, so the same
// instance is never published twice.
func (r *EventRecorder) PullEvents() []DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := r.events
	r.events = nil
	return events
}

// PendingEvents returns a copy of the recorded events without clearing them.
func (r *EventRecorder) PendingEvents() []DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DomainEvent, len(r.events))
	copy(out, r.events)
	return out
}
