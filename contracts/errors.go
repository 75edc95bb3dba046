package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEvent is returned when an outbound event cannot be serialized.
	ErrInvalidEvent = errors.New("contracts: invalid domain event")

	// ErrMalformedEnvelope is returned when an inbound body is not a valid envelope.
	ErrMalformedEnvelope = errors.New("contracts: malformed envelope")

	// ErrInvalidEmail is returned by NewEmail for addresses that fail validation.
	ErrInvalidEmail = errors.New("contracts: invalid email address")

	// ErrInvalidUserID is returned by NewUserID for negative identifiers.
	ErrInvalidUserID = errors.New("contracts: invalid user id")
)

// SerializationError describes a failure to convert between events and envelopes
type SerializationError struct {
	Op        string // "serialize" or "deserialize"
	EventType string
	Err       error
}

func (e *SerializationError) Error() string {
	if e.EventType != "" {
		return fmt.Sprintf("contracts: %s %s: %v", e.Op, e.EventType, e.Err)
	}
	return fmt.Sprintf("contracts: %s: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}
