package messaging

import (
	"errors"
	"fmt"

	"github.com/glimte/domainbus/internal/rabbitmq"
)

var (
	// ErrNotConnected is returned by PublishRaw when no broker channel is available
	ErrNotConnected = rabbitmq.ErrNotConnected

	// Registry errors
	ErrRegistryFrozen   = errors.New("messaging: handler registry is frozen")
	ErrDuplicateHandler = errors.New("messaging: handler already registered for event type")
	ErrInvalidHandler   = errors.New("messaging: handler needs an event type and a function")

	// ErrSubscriberStopped is returned when subscribing after Stop
	ErrSubscriberStopped = errors.New("messaging: subscriber stopped")
)

// PublishError is returned when the broker rejected an event while connected
type PublishError struct {
	EventType string
	MessageID string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("messaging: publish %s (%s) failed: %v", e.EventType, e.MessageID, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// HandlerError is returned by the dispatcher when a handler failed
type HandlerError struct {
	EventType string
	MessageID string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("messaging: handler for %s (%s) failed: %v", e.EventType, e.MessageID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
