package contracts

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// OccurredOnLayout is the timestamp layout used for occurredOn on the wire.
const OccurredOnLayout = "2006-01-02T15:04:05.000Z07:00"

// DomainEvent is an immutable record of a business fact
type DomainEvent interface {
	// EventName returns the stable discriminator used as eventType on the wire
	EventName() string
	// OccurredAt returns the instant the event was created
	OccurredAt() time.Time
	// WireShape returns the JSON object carried as eventData
	WireShape() any
}

// FormatOccurredOn renders t the way every event payload carries it.
func FormatOccurredOn(t time.Time) string {
	return t.UTC().Format(OccurredOnLayout)
}

// baseEvent carries the construction timestamp shared by all events.
type baseEvent struct {
	occurredOn time.Time
}

func newBaseEvent() baseEvent {
	return baseEvent{occurredOn: time.Now().UTC()}
}

// OccurredAt returns when the event was created
func (b baseEvent) OccurredAt() time.Time {
	return b.occurredOn
}

// Email is a validated, normalized email address
type Email struct {
	value string
}

// NewEmail validates and lower-cases an address.
func NewEmail(raw string) (Email, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return Email{}, fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return Email{}, fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}
	return Email{value: trimmed}, nil
}

// MustEmail is NewEmail for literals known to be valid.
func MustEmail(raw string) Email {
	e, err := NewEmail(raw)
	if err != nil {
		panic(err)
	}
	return e
}

// Value returns the plain address
func (e Email) Value() string {
	return e.value
}

func (e Email) String() string {
	return e.value
}

// UserID identifies a user
type UserID struct {
	value int64
}

// NewUserID rejects negative identifiers.
func NewUserID(id int64) (UserID, error) {
	if id < 0 {
		return UserID{}, fmt.Errorf("%w: %d", ErrInvalidUserID, id)
	}
	return UserID{value: id}, nil
}

// MustUserID is NewUserID for literals known to be valid.
func MustUserID(id int64) UserID {
	u, err := NewUserID(id)
	if err != nil {
		panic(err)
	}
	return u
}

// Value returns the numeric identifier
func (u UserID) Value() int64 {
	return u.value
}

// IsZero reports whether the id was never set
func (u UserID) IsZero() bool {
	return u.value == 0
}
