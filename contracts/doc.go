// Package contracts provides the domain event types that flow through domainbus.
//
// This package defines:
//   - DomainEvent: the interface every business fact implements
//   - Email and UserID: value objects that are unwrapped on the wire
//   - Envelope: the {eventType, eventData} JSON form carried by the broker
//   - EventRecorder: an embeddable helper for aggregates that raise events
//
// Each event maps itself to its wire payload through WireShape, so the wire
// format of every event type is explicit and checked by the compiler.
package contracts
