// Package rabbitmq owns the single broker connection used by domainbus.
//
// This package includes:
//   - ConnectionManager: bounded connect retry, auto-reconnect and drain-then-close
//   - TopologyManager: idempotent declaration of exchanges, queues and bindings
//   - Consumer: manual-ack consumption with a per-message handler timeout
//
// The broker is reached through the Connection and Channel interfaces, which
// *amqp.Connection and *amqp.Channel satisfy, so every component can be
// exercised against in-memory fakes.
package rabbitmq
