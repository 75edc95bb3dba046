// Package messaging turns domain events into broker messages and broker
// messages back into handler invocations.
//
//   - EventPublisher implements DomainEventPublisher. It serializes events,
//     publishes them as persistent JSON messages, and degrades to a logged
//     no-op while the broker is unavailable.
//   - Registry maps event types to handlers. It is built at startup and
//     frozen before the first delivery.
//   - Dispatcher parses deliveries, routes them through the middleware chain
//     and decides between ack and nack.
//   - Subscriber waits for the shared channel with a bounded retry and
//     resubscribes after every reconnect.
//
// Delivery is at-least-once. Handlers must be idempotent; the Redis-backed
// IdempotencyMiddleware drops redeliveries of messages already handled.
package messaging
