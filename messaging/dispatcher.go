package messaging

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/domainbus/contracts"
	"github.com/glimte/domainbus/metrics"
)

// Message is a parsed delivery travelling through the middleware chain
type Message struct {
	Envelope    contracts.Envelope
	MessageID   string
	Headers     amqp.Table
	Redelivered bool
}

// DispatchFunc handles a parsed message
type DispatchFunc func(ctx context.Context, msg Message) error

// Middleware wraps a DispatchFunc
type Middleware func(next DispatchFunc) DispatchFunc

// Dispatcher routes deliveries to registered handlers
type Dispatcher struct {
	registry   *Registry
	logger     *slog.Logger
	middleware []Middleware
}

// DispatcherOption configures the Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMiddleware appends middleware; the first one added runs outermost
func WithMiddleware(middleware ...Middleware) DispatcherOption {
	return func(d *Dispatcher) {
		d.middleware = append(d.middleware, middleware...)
	}
}

// NewDispatcher creates a dispatcher and freezes registry
func NewDispatcher(registry *Registry, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	registry.Freeze()
	d.logger.Info("dispatcher ready", "eventTypes", registry.EventTypes())
	return d
}

// HandleDelivery parses and dispatches one delivery. It returns nil when the
// delivery should be acked, which includes event types nobody handles, and an
// error when it should be nacked without requeue.
func (d *Dispatcher) HandleDelivery(ctx context.Context, delivery amqp.Delivery) error {
	env, err := contracts.Deserialize(delivery.Body)
	if err != nil {
		d.logger.Error("discarding malformed message",
			"messageId", delivery.MessageId,
			"error", err)
		metrics.RecordConsume("unparseable", metrics.OutcomeMalformed)
		return err
	}

	handler, ok := d.registry.Lookup(env.EventType)
	if !ok {
		d.logger.Warn("no handler registered for event type, acknowledging",
			"eventType", env.EventType,
			"messageId", delivery.MessageId)
		metrics.RecordConsume("unregistered", metrics.OutcomeUnknown)
		return nil
	}

	msg := Message{
		Envelope:    env,
		MessageID:   delivery.MessageId,
		Headers:     delivery.Headers,
		Redelivered: delivery.Redelivered,
	}

	final := func(ctx context.Context, msg Message) error {
		return handler(ctx, msg.Envelope)
	}

	if err := d.chain(final)(ctx, msg); err != nil {
		d.logger.Error("event handler failed",
			"eventType", env.EventType,
			"messageId", delivery.MessageId,
			"redelivered", delivery.Redelivered,
			"error", err)
		metrics.RecordConsume(env.EventType, metrics.OutcomeNacked)
		return &HandlerError{EventType: env.EventType, MessageID: delivery.MessageId, Err: err}
	}

	metrics.RecordConsume(env.EventType, metrics.OutcomeAcked)
	return nil
}

// chain builds the middleware chain in reverse so the first middleware is outermost
func (d *Dispatcher) chain(final DispatchFunc) DispatchFunc {
	result := final
	for i := len(d.middleware) - 1; i >= 0; i-- {
		result = d.middleware[i](result)
	}
	return result
}
