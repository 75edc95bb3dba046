package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/domainbus/contracts"
	"github.com/glimte/domainbus/metrics"
)

const instrumentationName = "github.com/glimte/domainbus/messaging"

// DomainEventPublisher is the port business code publishes through
type DomainEventPublisher interface {
	Publish(ctx context.Context, event contracts.DomainEvent) error
	PublishAll(ctx context.Context, events []contracts.DomainEvent) error
}

// Broker is the connection the publisher sends on
type Broker interface {
	IsReady() bool
	Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error
}

// EventPublisher publishes domain events to one exchange under one routing key
type EventPublisher struct {
	broker     Broker
	exchange   string
	routingKey string
	logger     *slog.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	newID      func() string
}

var _ DomainEventPublisher = (*EventPublisher)(nil)

// PublisherOption configures the EventPublisher
type PublisherOption func(*EventPublisher)

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *EventPublisher) {
		p.logger = logger
	}
}

// WithPublisherTracerProvider sets the tracer provider for producer spans
func WithPublisherTracerProvider(tp trace.TracerProvider) PublisherOption {
	return func(p *EventPublisher) {
		p.tracer = tp.Tracer(instrumentationName)
	}
}

// WithPublisherPropagator sets the propagator used to inject trace headers
func WithPublisherPropagator(propagator propagation.TextMapPropagator) PublisherOption {
	return func(p *EventPublisher) {
		p.propagator = propagator
	}
}

// NewEventPublisher creates a publisher for exchange and routingKey
func NewEventPublisher(broker Broker, exchange, routingKey string, options ...PublisherOption) *EventPublisher {
	p := &EventPublisher{
		broker:     broker,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     slog.Default(),
		tracer:     otel.Tracer(instrumentationName),
		propagator: otel.GetTextMapPropagator(),
		newID:      func() string { return uuid.New().String() },
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish sends one event. Serialization errors are returned before any
// broker call. While the broker is unavailable the event is dropped with a
// warning and Publish returns nil; business operations never fail because
// the broker is down. Transport errors while connected are returned.
func (p *EventPublisher) Publish(ctx context.Context, event contracts.DomainEvent) error {
	env, err := contracts.Serialize(event)
	if err != nil {
		return err
	}
	body, err := env.Bytes()
	if err != nil {
		return err
	}

	if !p.broker.IsReady() {
		p.skip(env.EventType)
		return nil
	}

	messageID := p.newID()
	err = p.send(ctx, env.EventType, messageID, body, event.OccurredAt())
	switch {
	case errors.Is(err, ErrNotConnected):
		p.skip(env.EventType)
		return nil
	case err != nil:
		p.logger.Error("failed to publish event",
			"eventType", env.EventType,
			"messageId", messageID,
			"error", err)
		metrics.RecordPublish(env.EventType, metrics.OutcomeFailed)
		return &PublishError{EventType: env.EventType, MessageID: messageID, Err: err}
	}

	p.logger.Debug("event published",
		"eventType", env.EventType,
		"messageId", messageID,
		"exchange", p.exchange)
	metrics.RecordPublish(env.EventType, metrics.OutcomePublished)
	return nil
}

// PublishAll publishes every event concurrently. Every publish is attempted
// even when some fail; failures are joined into the returned error and
// successful siblings are not rolled back.
func (p *EventPublisher) PublishAll(ctx context.Context, events []contracts.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	errs := make([]error, len(events))
	var wg sync.WaitGroup
	for i, event := range events {
		wg.Add(1)
		go func(i int, event contracts.DomainEvent) {
			defer wg.Done()
			errs[i] = p.Publish(ctx, event)
		}(i, event)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// PublishRaw sends an already serialized envelope. Unlike Publish it reports
// ErrNotConnected, so callers such as the outbox relay can keep the record.
func (p *EventPublisher) PublishRaw(ctx context.Context, eventType, messageID string, body []byte, occurredAt time.Time) error {
	if !p.broker.IsReady() {
		return ErrNotConnected
	}
	if err := p.send(ctx, eventType, messageID, body, occurredAt); err != nil {
		if errors.Is(err, ErrNotConnected) {
			return err
		}
		metrics.RecordPublish(eventType, metrics.OutcomeFailed)
		return &PublishError{EventType: eventType, MessageID: messageID, Err: err}
	}
	metrics.RecordPublish(eventType, metrics.OutcomePublished)
	return nil
}

func (p *EventPublisher) send(ctx context.Context, eventType, messageID string, body []byte, occurredAt time.Time) error {
	ctx, span := p.tracer.Start(ctx, eventType+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", p.exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", p.routingKey),
			attribute.String("messaging.message.id", messageID),
		))
	defer span.End()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Type:         eventType,
		Timestamp:    occurredAt,
		Headers:      injectTraceHeaders(ctx, p.propagator, nil),
		Body:         body,
	}

	if err := p.broker.Publish(ctx, p.exchange, p.routingKey, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *EventPublisher) skip(eventType string) {
	p.logger.Warn("broker not connected, event not published", "eventType", eventType)
	metrics.RecordPublish(eventType, metrics.OutcomeSkipped)
}
