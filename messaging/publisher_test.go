package messaging

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/domainbus/contracts"
)

func newTestPublisher(broker Broker, opts ...PublisherOption) *EventPublisher {
	p := NewEventPublisher(broker, "domain_events", "domain.event",
		append([]PublisherOption{WithPublisherLogger(quietLogger())}, opts...)...)
	p.newID = func() string { return "msg-1" }
	return p
}

func tripEvent() contracts.DomainEvent {
	return contracts.NewTripCreatedEvent(7, "Lisbon", contracts.MustUserID(3))
}

func TestEventPublisher(t *testing.T) {
	t.Run("publishes a persistent JSON envelope to the configured exchange", func(t *testing.T) {
		broker := &mockBroker{}
		broker.On("IsReady").Return(true)
		broker.On("Publish", mock.Anything, "domain_events", "domain.event", mock.MatchedBy(func(msg amqp.Publishing) bool {
			env, err := contracts.Deserialize(msg.Body)
			return err == nil &&
				env.EventType == contracts.TripCreated &&
				msg.ContentType == "application/json" &&
				msg.DeliveryMode == amqp.Persistent &&
				msg.MessageId == "msg-1" &&
				msg.Type == contracts.TripCreated
		})).Return(nil).Once()

		err := newTestPublisher(broker).Publish(context.Background(), tripEvent())
		require.NoError(t, err)
		broker.AssertExpectations(t)
	})

	t.Run("drops the event without error while the broker is not ready", func(t *testing.T) {
		broker := &mockBroker{}
		broker.On("IsReady").Return(false)

		err := newTestPublisher(broker).Publish(context.Background(), tripEvent())
		assert.NoError(t, err)
		broker.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("treats a lost connection during publish as a skip", func(t *testing.T) {
		broker := &mockBroker{}
		broker.On("IsReady").Return(true)
		broker.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(ErrNotConnected)

		assert.NoError(t, newTestPublisher(broker).Publish(context.Background(), tripEvent()))
	})

	t.Run("returns transport errors while connected", func(t *testing.T) {
		broker := &mockBroker{}
		broker.On("IsReady").Return(true)
		cause := errors.New("channel blocked")
		broker.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(cause)

		err := newTestPublisher(broker).Publish(context.Background(), tripEvent())
		require.Error(t, err)

		var pubErr *PublishError
		require.ErrorAs(t, err, &pubErr)
		assert.Equal(t, contracts.TripCreated, pubErr.EventType)
		assert.Equal(t, "msg-1", pubErr.MessageID)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("PublishAll attempts every event and joins the failures", func(t *testing.T) {
		broker := &mockBroker{}
		broker.On("IsReady").Return(true)
		failure := errors.New("boom")
		broker.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.MatchedBy(func(msg amqp.Publishing) bool {
			return msg.Type == contracts.UserRegistered
		})).Return(failure).Once()
		broker.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()

		events := []contracts.DomainEvent{
			tripEvent(),
			contracts.NewUserRegisteredEvent(contracts.MustUserID(1), contracts.MustEmail("a@example.com"), "Ana"),
			contracts.NewAvatarUploadedEvent(contracts.MustUserID(1), "avatars/1.png", "https://cdn.example.com/avatars/1.png"),
		}

		err := newTestPublisher(broker).PublishAll(context.Background(), events)
		require.Error(t, err)
		assert.ErrorIs(t, err, failure)
		broker.AssertNumberOfCalls(t, "Publish", 3)
	})

	t.Run("PublishAll reports a typed nil event as invalid", func(t *testing.T) {
		broker := &mockBroker{}
		broker.On("IsReady").Return(true)
		broker.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

		events := []contracts.DomainEvent{(*contracts.TripCreatedEvent)(nil), tripEvent()}
		err := newTestPublisher(broker).PublishAll(context.Background(), events)
		assert.ErrorIs(t, err, contracts.ErrInvalidEvent)
		broker.AssertExpectations(t)
	})

	t.Run("PublishAll with no events is a no-op", func(t *testing.T) {
		broker := &mockBroker{}
		assert.NoError(t, newTestPublisher(broker).PublishAll(context.Background(), nil))
		broker.AssertNotCalled(t, "IsReady")
	})

	t.Run("PublishRaw reports a missing connection", func(t *testing.T) {
		broker := &mockBroker{}
		broker.On("IsReady").Return(false)

		err := newTestPublisher(broker).PublishRaw(context.Background(), contracts.TripCreated, "id", []byte(`{}`), tripEvent().OccurredAt())
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("injects the caller trace context into the headers", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		defer func() { _ = tp.Shutdown(context.Background()) }()

		var headers amqp.Table
		broker := &mockBroker{}
		broker.On("IsReady").Return(true)
		broker.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				headers = args.Get(3).(amqp.Publishing).Headers
			}).Return(nil)

		p := newTestPublisher(broker,
			WithPublisherTracerProvider(tp),
			WithPublisherPropagator(propagation.TraceContext{}))

		ctx, parent := tp.Tracer("test").Start(context.Background(), "register user")
		require.NoError(t, p.Publish(ctx, tripEvent()))
		parent.End()

		require.Contains(t, headers, "traceparent")
		spans := recorder.Ended()
		require.Len(t, spans, 2)
		assert.Equal(t, contracts.TripCreated+" publish", spans[0].Name())
		assert.Equal(t, trace.SpanKindProducer, spans[0].SpanKind())
		assert.Equal(t, parent.SpanContext().TraceID(), spans[0].SpanContext().TraceID())
	})
}
