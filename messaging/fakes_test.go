package messaging

import (
	"context"
	"io"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/mock"

	"github.com/glimte/domainbus/internal/rabbitmq"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) IsReady() bool {
	return m.Called().Bool(0)
}

func (m *mockBroker) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	return m.Called(ctx, exchange, key, msg).Error(0)
}

type mockAcknowledger struct {
	mock.Mock
}

func (m *mockAcknowledger) Ack(tag uint64, multiple bool) error {
	return m.Called(tag, multiple).Error(0)
}

func (m *mockAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	return m.Called(tag, multiple, requeue).Error(0)
}

func (m *mockAcknowledger) Reject(tag uint64, requeue bool) error {
	return m.Called(tag, requeue).Error(0)
}

// stubChannel implements only what consuming needs
type stubChannel struct {
	mu         sync.Mutex
	closed     bool
	consumes   int
	consumeErr error
	deliveries chan amqp.Delivery
}

func newStubChannel() *stubChannel {
	return &stubChannel{deliveries: make(chan amqp.Delivery, 8)}
}

func (s *stubChannel) ExchangeDeclare(string, string, bool, bool, bool, bool, amqp.Table) error {
	return nil
}

func (s *stubChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, nil
}

func (s *stubChannel) QueueBind(string, string, string, bool, amqp.Table) error { return nil }

func (s *stubChannel) Qos(int, int, bool) error { return nil }

func (s *stubChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumes++
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	return s.deliveries, nil
}

func (s *stubChannel) Cancel(string, bool) error { return nil }

func (s *stubChannel) Confirm(bool) error { return nil }

func (s *stubChannel) PublishWithDeferredConfirmWithContext(context.Context, string, string, bool, bool, amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	return nil, nil
}

func (s *stubChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error { return c }

func (s *stubChannel) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close mimics the broker closing consumer delivery channels
func (s *stubChannel) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.deliveries)
	}
	return nil
}

func (s *stubChannel) consumeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumes
}

// stubSource is a ChannelSource whose channel can be swapped
type stubSource struct {
	mu        sync.Mutex
	ch        *stubChannel
	listeners []rabbitmq.ConnectionStateListener
}

func (s *stubSource) Channel() (rabbitmq.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil || s.ch.IsClosed() {
		return nil, false
	}
	return s.ch, true
}

func (s *stubSource) AddStateListener(l rabbitmq.ConnectionStateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *stubSource) RemoveStateListener(l rabbitmq.ConnectionStateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *stubSource) listenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *stubSource) setChannel(ch *stubChannel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ch = ch
}

func (s *stubSource) snapshot() []rabbitmq.ConnectionStateListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rabbitmq.ConnectionStateListener(nil), s.listeners...)
}
