package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/mock"
)

type publishedMessage struct {
	Exchange string
	Key      string
	Msg      amqp.Publishing
}

// fakeChannel is an in-memory Channel
type fakeChannel struct {
	mu sync.Mutex

	exchanges []string
	queues    []QueueDeclaration
	bindings  []Binding
	published []publishedMessage
	qos       int
	cancelled []string
	closed    bool
	notify    []chan *amqp.Error

	exchangeErr error
	consumeErr  error
	publishErr  error
	publishGate chan struct{}
	publishing  chan struct{}
	deliveries  chan amqp.Delivery
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exchangeErr != nil {
		return f.exchangeErr
	}
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues = append(f.queues, QueueDeclaration{Name: name, Durable: durable, Arguments: args})
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings = append(f.bindings, Binding{Queue: name, Exchange: exchange, RoutingKey: key})
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qos = prefetchCount
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	return f.deliveries, nil
}

func (f *fakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, consumer)
	return nil
}

func (f *fakeChannel) Confirm(noWait bool) error { return nil }

func (f *fakeChannel) PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	if f.publishing != nil {
		f.publishing <- struct{}{}
	}
	if f.publishGate != nil {
		<-f.publishGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, amqp.ErrClosed
	}
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	f.published = append(f.published, publishedMessage{Exchange: exchange, Key: key, Msg: msg})
	return nil, nil
}

func (f *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notify = append(f.notify, receiver)
	return receiver
}

func (f *fakeChannel) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return amqp.ErrClosed
	}
	f.closed = true
	for _, n := range f.notify {
		close(n)
	}
	f.notify = nil
	return nil
}

func (f *fakeChannel) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// fakeConnection is an in-memory Connection
type fakeConnection struct {
	mu      sync.Mutex
	ch      *fakeChannel
	closed  bool
	notify  []chan *amqp.Error
	chanErr error
}

func (f *fakeConnection) Channel() (Channel, error) {
	if f.chanErr != nil {
		return nil, f.chanErr
	}
	return f.ch, nil
}

func (f *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notify = append(f.notify, receiver)
	return receiver
}

func (f *fakeConnection) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return amqp.ErrClosed
	}
	f.closed = true
	for _, n := range f.notify {
		close(n)
	}
	f.notify = nil
	return nil
}

// drop simulates the broker closing the connection
func (f *fakeConnection) drop(reason *amqp.Error) {
	f.mu.Lock()
	notify := f.notify
	f.notify = nil
	f.closed = true
	f.mu.Unlock()

	for _, n := range notify {
		n <- reason
		close(n)
	}
}

// fakeBroker hands out a fresh connection per successful dial
type fakeBroker struct {
	mu        sync.Mutex
	dials     int
	failFirst int
	dialErr   error
	conns     []*fakeConnection
	prepare   func(*fakeChannel)
}

func (b *fakeBroker) dial(url string) (Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.dials <= b.failFirst {
		err := b.dialErr
		if err == nil {
			err = errors.New("connection refused")
		}
		return nil, err
	}

	ch := newFakeChannel()
	if b.prepare != nil {
		b.prepare(ch)
	}
	conn := &fakeConnection{ch: ch}
	b.conns = append(b.conns, conn)
	return conn, nil
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBroker) lastConn() *fakeConnection {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

func (b *fakeBroker) connCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

type mockDeliveryAcknowledger struct {
	mock.Mock
}

func (m *mockDeliveryAcknowledger) Ack(tag uint64, multiple bool) error {
	args := m.Called(tag, multiple)
	return args.Error(0)
}

func (m *mockDeliveryAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	args := m.Called(tag, multiple, requeue)
	return args.Error(0)
}

func (m *mockDeliveryAcknowledger) Reject(tag uint64, requeue bool) error {
	args := m.Called(tag, requeue)
	return args.Error(0)
}

type mockListener struct {
	mock.Mock
}

func (m *mockListener) OnConnected() {
	m.Called()
}

func (m *mockListener) OnDisconnected(err error) {
	m.Called(err)
}

func (m *mockListener) OnReconnecting(attempt int) {
	m.Called(attempt)
}

// orderedListener records state changes; the first OnConnected blocks until
// firstConnected is closed
type orderedListener struct {
	mu             sync.Mutex
	events         []string
	firstConnected chan struct{}
}

func (l *orderedListener) OnConnected() {
	l.mu.Lock()
	gate := l.firstConnected
	l.firstConnected = nil
	l.mu.Unlock()
	if gate != nil {
		<-gate
	}
	l.record("connected")
}

func (l *orderedListener) OnDisconnected(error) {
	l.record("disconnected")
}

func (l *orderedListener) OnReconnecting(attempt int) {
	l.record(fmt.Sprintf("reconnecting %d", attempt))
}

func (l *orderedListener) record(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *orderedListener) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}
