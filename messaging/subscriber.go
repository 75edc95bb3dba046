package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/domainbus/internal/rabbitmq"
	"github.com/glimte/domainbus/internal/reliability"
)

// ChannelSource hands out the current broker channel and reports connection changes
type ChannelSource interface {
	Channel() (rabbitmq.Channel, bool)
	AddStateListener(listener rabbitmq.ConnectionStateListener)
	RemoveStateListener(listener rabbitmq.ConnectionStateListener)
}

// Subscriber keeps one consumer attached to a queue across reconnects
type Subscriber struct {
	source   ChannelSource
	consumer *rabbitmq.Consumer
	queue    string
	handler  rabbitmq.DeliveryHandler
	logger   *slog.Logger

	attempts     int
	delay        time.Duration
	initialDelay time.Duration

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	sub     *rabbitmq.Subscription
	subCh   rabbitmq.Channel
	started bool
	stopped bool
}

var _ rabbitmq.ConnectionStateListener = (*Subscriber)(nil)

// SubscriberOption configures the Subscriber
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger sets the logger
func WithSubscriberLogger(logger *slog.Logger) SubscriberOption {
	return func(s *Subscriber) {
		s.logger = logger
	}
}

// WithSubscribeRetry sets the startup attempts and the delay between them
func WithSubscribeRetry(attempts int, delay time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		s.attempts = attempts
		s.delay = delay
	}
}

// WithInitialDelay waits before the first subscription attempt
func WithInitialDelay(delay time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		s.initialDelay = delay
	}
}

// NewSubscriber creates a subscriber for queue
func NewSubscriber(source ChannelSource, consumer *rabbitmq.Consumer, queue string, handler rabbitmq.DeliveryHandler, options ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		source:   source,
		consumer: consumer,
		queue:    queue,
		handler:  handler,
		logger:   slog.Default(),
		attempts: 10,
		delay:    5 * time.Second,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Start subscribes with a bounded retry. It blocks until the consumer is
// attached, the attempts run out or ctx is done. The subscriber stays
// registered for connection events either way, so a later reconnect
// attaches the consumer.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSubscriberStopped
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.source.AddStateListener(s)

	if s.initialDelay > 0 {
		timer := time.NewTimer(s.initialDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	err := reliability.Retry(ctx, reliability.NewFixedDelay(s.delay, s.attempts),
		func(int) error { return s.subscribe() },
		reliability.WithOperation("subscribe "+s.queue),
		reliability.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			s.logger.Warn("subscription attempt failed, retrying",
				"queue", s.queue,
				"attempt", attempt,
				"maxAttempts", s.attempts,
				"retryIn", delay,
				"error", err)
		}))
	if err != nil {
		s.logger.Error("could not subscribe to queue, waiting for reconnect",
			"queue", s.queue,
			"error", err)
		return err
	}
	return nil
}

// Stop detaches the consumer and waits for in-flight handlers
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	sub := s.sub
	s.sub = nil
	s.subCh = nil
	s.mu.Unlock()

	s.source.RemoveStateListener(s)
	if sub != nil {
		sub.Stop()
	}
}

// Active reports whether a consumer is attached to a live channel
func (s *Subscriber) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil && !s.subCh.IsClosed()
}

// OnConnected attaches the consumer to the new channel
func (s *Subscriber) OnConnected() {
	if err := s.subscribe(); err != nil {
		s.logger.Error("failed to resubscribe after reconnect",
			"queue", s.queue,
			"error", err)
		return
	}
	s.logger.Info("resubscribed after reconnect", "queue", s.queue)
}

// OnDisconnected releases the consumer bound to the dead channel
func (s *Subscriber) OnDisconnected(error) {
	s.mu.Lock()
	sub := s.sub
	if sub != nil && s.subCh.IsClosed() {
		s.sub = nil
		s.subCh = nil
	} else {
		sub = nil
	}
	s.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
}

// OnReconnecting is a no-op
func (s *Subscriber) OnReconnecting(int) {}

func (s *Subscriber) subscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return reliability.Permanent(ErrSubscriberStopped)
	}
	if s.ctx == nil {
		return nil
	}
	if s.sub != nil {
		if !s.subCh.IsClosed() {
			return nil
		}
		stale := s.sub
		go stale.Stop()
		s.sub = nil
		s.subCh = nil
	}

	ch, ok := s.source.Channel()
	if !ok {
		return ErrNotConnected
	}

	sub, err := s.consumer.Subscribe(s.ctx, ch, s.queue, s.handler)
	if err != nil {
		return err
	}
	s.sub = sub
	s.subCh = ch
	return nil
}
