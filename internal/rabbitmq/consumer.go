package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryHandler processes one delivery. A nil return acks the delivery;
// any error nacks it without requeue.
type DeliveryHandler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer consumes a queue with manual acknowledgement
type Consumer struct {
	prefetchCount  int
	workers        int
	handlerTimeout time.Duration
	consumerTag    string
	logger         *slog.Logger
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithWorkers sets how many deliveries are handled concurrently
func WithWorkers(workers int) ConsumerOption {
	return func(c *Consumer) {
		c.workers = workers
	}
}

// WithHandlerTimeout bounds a single handler invocation
func WithHandlerTimeout(timeout time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.handlerTimeout = timeout
	}
}

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer that handles one message at a time
func NewConsumer(options ...ConsumerOption) *Consumer {
	c := &Consumer{
		prefetchCount:  1,
		workers:        1,
		handlerTimeout: 30 * time.Second,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	if c.workers < 1 {
		c.workers = 1
	}
	if c.prefetchCount < c.workers {
		c.prefetchCount = c.workers
	}
	return c
}

// Subscription is a running consumer on one queue
type Subscription struct {
	queue  string
	tag    string
	ch     Channel
	cancel context.CancelFunc
	done   chan struct{}
}

// Queue returns the consumed queue name
func (s *Subscription) Queue() string {
	return s.queue
}

// Done is closed once every worker has returned
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Stop cancels the consumer and waits for in-flight handlers to finish.
// Unacknowledged deliveries are returned to the queue by the broker.
func (s *Subscription) Stop() {
	s.cancel()
	if s.tag != "" && !s.ch.IsClosed() {
		_ = s.ch.Cancel(s.tag, false)
	}
	<-s.done
}

// Subscribe sets QoS and starts consuming queue on ch
func (c *Consumer) Subscribe(ctx context.Context, ch Channel, queue string, handler DeliveryHandler) (*Subscription, error) {
	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		return nil, &ConsumerError{
			Queue:       queue,
			ConsumerTag: c.consumerTag,
			Op:          "qos",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	tag := c.consumerTag
	if tag == "" {
		tag = fmt.Sprintf("domainbus-%s-%d", queue, time.Now().UnixNano())
	}

	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return nil, &ConsumerError{
			Queue:       queue,
			ConsumerTag: tag,
			Op:          "consume",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		queue:  queue,
		tag:    tag,
		ch:     ch,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.processMessages(consumerCtx, queue, deliveries, handler)
		}()
	}
	go func() {
		wg.Wait()
		cancel()
		close(sub.done)
		c.logger.Info("consumer stopped", "queue", queue)
	}()

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"consumerTag", tag,
		"prefetchCount", c.prefetchCount,
		"workers", c.workers)

	return sub, nil
}

func (c *Consumer) processMessages(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler DeliveryHandler) {
	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", queue)
				return
			}
			c.handleMessage(ctx, delivery, handler)
		}
	}
}

// handleMessage runs the handler under the timeout and settles the delivery.
// Cancelling the consumer does not cancel a handler already running.
func (c *Consumer) handleMessage(ctx context.Context, delivery amqp.Delivery, handler DeliveryHandler) {
	msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.handlerTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		result <- handler(msgCtx, delivery)
	}()

	var err error
	select {
	case err = <-result:
	case <-msgCtx.Done():
		err = fmt.Errorf("%w after %v", ErrHandlerTimeout, c.handlerTimeout)
	}

	if err != nil {
		c.logger.Error("message handling failed, rejecting without requeue",
			"messageId", delivery.MessageId,
			"deliveryTag", delivery.DeliveryTag,
			"error", err)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			c.logger.Error("failed to nack message",
				"error", nackErr,
				"originalError", err)
		}
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Error("failed to ack message", "error", ackErr)
	}
}
