// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package domainbus wires the broker connection, publisher, dispatcher and
// subscriber into one owned set of resources.
package domainbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/domainbus/config"
	"github.com/glimte/domainbus/health"
	"github.com/glimte/domainbus/internal/rabbitmq"
	"github.com/glimte/domainbus/messaging"
	"github.com/glimte/domainbus/metrics"
)

// Bus owns the broker connection and everything built on it
type Bus struct {
	cfg        *config.Config
	logger     *slog.Logger
	conn       *rabbitmq.ConnectionManager
	publisher  *messaging.EventPublisher
	registry   *messaging.Registry
	subscriber *messaging.Subscriber
	redis      redis.UniversalClient
	ownsRedis  bool
	health     *health.Registry
	tp         trace.TracerProvider
	propagator propagation.TextMapPropagator

	mu        sync.Mutex
	started   bool
	closeOnce sync.Once
}

// busConfig holds bus construction options
type busConfig struct {
	logger     *slog.Logger
	dialer     rabbitmq.Dialer
	redis      redis.UniversalClient
	tp         trace.TracerProvider
	propagator propagation.TextMapPropagator
}

// Option configures the bus
type Option func(*busConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *busConfig) {
		cfg.logger = logger
	}
}

// WithDialer replaces the AMQP dialer
func WithDialer(dialer rabbitmq.Dialer) Option {
	return func(cfg *busConfig) {
		cfg.dialer = dialer
	}
}

// WithRedisClient uses client for message deduplication instead of one
// built from the redis configuration. The caller keeps ownership.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(cfg *busConfig) {
		cfg.redis = client
	}
}

// WithTracing sets the tracer provider and propagator
func WithTracing(tp trace.TracerProvider, propagator propagation.TextMapPropagator) Option {
	return func(cfg *busConfig) {
		cfg.tp = tp
		cfg.propagator = propagator
	}
}

// New builds the bus without touching the network
func New(cfg *config.Config, options ...Option) (*Bus, error) {
	if cfg == nil {
		return nil, errors.New("domainbus: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bc := &busConfig{
		logger:     slog.Default(),
		tp:         otel.GetTracerProvider(),
		propagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range options {
		opt(bc)
	}

	b := cfg.Broker
	topology := rabbitmq.DefaultTopology(rabbitmq.TopologyNames{
		Exchange:           b.Exchange,
		Queue:              b.Queue,
		RoutingKey:         b.RoutingKey,
		DeadLetterExchange: b.DeadLetterExchange,
		DeadLetterQueue:    b.DeadLetterQueue,
	})
	if err := topology.Validate(); err != nil {
		return nil, err
	}

	connOpts := []rabbitmq.ConnectionOption{
		rabbitmq.WithLogger(bc.logger),
		rabbitmq.WithTopology(topology),
		rabbitmq.WithConnectRetry(b.ConnectAttempts, b.ConnectDelay),
		rabbitmq.WithAutoReconnect(b.AutoReconnect),
		rabbitmq.WithPublisherConfirms(b.ConfirmPublishes),
		rabbitmq.WithDrainTimeout(b.DrainTimeout),
	}
	if bc.dialer != nil {
		connOpts = append(connOpts, rabbitmq.WithDialer(bc.dialer))
	}
	conn := rabbitmq.NewConnectionManager(b.URL, connOpts...)
	conn.AddStateListener(metrics.ConnectionListener{})

	bus := &Bus{
		cfg:        cfg,
		logger:     bc.logger,
		conn:       conn,
		registry:   messaging.NewRegistry(),
		redis:      bc.redis,
		health:     health.NewRegistry(),
		tp:         bc.tp,
		propagator: bc.propagator,
	}

	bus.publisher = messaging.NewEventPublisher(conn, b.Exchange, b.RoutingKey,
		messaging.WithPublisherLogger(bc.logger),
		messaging.WithPublisherTracerProvider(bc.tp),
		messaging.WithPublisherPropagator(bc.propagator),
	)

	if bus.redis == nil && cfg.Redis.Addr != "" {
		bus.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		bus.ownsRedis = true
	}

	bus.health.Register(health.NewBrokerChecker(conn))
	if bus.redis != nil {
		bus.health.Register(health.NewRedisChecker(bus.redis))
	}

	return bus, nil
}

// Registry is where handlers are installed before Start
func (b *Bus) Registry() *messaging.Registry {
	return b.registry
}

// Publisher returns the domain event publisher
func (b *Bus) Publisher() *messaging.EventPublisher {
	return b.publisher
}

// Health returns the health check registry
func (b *Bus) Health() *health.Registry {
	return b.health
}

// Connection returns the underlying connection manager
func (b *Bus) Connection() *rabbitmq.ConnectionManager {
	return b.conn
}

// Connect opens the broker connection. Running out of attempts is not
// fatal: the bus stays in degraded mode, publishing becomes a logged no-op
// and a later reconnect restores it. A topology mismatch is returned since
// no retry can fix it.
func (b *Bus) Connect(ctx context.Context) error {
	err := b.conn.Connect(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rabbitmq.ErrTopologyMismatch), errors.Is(err, rabbitmq.ErrConnectionClosed):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	}
	b.logger.Warn("broker unavailable, continuing in degraded mode", "error", err)
	return nil
}

// Start connects and attaches the consumer to the configured queue. The
// registry is frozen; register handlers first.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.mu.Unlock()

	if err := b.Connect(ctx); err != nil {
		return err
	}

	middleware := []messaging.Middleware{
		messaging.TracingMiddleware(b.tp, b.propagator),
		messaging.MetricsMiddleware(),
	}
	if b.redis != nil {
		middleware = append(middleware, messaging.IdempotencyMiddleware(
			messaging.NewRedisInbox(b.redis, messaging.WithInboxTTL(b.cfg.Redis.DedupeTTL)),
			b.logger,
		))
	}
	dispatcher := messaging.NewDispatcher(b.registry,
		messaging.WithDispatcherLogger(b.logger),
		messaging.WithMiddleware(middleware...),
	)

	bc := b.cfg.Broker
	consumer := rabbitmq.NewConsumer(
		rabbitmq.WithPrefetchCount(bc.Prefetch),
		rabbitmq.WithWorkers(bc.Workers),
		rabbitmq.WithHandlerTimeout(bc.HandlerTimeout),
		rabbitmq.WithConsumerLogger(b.logger),
	)

	subscriber := messaging.NewSubscriber(b.conn, consumer, bc.Queue, dispatcher.HandleDelivery,
		messaging.WithSubscriberLogger(b.logger),
		messaging.WithSubscribeRetry(bc.SubscribeAttempts, bc.SubscribeDelay),
	)
	b.mu.Lock()
	b.subscriber = subscriber
	b.mu.Unlock()
	b.health.Register(health.NewSubscriberChecker(bc.Queue, subscriber))

	if err := subscriber.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warn("consumer not attached, waiting for the broker", "queue", bc.Queue)
	}
	return nil
}

// Close stops consuming, drains in-flight publishes and closes the connection
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		subscriber := b.subscriber
		b.mu.Unlock()

		if subscriber != nil {
			subscriber.Stop()
		}

		if closeErr := b.conn.Close(); closeErr != nil {
			err = fmt.Errorf("close broker connection: %w", closeErr)
		}
		if b.ownsRedis {
			err = errors.Join(err, b.redis.Close())
		}
		b.logger.Info("domain event bus closed")
	})
	return err
}
