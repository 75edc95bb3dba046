package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/glimte/domainbus/internal/rabbitmq"
)

// StateSource reports the broker connection state
type StateSource interface {
	State() rabbitmq.ConnectionState
}

// BrokerChecker maps the connection state to a status
type BrokerChecker struct {
	source StateSource
}

// NewBrokerChecker reports the connection state of source
func NewBrokerChecker(source StateSource) *BrokerChecker {
	return &BrokerChecker{source: source}
}

func (c *BrokerChecker) Name() string {
	return "rabbitmq"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	state := c.source.State()
	result := CheckResult{Details: map[string]any{"state": state.String()}}

	switch state {
	case rabbitmq.StateConnected:
		result.Status = StatusHealthy
	case rabbitmq.StateConnecting:
		result.Status = StatusDegraded
		result.Message = "connecting to broker"
	default:
		result.Status = StatusUnhealthy
		result.Message = "broker unavailable, publishing is degraded"
	}
	return result
}

// ConsumerStatus reports whether a consumer is attached
type ConsumerStatus interface {
	Active() bool
}

// SubscriberChecker is degraded while no consumer is attached to the queue
type SubscriberChecker struct {
	queue      string
	subscriber ConsumerStatus
}

// NewSubscriberChecker reports whether the consumer on queue is attached
func NewSubscriberChecker(queue string, subscriber ConsumerStatus) *SubscriberChecker {
	return &SubscriberChecker{queue: queue, subscriber: subscriber}
}

func (c *SubscriberChecker) Name() string {
	return "consumer_" + c.queue
}

func (c *SubscriberChecker) Check(ctx context.Context) CheckResult {
	if c.subscriber.Active() {
		return CheckResult{Status: StatusHealthy}
	}
	return CheckResult{
		Status:  StatusDegraded,
		Message: fmt.Sprintf("no consumer attached to %s", c.queue),
	}
}

// RedisChecker pings the idempotency store
type RedisChecker struct {
	client redis.UniversalClient
}

// NewRedisChecker pings client
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string {
	return "redis"
}

// Check reports degraded rather than unhealthy on failure, since message
// handling continues without deduplication.
func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "redis unreachable, duplicate detection disabled",
			Error:   err.Error(),
		}
	}
	return CheckResult{Status: StatusHealthy}
}

// PendingCounter reports unpublished outbox records
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// OutboxChecker is degraded when the backlog passes threshold
type OutboxChecker struct {
	store     PendingCounter
	threshold int
}

// NewOutboxChecker reports degraded once more than threshold events are pending
func NewOutboxChecker(store PendingCounter, threshold int) *OutboxChecker {
	return &OutboxChecker{store: store, threshold: threshold}
}

func (c *OutboxChecker) Name() string {
	return "outbox"
}

func (c *OutboxChecker) Check(ctx context.Context) CheckResult {
	pending, err := c.store.PendingCount(ctx)
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "outbox store unavailable",
			Error:   err.Error(),
		}
	}

	result := CheckResult{
		Status:  StatusHealthy,
		Details: map[string]any{"pending": pending},
	}
	if pending > c.threshold {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("outbox backlog of %d events", pending)
	}
	return result
}
