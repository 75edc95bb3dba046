package messaging

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Inbox remembers which message ids were already handled
type Inbox interface {
	// Claim returns true when messageID was not seen before
	Claim(ctx context.Context, messageID string) (bool, error)
	// Release forgets messageID
	Release(ctx context.Context, messageID string) error
}

// RedisInbox stores claims as expiring Redis keys
type RedisInbox struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// InboxOption configures the RedisInbox
type InboxOption func(*RedisInbox)

// WithInboxTTL sets how long a claim is remembered
func WithInboxTTL(ttl time.Duration) InboxOption {
	return func(i *RedisInbox) {
		i.ttl = ttl
	}
}

// WithInboxPrefix sets the key prefix
func WithInboxPrefix(prefix string) InboxOption {
	return func(i *RedisInbox) {
		i.prefix = prefix
	}
}

// NewRedisInbox creates an inbox on client
func NewRedisInbox(client redis.UniversalClient, options ...InboxOption) *RedisInbox {
	i := &RedisInbox{
		client: client,
		prefix: "domainbus:inbox:",
		ttl:    24 * time.Hour,
	}
	for _, opt := range options {
		opt(i)
	}
	return i
}

// Claim implements Inbox with SET NX
func (i *RedisInbox) Claim(ctx context.Context, messageID string) (bool, error) {
	return i.client.SetNX(ctx, i.prefix+messageID, time.Now().UTC().Format(time.RFC3339), i.ttl).Result()
}

// Release implements Inbox
func (i *RedisInbox) Release(ctx context.Context, messageID string) error {
	return i.client.Del(ctx, i.prefix+messageID).Err()
}
