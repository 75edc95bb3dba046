package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/glimte/domainbus/messaging"
	"github.com/glimte/domainbus/metrics"
)

// RawPublisher sends serialized envelopes
type RawPublisher interface {
	PublishRaw(ctx context.Context, eventType, messageID string, body []byte, occurredAt time.Time) error
}

// Relay moves committed outbox records to the broker
type Relay struct {
	store       *Store
	publisher   RawPublisher
	interval    time.Duration
	batchSize   int
	maxAttempts int
	logger      *slog.Logger
}

// RelayOption configures the Relay
type RelayOption func(*Relay)

// WithRelayLogger sets the logger
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithPollInterval sets the pause between relay passes
func WithPollInterval(interval time.Duration) RelayOption {
	return func(r *Relay) {
		r.interval = interval
	}
}

// WithBatchSize sets how many records one pass fetches
func WithBatchSize(size int) RelayOption {
	return func(r *Relay) {
		r.batchSize = size
	}
}

// WithMaxAttempts sets how many failed publishes a record gets before it is
// marked dead and skipped
func WithMaxAttempts(attempts int) RelayOption {
	return func(r *Relay) {
		r.maxAttempts = attempts
	}
}

// NewRelay creates a relay that polls every 2s in batches of 50 and gives a
// record 10 attempts
func NewRelay(store *Store, publisher RawPublisher, options ...RelayOption) *Relay {
	r := &Relay{
		store:       store,
		publisher:   publisher,
		interval:    2 * time.Second,
		batchSize:   50,
		maxAttempts: 10,
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	if r.maxAttempts < 1 {
		r.maxAttempts = 1
	}
	return r
}

// Run relays on every tick until ctx is done
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started", "interval", r.interval, "batchSize", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("outbox relay pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch in order and returns how many were
// published. A failing record stops the pass so later records are not sent
// ahead of it, until it reaches the attempt limit: then it is marked dead and
// the pass moves on to the next record.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	records, err := r.store.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, rec := range records {
		err := r.publisher.PublishRaw(ctx, rec.EventType, rec.MessageID, rec.Payload, rec.OccurredAt)
		if errors.Is(err, messaging.ErrNotConnected) {
			r.logger.Debug("broker not connected, outbox records stay pending", "pending", len(records)-published)
			break
		}
		if err != nil {
			attempts := rec.Attempts + 1
			if attempts >= r.maxAttempts {
				r.logger.Error("outbox record failed too often, marking dead",
					"seq", rec.Seq,
					"eventType", rec.EventType,
					"messageId", rec.MessageID,
					"attempts", attempts,
					"error", err)
				if markErr := r.store.MarkDead(ctx, rec.Seq, err); markErr != nil {
					return published, markErr
				}
				metrics.OutboxDeadTotal.WithLabelValues(rec.EventType).Inc()
				continue
			}

			r.logger.Warn("failed to relay outbox record",
				"seq", rec.Seq,
				"eventType", rec.EventType,
				"messageId", rec.MessageID,
				"attempts", attempts,
				"maxAttempts", r.maxAttempts,
				"error", err)
			if markErr := r.store.MarkFailed(ctx, rec.Seq, err); markErr != nil {
				return published, markErr
			}
			break
		}

		if err := r.store.MarkPublished(ctx, rec.Seq); err != nil {
			return published, err
		}
		published++
	}

	if pending, err := r.store.PendingCount(ctx); err == nil {
		metrics.OutboxPending.Set(float64(pending))
	}
	if published > 0 {
		r.logger.Debug("outbox records relayed", "count", published)
	}
	return published, nil
}
