// Package metrics provides Prometheus metrics for domain event publishing and consumption.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Publish outcomes
const (
	OutcomePublished = "published"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Consume outcomes
const (
	OutcomeAcked     = "acked"
	OutcomeNacked    = "nacked"
	OutcomeUnknown   = "unknown"
	OutcomeMalformed = "malformed"
	OutcomeDuplicate = "duplicate"
)

// Labels never carry message ids; event types are a small closed set.
var (
	// EventsPublishedTotal counts publish calls by event type and outcome.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "domainbus_events_published_total",
		Help: "Total number of domain events handed to the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// EventsConsumedTotal counts settled deliveries by event type and outcome.
	EventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "domainbus_events_consumed_total",
		Help: "Total number of deliveries settled by the dispatcher, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// HandlerDuration observes handler latency by event type.
	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "domainbus_handler_duration_seconds",
		Help:    "Duration of event handler invocations, by event type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})

	// ConnectionUp is 1 while the broker connection is usable.
	ConnectionUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "domainbus_broker_connection_up",
		Help: "Whether the broker connection is established (1) or not (0).",
	})

	// ReconnectAttemptsTotal counts broker reconnect attempts.
	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "domainbus_broker_reconnect_attempts_total",
		Help: "Total number of broker reconnect attempts.",
	})

	// OutboxPending tracks events waiting in the outbox.
	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "domainbus_outbox_pending",
		Help: "Number of outbox events not yet published.",
	})

	// OutboxDeadTotal counts outbox records given up after too many failed publishes.
	OutboxDeadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "domainbus_outbox_dead_total",
		Help: "Total number of outbox events marked dead after exhausting their publish attempts, by event type.",
	}, []string{"event_type"})

	// EmailsSentTotal counts email sends by kind and result.
	EmailsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "domainbus_emails_sent_total",
		Help: "Total number of transactional emails attempted, by kind and result.",
	}, []string{"kind", "result"})
)

// RecordPublish increments the publish counter.
func RecordPublish(eventType, outcome string) {
	EventsPublishedTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordConsume increments the consume counter.
func RecordConsume(eventType, outcome string) {
	EventsConsumedTotal.WithLabelValues(eventType, outcome).Inc()
}

// ObserveHandler records how long a handler ran.
func ObserveHandler(eventType string, d time.Duration) {
	HandlerDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

// RecordEmail increments the email counter.
func RecordEmail(kind string, ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	EmailsSentTotal.WithLabelValues(kind, result).Inc()
}

// ConnectionListener mirrors broker connection state into ConnectionUp and
// ReconnectAttemptsTotal. It satisfies rabbitmq.ConnectionStateListener.
type ConnectionListener struct{}

func (ConnectionListener) OnConnected() { ConnectionUp.Set(1) }

func (ConnectionListener) OnDisconnected(error) { ConnectionUp.Set(0) }

func (ConnectionListener) OnReconnecting(int) { ReconnectAttemptsTotal.Inc() }
