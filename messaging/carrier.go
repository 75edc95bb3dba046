package messaging

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/propagation"
)

// headerCarrier adapts AMQP headers to propagation.TextMapCarrier
type headerCarrier amqp.Table

var _ propagation.TextMapCarrier = headerCarrier(nil)

func (c headerCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// injectTraceHeaders writes the trace context of ctx into headers.
func injectTraceHeaders(ctx context.Context, propagator propagation.TextMapPropagator, headers amqp.Table) amqp.Table {
	if headers == nil {
		headers = amqp.Table{}
	}
	propagator.Inject(ctx, headerCarrier(headers))
	return headers
}

// extractTraceContext returns ctx enriched with the trace context carried in headers.
func extractTraceContext(ctx context.Context, propagator propagation.TextMapPropagator, headers amqp.Table) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return propagator.Extract(ctx, headerCarrier(headers))
}
