package messaging

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/domainbus/metrics"
)

// TracingMiddleware continues the producer's trace and wraps the handler in a consumer span.
func TracingMiddleware(tp trace.TracerProvider, propagator propagation.TextMapPropagator) Middleware {
	tracer := tp.Tracer(instrumentationName)
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, msg Message) error {
			ctx = extractTraceContext(ctx, propagator, msg.Headers)
			ctx, span := tracer.Start(ctx, msg.Envelope.EventType+" process",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.system", "rabbitmq"),
					attribute.String("messaging.message.id", msg.MessageID),
					attribute.Bool("messaging.rabbitmq.redelivered", msg.Redelivered),
				))
			defer span.End()

			err := next(ctx, msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

// MetricsMiddleware records handler latency per event type.
func MetricsMiddleware() Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, msg Message) error {
			start := time.Now()
			err := next(ctx, msg)
			metrics.ObserveHandler(msg.Envelope.EventType, time.Since(start))
			return err
		}
	}
}

// IdempotencyMiddleware skips messages whose id was already claimed in the
// inbox. A failed handler releases its claim so a replay from the
// dead-letter queue is processed again. Inbox errors fail open.
func IdempotencyMiddleware(inbox Inbox, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, msg Message) error {
			if msg.MessageID == "" {
				return next(ctx, msg)
			}

			claimed, err := inbox.Claim(ctx, msg.MessageID)
			if err != nil {
				logger.Warn("idempotency inbox unavailable, handling without dedupe",
					"messageId", msg.MessageID,
					"error", err)
				return next(ctx, msg)
			}
			if !claimed {
				logger.Info("duplicate message skipped",
					"eventType", msg.Envelope.EventType,
					"messageId", msg.MessageID)
				metrics.RecordConsume(msg.Envelope.EventType, metrics.OutcomeDuplicate)
				return nil
			}

			if err := next(ctx, msg); err != nil {
				if releaseErr := inbox.Release(context.WithoutCancel(ctx), msg.MessageID); releaseErr != nil {
					logger.Warn("failed to release inbox claim",
						"messageId", msg.MessageID,
						"error", releaseErr)
				}
				return err
			}
			return nil
		}
	}
}
