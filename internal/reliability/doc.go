// Package reliability provides the retry and circuit breaker primitives used
// by the broker connection, the subscriber and the email adapters.
//
// Retry runs an operation under a RetryPolicy and always ends in an explicit
// terminal state: success, a *RetryError, or the context error. Attempts are
// numbered from 1 and MaxAttempts counts every attempt, so a FixedDelay of
// (5s, 5) makes exactly five attempts with four waits between them.
//
//	err := reliability.Retry(ctx, reliability.NewFixedDelay(5*time.Second, 5),
//	    func(attempt int) error {
//	        return dial()
//	    },
//	    reliability.WithOperation("connect"),
//	)
//	if errors.Is(err, reliability.ErrMaxRetriesExceeded) {
//	    // degraded mode
//	}
package reliability
