package reliability

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides whether a failed attempt is followed by another one.
// Attempts are numbered from 1.
type RetryPolicy interface {
	// ShouldRetry reports whether another attempt follows the given failed one
	ShouldRetry(attempt int, err error) (bool, time.Duration)
	// MaxAttempts returns the total number of attempts, including the first
	MaxAttempts() int
}

// FixedDelay waits the same amount of time between attempts
type FixedDelay struct {
	Delay    time.Duration
	Attempts int
}

// NewFixedDelay creates a fixed delay policy allowing attempts total attempts
func NewFixedDelay(delay time.Duration, attempts int) *FixedDelay {
	return &FixedDelay{
		Delay:    delay,
		Attempts: attempts,
	}
}

// ShouldRetry implements RetryPolicy
func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= f.Attempts || !isRetryableError(err) {
		return false, 0
	}
	return true, f.Delay
}

// MaxAttempts implements RetryPolicy
func (f *FixedDelay) MaxAttempts() int {
	return f.Attempts
}

// ExponentialBackoff grows the delay geometrically up to MaxInterval
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Attempts        int
	Jitter          bool
}

// NewExponentialBackoff creates a new exponential backoff policy
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, attempts int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		Attempts:        attempts,
		Jitter:          true,
	}
}

// ShouldRetry implements RetryPolicy
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= e.Attempts || !isRetryableError(err) {
		return false, 0
	}
	return true, e.NextDelay(attempt)
}

// MaxAttempts implements RetryPolicy
func (e *ExponentialBackoff) MaxAttempts() int {
	return e.Attempts
}

// NextDelay returns the wait after the given failed attempt
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt-1))
	if delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	// ±15% jitter
	if e.Jitter {
		delay = delay + rand.Float64()*0.3*delay - 0.15*delay
	}

	return time.Duration(delay)
}

// RetryOption configures a single Retry call
type RetryOption func(*retryConfig)

type retryConfig struct {
	op      string
	onRetry func(attempt int, err error, delay time.Duration)
}

// WithOperation names the operation in the returned RetryError
func WithOperation(op string) RetryOption {
	return func(c *retryConfig) {
		c.op = op
	}
}

// WithOnRetry registers a hook invoked after each failed attempt that will be retried
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) RetryOption {
	return func(c *retryConfig) {
		c.onRetry = fn
	}
}

// Retry runs fn until it succeeds, the policy gives up, or ctx is done.
// fn receives the 1-based attempt number. When the policy gives up the
// result is a *RetryError; it matches ErrMaxRetriesExceeded only when every
// allowed attempt was used.
func Retry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error, opts ...RetryOption) error {
	cfg := retryConfig{op: "retry"}
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}

		retry, delay := policy.ShouldRetry(attempt, err)
		if !retry {
			return &RetryError{
				Op:          cfg.op,
				Attempts:    attempt,
				MaxAttempts: policy.MaxAttempts(),
				LastError:   err,
				Duration:    time.Since(start),
				Exhausted:   attempt >= policy.MaxAttempts(),
			}
		}

		if cfg.onRetry != nil {
			cfg.onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// isRetryableError consults the IsRetryable method when the error chain carries one
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNonRetryable) {
		return false
	}

	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	return true
}

// RetryableError wraps an error to mark whether it may be retried
type RetryableError struct {
	Err       error
	Retryable bool
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return RetryableError{Err: err, Retryable: false}
}

// Error implements error interface
func (r RetryableError) Error() string {
	return r.Err.Error()
}

// IsRetryable indicates if the error is retryable
func (r RetryableError) IsRetryable() bool {
	return r.Retryable
}

// Unwrap returns the wrapped error
func (r RetryableError) Unwrap() error {
	return r.Err
}
