package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedDelay(t *testing.T) {
	t.Run("allows retries until the last attempt", func(t *testing.T) {
		policy := NewFixedDelay(5*time.Second, 5)

		for attempt := 1; attempt < 5; attempt++ {
			retry, delay := policy.ShouldRetry(attempt, errors.New("dial"))
			assert.True(t, retry)
			assert.Equal(t, 5*time.Second, delay)
		}

		retry, _ := policy.ShouldRetry(5, errors.New("dial"))
		assert.False(t, retry)
		assert.Equal(t, 5, policy.MaxAttempts())
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		policy := NewFixedDelay(time.Millisecond, 5)
		retry, _ := policy.ShouldRetry(1, Permanent(errors.New("bad config")))
		assert.False(t, retry)
	})
}

func TestExponentialBackoff(t *testing.T) {
	t.Run("grows and caps the delay", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 10)
		eb.Jitter = false

		assert.Equal(t, 100*time.Millisecond, eb.NextDelay(1))
		assert.Equal(t, 200*time.Millisecond, eb.NextDelay(2))
		assert.Equal(t, 400*time.Millisecond, eb.NextDelay(3))
		assert.Equal(t, time.Second, eb.NextDelay(8))
	})

	t.Run("keeps jitter within fifteen percent", func(t *testing.T) {
		eb := NewExponentialBackoff(time.Second, 10*time.Second, 2.0, 5)
		for i := 0; i < 20; i++ {
			delay := eb.NextDelay(1)
			assert.GreaterOrEqual(t, delay, 850*time.Millisecond)
			assert.LessOrEqual(t, delay, 1150*time.Millisecond)
		}
	})
}

func TestRetry(t *testing.T) {
	t.Run("returns nil on first success", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 3), func(attempt int) error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var attempts []int
		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 5), func(attempt int) error {
			attempts = append(attempts, attempt)
			if attempt < 3 {
				return errors.New("transient")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, attempts)
	})

	t.Run("makes exactly max attempts then reports exhaustion", func(t *testing.T) {
		calls := 0
		var retried []int
		lastErr := errors.New("refused")

		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 5),
			func(attempt int) error {
				calls++
				return lastErr
			},
			WithOperation("connect"),
			WithOnRetry(func(attempt int, err error, delay time.Duration) {
				retried = append(retried, attempt)
			}),
		)

		assert.Equal(t, 5, calls)
		assert.Equal(t, []int{1, 2, 3, 4}, retried)
		assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
		assert.ErrorIs(t, err, lastErr)

		var retryErr *RetryError
		require.ErrorAs(t, err, &retryErr)
		assert.Equal(t, "connect", retryErr.Op)
		assert.Equal(t, 5, retryErr.Attempts)
		assert.Equal(t, 5, retryErr.MaxAttempts)
	})

	t.Run("stops early on permanent errors without reporting exhaustion", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 5), func(attempt int) error {
			calls++
			return Permanent(errors.New("mismatch"))
		})
		assert.Equal(t, 1, calls)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrMaxRetriesExceeded)
	})

	t.Run("honours context cancellation while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		err := Retry(ctx, NewFixedDelay(time.Hour, 5), func(attempt int) error {
			calls++
			return errors.New("down")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
