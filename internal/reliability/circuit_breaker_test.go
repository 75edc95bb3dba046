package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestCircuitBreaker(t *testing.T) {
	boom := errors.New("smtp down")

	t.Run("starts closed and passes calls through", func(t *testing.T) {
		cb := NewCircuitBreaker()
		executed := false

		err := cb.Execute(context.Background(), func() error {
			executed = true
			return nil
		})

		assert.NoError(t, err)
		assert.True(t, executed)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("opens after the failure threshold and rejects calls", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(3), WithName("smtp"))
		for i := 0; i < 3; i++ {
			assert.ErrorIs(t, cb.Execute(context.Background(), func() error { return boom }), boom)
		}
		assert.Equal(t, StateOpen, cb.State())

		called := false
		err := cb.Execute(context.Background(), func() error {
			called = true
			return nil
		})
		assert.False(t, called)
		assert.ErrorIs(t, err, ErrCircuitOpen)

		var cbErr *CircuitBreakerError
		require.ErrorAs(t, err, &cbErr)
		assert.Equal(t, "smtp", cbErr.Op)
	})

	t.Run("a success resets the consecutive failure count", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(2))
		_ = cb.Execute(context.Background(), func() error { return boom })
		_ = cb.Execute(context.Background(), func() error { return nil })
		_ = cb.Execute(context.Background(), func() error { return boom })
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("half-opens after the timeout and closes after successes", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		var transitions []string
		cb := NewCircuitBreaker(
			WithFailureThreshold(1),
			WithSuccessThreshold(2),
			WithTimeout(time.Minute),
			withClock(clock.Now),
			WithStateChange(func(name string, from, to State) {
				transitions = append(transitions, from.String()+"->"+to.String())
			}),
		)

		_ = cb.Execute(context.Background(), func() error { return boom })
		assert.Equal(t, StateOpen, cb.State())

		clock.now = clock.now.Add(2 * time.Minute)
		assert.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
		assert.Equal(t, StateHalfOpen, cb.State())
		assert.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
		assert.Equal(t, StateClosed, cb.State())

		assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
	})

	t.Run("a failed probe reopens the circuit", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		cb := NewCircuitBreaker(WithFailureThreshold(1), WithTimeout(time.Second), withClock(clock.Now))

		_ = cb.Execute(context.Background(), func() error { return boom })
		clock.now = clock.now.Add(2 * time.Second)
		_ = cb.Execute(context.Background(), func() error { return boom })
		assert.Equal(t, StateOpen, cb.State())
	})

	t.Run("does not run the function for a cancelled context", func(t *testing.T) {
		cb := NewCircuitBreaker()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		err := cb.Execute(ctx, func() error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})

	t.Run("reset closes an open circuit", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(1))
		_ = cb.Execute(context.Background(), func() error { return boom })
		cb.Reset()
		assert.Equal(t, StateClosed, cb.State())
	})
}
