package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/domainbus/internal/rabbitmq"
)

type stateSource rabbitmq.ConnectionState

func (s stateSource) State() rabbitmq.ConnectionState { return rabbitmq.ConnectionState(s) }

type pendingCounter struct {
	n   int
	err error
}

func (p pendingCounter) PendingCount(context.Context) (int, error) { return p.n, p.err }

type activeFlag bool

func (a activeFlag) Active() bool { return bool(a) }

type slowChecker struct{}

func (slowChecker) Name() string { return "slow" }

func (slowChecker) Check(ctx context.Context) CheckResult {
	<-ctx.Done()
	time.Sleep(10 * time.Millisecond)
	return CheckResult{Status: StatusHealthy}
}

func TestBrokerChecker(t *testing.T) {
	tests := []struct {
		state rabbitmq.ConnectionState
		want  Status
	}{
		{rabbitmq.StateConnected, StatusHealthy},
		{rabbitmq.StateConnecting, StatusDegraded},
		{rabbitmq.StateDisconnected, StatusUnhealthy},
		{rabbitmq.StateClosed, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.state.String()+" maps to "+string(tt.want), func(t *testing.T) {
			res := NewBrokerChecker(stateSource(tt.state)).Check(context.Background())
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Run("overall status is the worst check", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register(NewBrokerChecker(stateSource(rabbitmq.StateConnected)))
		reg.Register(NewOutboxChecker(pendingCounter{n: 500}, 100))
		reg.Register(NewSubscriberChecker("email_queue", activeFlag(true)))

		report := reg.Check(context.Background())
		assert.Equal(t, StatusDegraded, report.Status)
		assert.Equal(t, 500, report.Checks["outbox"].Details["pending"])
		assert.Equal(t, []string{"consumer_email_queue", "outbox", "rabbitmq"}, reg.Names())
	})

	t.Run("unanswered checks are unhealthy", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register(slowChecker{})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		report := reg.Check(ctx)
		assert.Equal(t, StatusUnhealthy, report.Status)
		assert.Equal(t, "check timed out", report.Checks["slow"].Message)
	})

	t.Run("outbox store errors are unhealthy", func(t *testing.T) {
		res := NewOutboxChecker(pendingCounter{err: errors.New("disk I/O error")}, 10).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, res.Status)
	})

	t.Run("a detached consumer is degraded", func(t *testing.T) {
		res := NewSubscriberChecker("q", activeFlag(false)).Check(context.Background())
		assert.Equal(t, StatusDegraded, res.Status)
	})
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	checker := NewRedisChecker(client)

	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

	mr.Close()
	assert.Equal(t, StatusDegraded, checker.Check(context.Background()).Status)
}

func TestHandler(t *testing.T) {
	t.Run("degraded is still served with 200", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register(NewBrokerChecker(stateSource(rabbitmq.StateConnecting)))

		rec := httptest.NewRecorder()
		Handler(reg, time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"degraded"`)
	})
}
