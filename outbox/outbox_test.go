package outbox

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/domainbus/contracts"
	"github.com/glimte/domainbus/messaging"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type recordingPublisher struct {
	mu       sync.Mutex
	types    []string
	ids      []string
	failAt   int
	failErr  error
	rejectID string
}

func (p *recordingPublisher) PublishRaw(_ context.Context, eventType, messageID string, body []byte, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectID != "" && messageID == p.rejectID {
		return errors.New("message rejected by broker")
	}
	if p.failErr != nil && len(p.types) == p.failAt {
		return p.failErr
	}
	if _, err := contracts.Deserialize(body); err != nil {
		return err
	}
	p.types = append(p.types, eventType)
	p.ids = append(p.ids, messageID)
	return nil
}

func trip(id int64) contracts.DomainEvent {
	return contracts.NewTripCreatedEvent(id, "Trip", contracts.MustUserID(1))
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("stores events only when the transaction commits", func(t *testing.T) {
		store := openTestStore(t)

		require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
			return store.Append(ctx, tx, trip(1), trip(2))
		}))

		failure := errors.New("business rule violated")
		err := store.WithTx(ctx, func(tx *sql.Tx) error {
			require.NoError(t, store.Append(ctx, tx, trip(3)))
			return failure
		})
		assert.ErrorIs(t, err, failure)

		n, err := store.PendingCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("fetches pending records oldest first", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
			return store.Append(ctx, tx,
				trip(1),
				contracts.NewUserRegisteredEvent(contracts.MustUserID(2), contracts.MustEmail("u@x.io"), "U"))
		}))

		records, err := store.FetchPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, contracts.TripCreated, records[0].EventType)
		assert.Equal(t, contracts.UserRegistered, records[1].EventType)
		assert.Less(t, records[0].Seq, records[1].Seq)
		assert.NotEqual(t, records[0].MessageID, records[1].MessageID)

		require.NoError(t, store.MarkPublished(ctx, records[0].Seq))
		records, err = store.FetchPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, contracts.UserRegistered, records[0].EventType)
	})

	t.Run("dead records are neither fetched nor counted as pending", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
			return store.Append(ctx, tx, trip(1), trip(2))
		}))
		records, err := store.FetchPending(ctx, 10)
		require.NoError(t, err)

		require.NoError(t, store.MarkDead(ctx, records[0].Seq, errors.New("poison")))

		records, err = store.FetchPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, int64(2), records[0].Seq)

		pending, err := store.PendingCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, pending)
	})

	t.Run("adds the dead_at column to an existing database", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "legacy.db")
		legacy, err := sql.Open("sqlite", "file:"+path)
		require.NoError(t, err)
		_, err = legacy.Exec(`CREATE TABLE outbox_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			payload BLOB NOT NULL,
			occurred_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			published_at TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT
		)`)
		require.NoError(t, err)
		require.NoError(t, legacy.Close())

		store, err := Open(path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })

		dead, err := store.DeadCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, dead)
	})
}

func TestRelay(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	seed := func(t *testing.T, store *Store, n int) {
		require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
			for i := 1; i <= n; i++ {
				if err := store.Append(ctx, tx, trip(int64(i))); err != nil {
					return err
				}
			}
			return nil
		}))
	}

	t.Run("publishes pending records and marks them", func(t *testing.T) {
		store := openTestStore(t)
		seed(t, store, 3)
		pub := &recordingPublisher{}

		n, err := NewRelay(store, pub, WithRelayLogger(logger)).RelayOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		pending, err := store.PendingCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, pending)
	})

	t.Run("keeps records while the broker is down", func(t *testing.T) {
		store := openTestStore(t)
		seed(t, store, 2)
		pub := &recordingPublisher{failErr: messaging.ErrNotConnected}

		n, err := NewRelay(store, pub, WithRelayLogger(logger)).RelayOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		records, err := store.FetchPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Zero(t, records[0].Attempts)
	})

	t.Run("stops at the first failure to keep order", func(t *testing.T) {
		store := openTestStore(t)
		seed(t, store, 3)
		pub := &recordingPublisher{failAt: 1, failErr: errors.New("channel blocked")}

		n, err := NewRelay(store, pub, WithRelayLogger(logger)).RelayOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		records, err := store.FetchPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, 1, records[0].Attempts)
		assert.Zero(t, records[1].Attempts)
	})

	t.Run("a record that keeps failing is marked dead and stops blocking later records", func(t *testing.T) {
		store := openTestStore(t)
		seed(t, store, 3)
		records, err := store.FetchPending(ctx, 10)
		require.NoError(t, err)
		pub := &recordingPublisher{rejectID: records[0].MessageID}
		relay := NewRelay(store, pub, WithRelayLogger(logger), WithMaxAttempts(3))

		for i := 0; i < 2; i++ {
			n, err := relay.RelayOnce(ctx)
			require.NoError(t, err)
			assert.Zero(t, n, "pass %d", i+1)
		}

		n, err := relay.RelayOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{records[1].MessageID, records[2].MessageID}, pub.ids)

		pending, err := store.PendingCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, pending)
		dead, err := store.DeadCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, dead)

		n, err = relay.RelayOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Len(t, pub.ids, 2)
	})

	t.Run("Run relays until cancelled", func(t *testing.T) {
		store := openTestStore(t)
		seed(t, store, 2)
		pub := &recordingPublisher{}

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- NewRelay(store, pub, WithRelayLogger(logger), WithPollInterval(10*time.Millisecond)).Run(runCtx)
		}()

		assert.Eventually(t, func() bool {
			n, err := store.PendingCount(ctx)
			return err == nil && n == 0
		}, time.Second, 10*time.Millisecond)

		cancel()
		require.NoError(t, <-done)
	})
}
