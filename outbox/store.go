// Package outbox stores domain events in the same SQLite transaction as the
// business change that raised them and relays committed events to the broker.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/glimte/domainbus/contracts"
)

// Record is one stored event
type Record struct {
	Seq        int64
	MessageID  string
	EventType  string
	Payload    []byte
	OccurredAt time.Time
	Attempts   int
}

// Store provides SQLite persistence for outbox events.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and runs migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// DB exposes the handle so business tables can share the transaction
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outbox_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		occurred_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		published_at TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		dead_at TEXT
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Databases created before dead_at existed get the column added in place.
	hasDeadAt, err := s.hasColumn("outbox_events", "dead_at")
	if err != nil {
		return err
	}
	if !hasDeadAt {
		if _, err := s.db.Exec("ALTER TABLE outbox_events ADD COLUMN dead_at TEXT"); err != nil {
			return fmt.Errorf("add dead_at column: %w", err)
		}
	}

	_, err = s.db.Exec(`
	DROP INDEX IF EXISTS idx_outbox_events_pending;
	CREATE INDEX IF NOT EXISTS idx_outbox_events_relay ON outbox_events(published_at, dead_at, seq);
	`)
	return err
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// WithTx runs fn in a transaction, committing when it returns nil
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Append serializes events and inserts them within tx, so they are stored
// only if tx commits.
func (s *Store) Append(ctx context.Context, tx *sql.Tx, events ...contracts.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outbox_events (message_id, event_type, payload, occurred_at, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, event := range events {
		payload, err := contracts.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(),
			event.EventName(),
			payload,
			event.OccurredAt().UTC().Format(time.RFC3339Nano),
			now,
		); err != nil {
			return fmt.Errorf("insert %s: %w", event.EventName(), err)
		}
	}
	return nil
}

// FetchPending returns up to limit unpublished records that are not dead, oldest first
func (s *Store) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, message_id, event_type, payload, occurred_at, attempts
		FROM outbox_events
		WHERE published_at IS NULL AND dead_at IS NULL
		ORDER BY seq
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r          Record
			occurredAt string
		)
		if err := rows.Scan(&r.Seq, &r.MessageID, &r.EventType, &r.Payload, &occurredAt, &r.Attempts); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		r.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at of %d: %w", r.Seq, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// MarkPublished flags records as sent
func (s *Store) MarkPublished(ctx context.Context, seqs ...int64) error {
	if len(seqs) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seqs)), ",")
	args := make([]any, 0, len(seqs)+1)
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano))
	for _, seq := range seqs {
		args = append(args, seq)
	}

	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_events SET published_at = ? WHERE seq IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// MarkFailed counts a failed publish attempt
func (s *Store) MarkFailed(ctx context.Context, seq int64, cause error) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_events SET attempts = attempts + 1, last_error = ? WHERE seq = ?",
		cause.Error(), seq)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// MarkDead counts the final failed attempt and takes the record out of the
// relay. Dead records stay in the table for inspection and manual replay.
func (s *Store) MarkDead(ctx context.Context, seq int64, cause error) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_events SET attempts = attempts + 1, last_error = ?, dead_at = ? WHERE seq = ?",
		cause.Error(), time.Now().UTC().Format(time.RFC3339Nano), seq)
	if err != nil {
		return fmt.Errorf("mark dead: %w", err)
	}
	return nil
}

// PendingCount returns the number of records the relay still has to publish
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM outbox_events WHERE published_at IS NULL AND dead_at IS NULL").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// DeadCount returns the number of records given up after too many failures
func (s *Store) DeadCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM outbox_events WHERE dead_at IS NOT NULL").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dead: %w", err)
	}
	return n, nil
}
