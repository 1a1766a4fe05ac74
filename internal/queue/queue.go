// Package queue is a SQLite-backed notification outbox. Producers enqueue inside the
// request path; a single worker dequeues in FIFO order and records the terminal
// outcome.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const maxErrorBytes = 4 * 1024

// Bootstrap creates the outbox table if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS notification_outbox (
  id           TEXT PRIMARY KEY,
  kind         TEXT NOT NULL,
  payload      JSON NOT NULL,
  status       TEXT NOT NULL,
  created_at   TEXT NOT NULL,
  started_at   TEXT,
  completed_at TEXT,
  last_error   TEXT
);`,
		`CREATE INDEX IF NOT EXISTS notification_outbox_status_created_at_idx ON notification_outbox(status, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap outbox: %w", err)
		}
	}
	return nil
}

type Queue struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

// Enqueue appends an entry and returns its id.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload []byte) (string, error) {
	if kind == "" {
		return "", fmt.Errorf("kind is empty")
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	id := uuid.NewString()
	_, err := q.db.ExecContext(ctx, `
INSERT INTO notification_outbox(id, kind, payload, status, created_at)
VALUES(?, ?, ?, ?, ?);
`, id, kind, string(payload), StatusQueued, q.timestamp())
	if err != nil {
		return "", fmt.Errorf("enqueue notification: %w", err)
	}
	return id, nil
}

// Dequeue claims the oldest queued entry and marks it delivering. Returns (nil, nil)
// if the outbox is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Entry, error) {
	now := q.timestamp()
	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM notification_outbox
  WHERE status = ?
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE notification_outbox
SET status = ?, started_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING id, kind, payload, status, created_at, started_at, completed_at, last_error;
`, StatusQueued, StatusDelivering, now)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue notification: %w", err)
	}
	return e, nil
}

// Complete marks an entry delivered or failed. Both are terminal.
func (q *Queue) Complete(ctx context.Context, id string, status Status, lastError *string) error {
	if id == "" {
		return fmt.Errorf("id is empty")
	}
	if status != StatusDelivered && status != StatusFailed {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	var errVal any
	if lastError != nil {
		s := *lastError
		if len(s) > maxErrorBytes {
			s = s[:maxErrorBytes]
		}
		errVal = s
	}

	res, err := q.db.ExecContext(ctx, `
UPDATE notification_outbox
SET status = ?, completed_at = ?, last_error = ?
WHERE id = ?;
`, status, q.timestamp(), errVal, id)
	if err != nil {
		return fmt.Errorf("complete notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete notification: %w", err)
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Get loads one entry.
func (q *Queue) Get(ctx context.Context, id string) (*Entry, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT id, kind, payload, status, created_at, started_at, completed_at, last_error
FROM notification_outbox
WHERE id = ?;
`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return e, nil
}

// RequeueInFlight returns entries left delivering by a previous process to the queue.
func (q *Queue) RequeueInFlight(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE notification_outbox
SET status = ?, started_at = NULL
WHERE status = ?;
`, StatusQueued, StatusDelivering)
	if err != nil {
		return 0, fmt.Errorf("requeue in-flight notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue in-flight notifications: %w", err)
	}
	return int(n), nil
}

// Prune deletes terminal entries completed before now-retention.
func (q *Queue) Prune(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := q.now().Add(-retention).UTC().Format(time.RFC3339Nano)
	res, err := q.db.ExecContext(ctx, `
DELETE FROM notification_outbox
WHERE status IN (?, ?) AND completed_at < ?;
`, StatusDelivered, StatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune notifications: %w", err)
	}
	return int(n), nil
}

// Depth counts entries per status.
func (q *Queue) Depth(ctx context.Context) (map[Status]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM notification_outbox GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("outbox depth: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var (
			s string
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("outbox depth: %w", err)
		}
		out[Status(s)] = n
	}
	return out, rows.Err()
}

func (q *Queue) timestamp() string {
	return q.now().UTC().Format(time.RFC3339Nano)
}

func scanEntry(row *sql.Row) (*Entry, error) {
	var (
		e            Entry
		payload      string
		statusS      string
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		lastError    sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Kind, &payload, &statusS, &createdAtS, &startedAtS, &completedAtS, &lastError); err != nil {
		return nil, err
	}

	e.Payload = []byte(payload)
	e.Status = Status(statusS)
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		e.CreatedAt = t
	}
	if startedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAtS.String); err == nil {
			e.StartedAt = &t
		}
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			e.CompletedAt = &t
		}
	}
	if lastError.Valid {
		e.LastError = &lastError.String
	}
	return &e, nil
}
