// Package queue provides a WAL-mode SQLite-backed durable queue of PELs
// awaiting host delivery. It implements at-least-once delivery semantics:
// a PEL is persisted on Enqueue and is not removed until the caller calls
// Ack, so a process restart between Enqueue and Ack simply redelivers it on
// the next Dequeue — the host notifier's single-in-flight protocol
// (internal/notifier) already tolerates a PEL it has seen before, since
// HandleResponse correlates replies by instance id rather than content.
//
// Adapted from the TripWire agent's alert_queue (same WAL-mode,
// single-writer, delivered-flag schema), repointed at PEL bytes instead of
// alert events.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// PendingDelivery is a PEL queued for host delivery. ID is the database
// primary key used to acknowledge it via Ack.
type PendingDelivery struct {
	ID         int64
	OBMCLogID  uint32
	PELID      uint32
	Bytes      []byte
	EnqueuedAt time.Time
}

// Queue is a WAL-mode SQLite-backed durable delivery queue. Safe for
// concurrent use.
type Queue struct {
	db    *sql.DB
	depth atomic.Int64
}

const ddl = `
CREATE TABLE IF NOT EXISTS host_delivery_queue (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    obmc_log_id   INTEGER NOT NULL,
    pel_id        INTEGER NOT NULL,
    pel_bytes     BLOB    NOT NULL,
    enqueued_at   TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    delivered     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_host_delivery_queue_pending
    ON host_delivery_queue (delivered, id);
`

// New opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. path may be ":memory:" for tests, though an
// in-memory database loses all data when closed.
//
// New seeds the internal depth counter from the number of rows currently
// marked pending (delivered = 0), so Depth() is accurate immediately after
// a crash-recovery restart.
func New(path string) (*Queue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("queue: open %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: apply schema: %w", err)
	}

	q := &Queue{db: db}

	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM host_delivery_queue WHERE delivered = 0`).Scan(&count); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: count pending rows: %w", err)
	}
	q.depth.Store(count)

	return q, nil
}

// Enqueue persists a PEL for later host delivery. It is included in
// subsequent Dequeue results until Ack is called for its returned ID.
func (q *Queue) Enqueue(ctx context.Context, obmcLogID, pelID uint32, data []byte) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO host_delivery_queue (obmc_log_id, pel_id, pel_bytes) VALUES (?, ?, ?)`,
		obmcLogID, pelID, data,
	)
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	q.depth.Add(1)
	return nil
}

// Dequeue returns up to n undelivered PELs in insertion order (oldest
// first). It does not mark them as delivered; call Ack with the returned
// IDs to do that. If n <= 0, Dequeue returns nil without querying.
func (q *Queue) Dequeue(ctx context.Context, n int) ([]PendingDelivery, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT id, obmc_log_id, pel_id, pel_bytes, enqueued_at
		 FROM   host_delivery_queue
		 WHERE  delivered = 0
		 ORDER  BY id
		 LIMIT  ?`, n)
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue query: %w", err)
	}
	defer rows.Close()

	var out []PendingDelivery
	for rows.Next() {
		var pd PendingDelivery
		var enqueuedAt string
		if err := rows.Scan(&pd.ID, &pd.OBMCLogID, &pd.PELID, &pd.Bytes, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("queue: dequeue scan: %w", err)
		}
		pd.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, enqueuedAt)
		out = append(out, pd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: dequeue rows: %w", err)
	}
	return out, nil
}

// Ack marks the rows identified by ids as delivered; they are excluded from
// subsequent Dequeue results. Idempotent: re-acking an already-delivered id
// is a no-op.
func (q *Queue) Ack(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	result, err := q.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE host_delivery_queue SET delivered = 1 WHERE id IN (%s) AND delivered = 0`, placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	n, _ := result.RowsAffected()
	q.depth.Add(-n)
	return nil
}

// Depth returns the number of pending (undelivered) PELs.
func (q *Queue) Depth() int {
	return int(q.depth.Load())
}

// Close closes the underlying database connection.
func (q *Queue) Close() error {
	return q.db.Close()
}
