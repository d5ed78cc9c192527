// Package fleetindex is a supplemental, strictly-additive fan-in mirror:
// it copies PEL attribute summaries from this BMC into a shared PostgreSQL
// table so a fleet-wide tool can query across many BMCs at once. It sits
// outside every spec-mandated operation — nothing in create/erase/prune
// blocks on it, and its unavailability never affects local PEL handling.
//
// Adapted from internal/server/storage/postgres.go's batched-insert +
// background-flush-ticker shape, repointed at a pel_attributes table
// instead of an alerts table.
package fleetindex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultBatchSize is the maximum number of buffered rows before an
	// automatic flush is triggered.
	DefaultBatchSize = 50

	// DefaultFlushInterval is how often the background goroutine flushes
	// pending rows even if the batch hasn't filled.
	DefaultFlushInterval = 2 * time.Second
)

// Entry is one PEL's fleet-index row.
type Entry struct {
	BMCID      string
	OBMCLogID  uint32
	PELID      uint32
	Creator    byte
	Severity   uint8
	SizeOnDisk int64
	CreatedAt  time.Time
}

// Mirror is the PostgreSQL fan-in mirror. The zero value is not usable;
// construct with New.
type Mirror struct {
	pool          *pgxpool.Pool
	bmcID         string
	mu            sync.Mutex
	batch         []Entry
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

const ddl = `
CREATE TABLE IF NOT EXISTS pel_attributes (
    bmc_id        TEXT    NOT NULL,
    obmc_log_id   BIGINT  NOT NULL,
    pel_id        BIGINT  NOT NULL,
    creator       SMALLINT NOT NULL,
    severity      SMALLINT NOT NULL,
    size_on_disk  BIGINT  NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (bmc_id, obmc_log_id)
)`

// New opens a pgxpool connection to connStr, ensures the pel_attributes
// table exists, and starts the background flush goroutine. bmcID
// identifies this BMC's rows in the shared table.
//
// batchSize <= 0 is replaced with DefaultBatchSize; flushInterval <= 0 is
// replaced with DefaultFlushInterval.
func New(ctx context.Context, connStr, bmcID string, batchSize int, flushInterval time.Duration) (*Mirror, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("fleetindex: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("fleetindex: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("fleetindex: create table: %w", err)
	}

	m := &Mirror{
		pool:          pool,
		bmcID:         bmcID,
		batch:         make([]Entry, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go m.flushLoop()
	return m, nil
}

// Close stops the flush goroutine, flushes any buffered rows, and closes
// the pool. Safe to call more than once.
func (m *Mirror) Close(ctx context.Context) {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
		<-m.doneCh
		_ = m.Flush(ctx)
	}
	m.pool.Close()
}

func (m *Mirror) flushLoop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			_ = m.Flush(context.Background())
		}
	}
}

// Record enqueues e for deferred batch insertion, stamping e.BMCID from
// the mirror's configured identity. Triggers a synchronous flush when the
// buffer reaches batchSize.
func (m *Mirror) Record(ctx context.Context, e Entry) error {
	e.BMCID = m.bmcID

	m.mu.Lock()
	m.batch = append(m.batch, e)
	full := len(m.batch) >= m.batchSize
	m.mu.Unlock()

	if full {
		return m.Flush(ctx)
	}
	return nil
}

// Flush drains the buffer and upserts every row in a single pgx.Batch
// round-trip. A row already present for (bmc_id, obmc_log_id) is replaced
// so re-reports (e.g. after a host-state update) stay current.
func (m *Mirror) Flush(ctx context.Context) error {
	m.mu.Lock()
	if len(m.batch) == 0 {
		m.mu.Unlock()
		return nil
	}
	toInsert := m.batch
	m.batch = make([]Entry, 0, m.batchSize)
	m.mu.Unlock()

	const query = `
		INSERT INTO pel_attributes
			(bmc_id, obmc_log_id, pel_id, creator, severity, size_on_disk, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (bmc_id, obmc_log_id) DO UPDATE SET
			pel_id       = EXCLUDED.pel_id,
			creator      = EXCLUDED.creator,
			severity     = EXCLUDED.severity,
			size_on_disk = EXCLUDED.size_on_disk,
			created_at   = EXCLUDED.created_at`

	b := &pgx.Batch{}
	for i := range toInsert {
		e := &toInsert[i]
		b.Queue(query, e.BMCID, e.OBMCLogID, e.PELID, e.Creator, e.Severity, e.SizeOnDisk, e.CreatedAt)
	}

	br := m.pool.SendBatch(ctx, b)
	defer br.Close()

	for range toInsert {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("fleetindex: batch exec: %w", err)
		}
	}
	return nil
}

// Forget removes obmcLogID's row for this BMC, mirroring a local erase.
func (m *Mirror) Forget(ctx context.Context, obmcLogID uint32) error {
	_, err := m.pool.Exec(ctx, `DELETE FROM pel_attributes WHERE bmc_id = $1 AND obmc_log_id = $2`, m.bmcID, obmcLogID)
	if err != nil {
		return fmt.Errorf("fleetindex: delete %d: %w", obmcLogID, err)
	}
	return nil
}

// CountForBMC returns how many rows are currently stored for bmcID,
// mainly useful for tests and operator tooling.
func (m *Mirror) CountForBMC(ctx context.Context, bmcID string) (int, error) {
	var n int
	err := m.pool.QueryRow(ctx, `SELECT count(*) FROM pel_attributes WHERE bmc_id = $1`, bmcID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("fleetindex: count: %w", err)
	}
	return n, nil
}
