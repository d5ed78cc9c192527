//go:build integration

// Run with:
//
//	go test -tags integration -v ./internal/fleetindex/...
//
// Requires Docker (for testcontainers-go) and a reachable Docker socket.
package fleetindex_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/openbmc/pel-logd/internal/fleetindex"
)

func setupMirror(t *testing.T) (*fleetindex.Mirror, func()) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("pel_fleet_test"),
		tcpostgres.WithUsername("pel"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("get connection string: %v", err)
	}

	m, err := fleetindex.New(ctx, connStr, "bmc0", 5, 50*time.Millisecond)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("fleetindex.New: %v", err)
	}

	cleanup := func() {
		m.Close(ctx)
		_ = pgContainer.Terminate(ctx)
	}
	return m, cleanup
}

func TestRecordFlushesAndIsQueryable(t *testing.T) {
	ctx := context.Background()
	m, cleanup := setupMirror(t)
	defer cleanup()

	for i := uint32(1); i <= 3; i++ {
		if err := m.Record(ctx, fleetindex.Entry{
			OBMCLogID:  i,
			PELID:      0x50000000 + i,
			Creator:    'O',
			Severity:   0x40,
			SizeOnDisk: 256,
			CreatedAt:  time.Now(),
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	n, err := m.CountForBMC(ctx, "bmc0")
	if err != nil {
		t.Fatalf("CountForBMC: %v", err)
	}
	if n != 3 {
		t.Fatalf("CountForBMC = %d, want 3", n)
	}
}

func TestForgetRemovesRow(t *testing.T) {
	ctx := context.Background()
	m, cleanup := setupMirror(t)
	defer cleanup()

	if err := m.Record(ctx, fleetindex.Entry{OBMCLogID: 1, PELID: 1, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := m.Forget(ctx, 1); err != nil {
		t.Fatalf("Forget: %v", err)
	}

	n, err := m.CountForBMC(ctx, "bmc0")
	if err != nil {
		t.Fatalf("CountForBMC: %v", err)
	}
	if n != 0 {
		t.Fatalf("CountForBMC = %d, want 0 after Forget", n)
	}
}
