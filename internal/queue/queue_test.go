package queue_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/openbmc/pel-logd/internal/queue"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "delivery.db")
	q, err := queue.New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestEnqueueDequeueOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for i := uint32(1); i <= 3; i++ {
		if err := q.Enqueue(ctx, i, i*10, []byte{byte(i)}); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}

	if got := q.Depth(); got != 3 {
		t.Fatalf("Depth() = %d, want 3", got)
	}

	pending, err := q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("len(pending) = %d, want 3", len(pending))
	}
	for i, pd := range pending {
		wantOBMC := uint32(i + 1)
		if pd.OBMCLogID != wantOBMC {
			t.Errorf("pending[%d].OBMCLogID = %d, want %d", i, pd.OBMCLogID, wantOBMC)
		}
		if pd.PELID != wantOBMC*10 {
			t.Errorf("pending[%d].PELID = %d, want %d", i, pd.PELID, wantOBMC*10)
		}
	}
}

func TestDequeueRespectsLimit(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for i := uint32(1); i <= 5; i++ {
		if err := q.Enqueue(ctx, i, i, []byte("x")); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}

	pending, err := q.Dequeue(ctx, 2)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("len(pending) = %d, want 2", len(pending))
	}
}

func TestAckRemovesFromPending(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, 1, 100, []byte("pel-bytes")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	pending, err := q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("len(pending) = %d, want 1", len(pending))
	}

	if err := q.Ack(ctx, []int64{pending[0].ID}); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if got := q.Depth(); got != 0 {
		t.Errorf("Depth() after Ack = %d, want 0", got)
	}

	remaining, err := q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue after Ack: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("len(remaining) = %d, want 0", len(remaining))
	}
}

func TestAckIsIdempotent(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, 1, 1, []byte("x")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	pending, _ := q.Dequeue(ctx, 10)

	if err := q.Ack(ctx, []int64{pending[0].ID}); err != nil {
		t.Fatalf("first Ack: %v", err)
	}
	if err := q.Ack(ctx, []int64{pending[0].ID}); err != nil {
		t.Fatalf("second Ack: %v", err)
	}
	if got := q.Depth(); got != 0 {
		t.Errorf("Depth() after double Ack = %d, want 0", got)
	}
}

func TestNewSeedsDepthFromExistingRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delivery.db")
	ctx := context.Background()

	q1, err := queue.New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := q1.Enqueue(ctx, 1, 1, []byte("x")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q1.Enqueue(ctx, 2, 2, []byte("y")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	q2, err := queue.New(path)
	if err != nil {
		t.Fatalf("reopen New: %v", err)
	}
	defer q2.Close()

	if got := q2.Depth(); got != 2 {
		t.Errorf("Depth() after reopen = %d, want 2", got)
	}
}
