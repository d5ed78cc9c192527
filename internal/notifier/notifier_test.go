package notifier

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     []uint8
	sendErr  error
	onSend   func(instanceID uint8)
}

func (f *fakeTransport) SendPEL(_ context.Context, instanceID uint8, _ []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, instanceID)
	onSend := f.onSend
	err := f.sendErr
	f.mu.Unlock()
	if onSend != nil {
		onSend(instanceID)
	}
	return err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyAcceptedReachesDone(t *testing.T) {
	ft := &fakeTransport{}
	n := New(ft, testLogger())
	ft.onSend = func(id uint8) {
		go n.HandleResponse(id, true, RejectNone)
	}

	if err := n.Notify(context.Background(), []byte("pel")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n.State() != StateDone {
		t.Fatalf("State() = %v, want Done", n.State())
	}
}

func TestNotifyRejectedBadPEL(t *testing.T) {
	ft := &fakeTransport{}
	n := New(ft, testLogger())
	ft.onSend = func(id uint8) {
		go n.HandleResponse(id, false, RejectBadPEL)
	}

	err := n.Notify(context.Background(), []byte("pel"))
	if err != ErrRejectedBadPEL {
		t.Fatalf("err = %v, want ErrRejectedBadPEL", err)
	}
	if n.State() != StateFailed {
		t.Fatalf("State() = %v, want Failed", n.State())
	}
}

func TestNotifyBusyWhileOutstanding(t *testing.T) {
	ft := &fakeTransport{}
	n := New(ft, testLogger())
	n.timeout = time.Hour // never fires during this test

	started := make(chan struct{})
	ft.onSend = func(uint8) { close(started) }

	go n.Notify(context.Background(), []byte("first")) //nolint:errcheck
	<-started

	if err := n.Notify(context.Background(), []byte("second")); err != ErrBusy {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}

func TestNotifyTimesOutAndFreesInstanceID(t *testing.T) {
	ft := &fakeTransport{}
	n := New(ft, testLogger())
	n.timeout = 10 * time.Millisecond

	err := n.Notify(context.Background(), []byte("pel"))
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if n.State() != StateFailed {
		t.Fatalf("State() = %v, want Failed", n.State())
	}
	if n.pool.Outstanding() != 0 {
		t.Fatalf("Outstanding() = %d, want 0 after timeout", n.pool.Outstanding())
	}
}

func TestHandleResponseIgnoresStaleInstanceID(t *testing.T) {
	ft := &fakeTransport{}
	n := New(ft, testLogger())
	ft.onSend = func(id uint8) {
		go n.HandleResponse(id+1, true, RejectNone) // wrong id, should be ignored
	}
	n.timeout = 20 * time.Millisecond

	err := n.Notify(context.Background(), []byte("pel"))
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout (stale response must be ignored)", err)
	}
}

func TestSequentialNotifiesReuseInstanceIDs(t *testing.T) {
	ft := &fakeTransport{}
	n := New(ft, testLogger())
	ft.onSend = func(id uint8) {
		go n.HandleResponse(id, true, RejectNone)
	}

	for i := 0; i < 3; i++ {
		if err := n.Notify(context.Background(), []byte("pel")); err != nil {
			t.Fatalf("Notify #%d: %v", i, err)
		}
	}
	if n.pool.Outstanding() != 0 {
		t.Fatalf("Outstanding() = %d, want 0 after sequential notifies", n.pool.Outstanding())
	}
}
