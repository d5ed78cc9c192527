package instanceid

import "testing"

func TestAllocateFreeRoundTrip(t *testing.T) {
	p := NewPool()
	id, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if !p.InUse(id) {
		t.Fatal("expected id in use after Allocate")
	}
	if err := p.Free(id); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if p.InUse(id) {
		t.Fatal("expected id free after Free")
	}
}

func TestFreeUnallocatedFails(t *testing.T) {
	p := NewPool()
	if err := p.Free(5); err == nil {
		t.Fatal("expected ErrNotAllocated")
	}
}

func TestAllocateDoesNotReuseWhileOutstanding(t *testing.T) {
	p := NewPool()
	a, _ := p.Allocate()
	b, _ := p.Allocate()
	if a == b {
		t.Fatal("expected distinct ids for back-to-back allocations")
	}
}

func TestAllocateExhaustion(t *testing.T) {
	p := NewPool()
	for i := 0; i <= MaxInstanceID; i++ {
		if _, err := p.Allocate(); err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
	}
	if _, err := p.Allocate(); err != ErrExhausted {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if p.Outstanding() != MaxInstanceID+1 {
		t.Fatalf("Outstanding() = %d, want %d", p.Outstanding(), MaxInstanceID+1)
	}
}
