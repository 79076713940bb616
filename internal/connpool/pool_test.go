// File: internal/connpool/pool_test.go
package connpool

import "testing"

func TestPollAllocatesThenReusesSlot(t *testing.T) {
	p := NewPool(-1, func() bool { return true })

	c1 := p.Poll()
	if c1.Slot != 0 {
		t.Fatalf("expected first connection at slot 0, got %d", c1.Slot)
	}
	if p.ArenaSize() != 1 {
		t.Fatalf("expected arena size 1, got %d", p.ArenaSize())
	}

	if !p.Offer(c1) {
		t.Fatal("expected Offer to succeed while running")
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 free connection after Offer, got %d", p.Len())
	}

	c2 := p.Poll()
	if c2 != c1 {
		t.Fatal("expected Poll to reuse the freed slot rather than allocate a new one")
	}
	if p.ArenaSize() != 1 {
		t.Fatalf("expected arena size to stay 1 after reuse, got %d", p.ArenaSize())
	}
	if p.Len() != 0 {
		t.Fatalf("expected 0 free connections after reuse, got %d", p.Len())
	}
}

func TestOfferRefusesWhenNotRunning(t *testing.T) {
	running := false
	p := NewPool(-1, func() bool { return running })
	c := p.Poll()

	if p.Offer(c) {
		t.Fatal("expected Offer to refuse while not running")
	}

	running = true
	if !p.Offer(c) {
		t.Fatal("expected Offer to succeed once running")
	}
}

func TestOfferRefusesAtCapacity(t *testing.T) {
	p := NewPool(1, func() bool { return true })
	a := p.Poll()
	b := p.Poll()

	if !p.Offer(a) {
		t.Fatal("expected first Offer to succeed under cap")
	}
	if p.Offer(b) {
		t.Fatal("expected second Offer to be refused once at capacity")
	}
}

func TestClearDropsCachedWrappersAndReusesSlots(t *testing.T) {
	p := NewPool(-1, func() bool { return true })
	c := p.Poll()
	slot := c.Slot
	if !p.Offer(c) {
		t.Fatal("expected Offer to succeed")
	}

	p.Clear()

	if p.Len() != 0 {
		t.Fatalf("expected empty free-list after Clear, got %d", p.Len())
	}
	if p.At(slot) != nil {
		t.Fatal("expected cleared slot emptied in the arena")
	}

	c2 := p.Poll()
	if c2.Slot != slot {
		t.Fatalf("expected vacated slot %d reused before arena growth, got %d", slot, c2.Slot)
	}
	if c2 == c {
		t.Fatal("expected a fresh wrapper in the reused slot, not the dropped one")
	}
}

func TestAtReturnsNilOutOfRange(t *testing.T) {
	p := NewPool(-1, func() bool { return true })
	if p.At(0) != nil {
		t.Fatal("expected nil for an unallocated slot")
	}
	c := p.Poll()
	if p.At(c.Slot) != c {
		t.Fatal("expected At(slot) to return the allocated connection")
	}
}

func TestAsObjectPoolAdapter(t *testing.T) {
	p := NewPool(-1, func() bool { return true })
	op := p.AsObjectPool()

	if _, ok := op.Poll(); ok {
		t.Fatal("expected Poll to report false on an empty free-list")
	}

	c := p.Poll()
	if !op.Offer(c) {
		t.Fatal("expected Offer to succeed via the adapter")
	}
	if op.Len() != 1 {
		t.Fatalf("expected adapter Len()=1, got %d", op.Len())
	}
	got, ok := op.Poll()
	if !ok || got != c {
		t.Fatal("expected adapter Poll to return the pooled connection")
	}
}
