// File: internal/connpool/pool.go
// Package connpool implements the bounded Connection free-list, modeled
// as an arena of slots addressed by integer index: pollers hold indices,
// not owning references, which keeps the Connection/Poller relationship
// acyclic.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connpool

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/momentics/nioendpoint/api"
)

// RunningFunc reports whether the owning endpoint is currently running
// and not paused; Offer refuses to accept returns when it reports false,
// so wrappers freed during shutdown are left to the collector instead of
// being cached.
type RunningFunc func() bool

// Pool is a bounded free-list of *Connection, backed by an eapache/queue
// FIFO of arena slots guarded by a mutex, with an atomic length counter
// kept off the fast path of size queries (eapache/queue itself is not
// concurrency-safe).
type Pool struct {
	mu    sync.Mutex
	free  *queue.Queue // holds slot indices (int)
	slots []*Connection

	// vacant holds arena slots whose cached wrapper was dropped by Clear;
	// Poll refills them with a fresh Connection before growing the arena.
	vacant []int

	len     atomic.Int64
	maxCap  int // -1 = unbounded
	running RunningFunc

	nextID atomic.Uint64
}

// NewPool constructs a Pool with the given capacity (-1 for unbounded).
func NewPool(maxCap int, running RunningFunc) *Pool {
	return &Pool{
		free:    queue.New(),
		maxCap:  maxCap,
		running: running,
	}
}

// Poll removes a Connection from the free-list, or allocates a fresh one
// (and a new arena slot) if the free-list is empty.
func (p *Pool) Poll() *Connection {
	p.mu.Lock()
	if p.free.Length() > 0 {
		slot := p.free.Remove().(int)
		p.mu.Unlock()
		p.len.Add(-1)
		c := p.slots[slot]
		c.st.Store(int32(stateIdle))
		c.id = p.nextID.Add(1)
		return c
	}
	var slot int
	if n := len(p.vacant); n > 0 {
		slot = p.vacant[n-1]
		p.vacant = p.vacant[:n-1]
	} else {
		slot = len(p.slots)
		p.slots = append(p.slots, nil)
	}
	c := NewConnection()
	c.Slot = slot
	p.slots[slot] = c
	p.mu.Unlock()
	c.id = p.nextID.Add(1)
	return c
}

// Offer resets conn and returns it to the free-list. It refuses when the
// pool is at capacity or the endpoint is not running && !paused. A pooled
// wrapper stays Cancelled until Poll hands it out again, so a repeated
// cancellation of the retired connection remains a no-op.
func (p *Pool) Offer(conn *Connection) bool {
	if p.running != nil && !p.running() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxCap >= 0 && int(p.len.Load()) >= p.maxCap {
		return false
	}
	conn.reset()
	conn.st.Store(int32(stateCancelled))
	p.free.Add(conn.Slot)
	p.len.Add(1)
	return true
}

// Clear drops every cached wrapper, letting GC reclaim them. Arena slots
// held by in-use connections stay valid; freed slots are remembered and
// refilled on the next Poll. Used by the OOM watchdog when the parachute
// is released.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.free.Length() > 0 {
		slot := p.free.Remove().(int)
		p.slots[slot] = nil
		p.vacant = append(p.vacant, slot)
	}
	p.len.Store(0)
}

// Len reports the current number of pooled (free) connections.
func (p *Pool) Len() int { return int(p.len.Load()) }

// ArenaSize reports the total number of slots ever allocated (free + in use).
func (p *Pool) ArenaSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// At returns the Connection at the given arena slot, used by pollers that
// only hold the integer index rather than a live pointer.
func (p *Pool) At(slot int) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot < 0 || slot >= len(p.slots) {
		return nil
	}
	return p.slots[slot]
}

var _ api.ObjectPool[*Connection] = (*connObjectPoolAdapter)(nil)

// connObjectPoolAdapter satisfies api.ObjectPool[*Connection] for code
// that wants to depend on the generic interface rather than *Pool
// directly (tests, generic pool accounting helpers).
type connObjectPoolAdapter struct{ p *Pool }

func (a *connObjectPoolAdapter) Poll() (*Connection, bool) {
	if a.p.Len() == 0 {
		return nil, false
	}
	c := a.p.Poll()
	return c, c != nil
}

func (a *connObjectPoolAdapter) Offer(c *Connection) bool { return a.p.Offer(c) }
func (a *connObjectPoolAdapter) Len() int                 { return a.p.Len() }

// AsObjectPool adapts p to the generic api.ObjectPool[*Connection] shape.
func (p *Pool) AsObjectPool() api.ObjectPool[*Connection] {
	return &connObjectPoolAdapter{p: p}
}
