// File: internal/bufpool/pool.go
// Package bufpool implements a bounded, size-tolerant buffer free-list.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bufpool

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/momentics/nioendpoint/api"
)

// Pool is a bounded free-list of byte buffers. Returning a buffer is
// refused once the configured max total-bytes cap would be exceeded.
type Pool struct {
	mu       sync.Mutex
	free     *queue.Queue
	maxBytes int64 // 0 = unbounded
	curBytes atomic.Int64

	totalAlloc atomic.Int64
	totalFree  atomic.Int64
}

// NewPool constructs a buffer Pool with the given total-bytes cap (0 for
// unbounded).
func NewPool(maxBytes int64) *Pool {
	return &Pool{free: queue.New(), maxBytes: maxBytes}
}

// Get returns a buffer of at least n bytes, reusing a pooled one if its
// capacity already suffices.
func (p *Pool) Get(n int) api.Buffer {
	p.mu.Lock()
	for p.free.Length() > 0 {
		b := p.free.Remove().(*byteBuffer)
		p.mu.Unlock()
		p.curBytes.Add(-int64(cap(b.data)))
		if cap(b.data) >= n {
			b.data = b.data[:n]
			p.totalAlloc.Add(1)
			return b
		}
		// too small to reuse; drop and keep scanning
		p.mu.Lock()
	}
	p.mu.Unlock()
	p.totalAlloc.Add(1)
	return &byteBuffer{data: make([]byte, n), pool: p}
}

// put returns b to the free-list unless doing so would exceed maxBytes.
func (p *Pool) put(b *byteBuffer) {
	size := int64(cap(b.data))
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxBytes > 0 && p.curBytes.Load()+size > p.maxBytes {
		p.totalFree.Add(1)
		return // drop; let GC reclaim
	}
	p.curBytes.Add(size)
	p.free.Add(b)
	p.totalFree.Add(1)
}

// Clear drops every pooled buffer, letting GC reclaim them. Used by the
// OOM watchdog when the parachute is released.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.free.Length() > 0 {
		p.free.Remove()
	}
	p.curBytes.Store(0)
}

// Put implements api.BufferPool by delegating to the buffer's own Release
// if it is one of ours, otherwise it is a no-op (foreign buffer).
func (p *Pool) Put(b api.Buffer) {
	if bb, ok := b.(*byteBuffer); ok && bb.pool == p {
		bb.Release()
	}
}

func (p *Pool) Stats() api.BufferPoolStats {
	alloc := p.totalAlloc.Load()
	free := p.totalFree.Load()
	return api.BufferPoolStats{
		TotalAlloc: alloc,
		TotalFree:  free,
		InUse:      alloc - free,
	}
}

var _ api.BufferPool = (*Pool)(nil)

// PairPool hands out a (read, write) Buffer pair per Connection, backed
// by a single underlying Pool.
type PairPool struct {
	bufs      *Pool
	bufSize   int
}

func NewPairPool(bufs *Pool, bufSize int) *PairPool {
	return &PairPool{bufs: bufs, bufSize: bufSize}
}

func (pp *PairPool) Acquire() (read, write api.Buffer) {
	return pp.bufs.Get(pp.bufSize), pp.bufs.Get(pp.bufSize)
}

func (pp *PairPool) Release(read, write api.Buffer) {
	if read != nil {
		read.Release()
	}
	if write != nil {
		write.Release()
	}
}
