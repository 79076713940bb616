// File: internal/bufpool/buffer.go
// Package bufpool implements the application read/write buffer pool.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bufpool

import "github.com/momentics/nioendpoint/api"

// byteBuffer is a heap-backed api.Buffer returned to its owning pool on
// Release.
type byteBuffer struct {
	data []byte
	pool *Pool
}

func (b *byteBuffer) Bytes() []byte { return b.data }

func (b *byteBuffer) Slice(from, to int) api.Buffer {
	return &byteBuffer{data: b.data[from:to], pool: b.pool}
}

func (b *byteBuffer) Release() {
	if b.pool != nil {
		b.pool.put(b)
	}
}

// Expand returns buf if it already has at least needed bytes of capacity,
// or a new, larger buffer with the old contents preserved.
func Expand(p *Pool, buf api.Buffer, needed int) api.Buffer {
	if cap(buf.Bytes()) >= needed {
		return buf
	}
	next := p.Get(needed)
	n := copy(next.Bytes()[:needed], buf.Bytes())
	_ = n
	buf.Release()
	return next
}
