// File: internal/connpool/connection.go
// Package connpool implements the Connection wrapper and its bounded
// free-list pool.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connpool

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/nioendpoint/api"
)

// Ops is the interest-ops bitset tracked per Connection. RegisterSentinel
// and CallbackSentinel are declared but not used by any component: event
// kinds are pollerq.Kind values, and neither sentinel is ever OR'd into
// the OS-facing interest mask.
type Ops uint32

const (
	Read Ops = 1 << iota
	Write
	RegisterSentinel
	CallbackSentinel
)

// state is the per-Connection monitor, CAS-driven instead of a lock: a
// worker must win the Idle->Owned transition before invoking the handler,
// and the Cancelled transition is terminal.
type state int32

const (
	stateIdle state = iota
	stateOwned
	stateCancelled
)

// Connection binds a raw net.Conn to the metadata the poller and workers
// need: timeouts, last-access, async/comet flags, TLS engine, sendfile
// state, and the per-Connection monitor.
type Connection struct {
	Slot int // index into the owning Pool's arena; stable for the Connection's lifetime

	Conn     net.Conn
	RawFD    uintptr
	PollerID int

	opsMu sync.Mutex // guards Ops from concurrent worker re-arm vs poller read
	ops   Ops

	TLS api.TLSEngine

	KeepAlivesRemaining int32
	LastAccess          atomic.Int64 // unix nanos, updated by the poller on every observed event
	Timeout             int64        // ms; -1 means "use endpoint default"

	Async     atomic.Bool
	Comet     atomic.Bool
	CometOps  atomic.Uint32 // requested re-arm mask for comet mode
	CometNotify atomic.Bool // pending OPEN notify flag for comet timeout sweep

	SendfileJob atomic.Pointer[SendfileData]

	ReadBuf  api.Buffer
	WriteBuf api.Buffer

	readLatch  *countdownLatch
	writeLatch *countdownLatch

	st    atomic.Int32 // state
	owner atomic.Pointer[ownerMarker]

	id uint64
}

// SendfileData describes one in-flight zero-copy file transmission,
// kept free of any direct dependency on the sendfile package to avoid an
// import cycle.
type SendfileData struct {
	FileName  string
	File      *FileHandle
	Offset    int64
	Remaining int64
	KeepAlive bool
}

// FileHandle wraps the raw descriptor of a file attached to a sendfile
// job. Exported so the sendfile package can construct and inspect jobs
// without connpool needing to import it.
type FileHandle struct {
	FD uintptr
}

// NewSendfileData builds a SendfileData for an open file descriptor.
func NewSendfileData(name string, fd uintptr, offset, remaining int64, keepAlive bool) *SendfileData {
	return &SendfileData{
		FileName:  name,
		File:      &FileHandle{FD: fd},
		Offset:    offset,
		Remaining: remaining,
		KeepAlive: keepAlive,
	}
}

type ownerMarker struct{}

// countdownLatch is a reusable single-use gate: helpers blocking on top of
// nonblocking I/O wait on Wait(); the owning goroutine calls CountDown()
// once the condition is satisfied. Reset rearms it for reuse from the pool.
type countdownLatch struct {
	mu   sync.Mutex
	done bool
	ch   chan struct{}
}

func newLatch() *countdownLatch {
	return &countdownLatch{ch: make(chan struct{})}
}

func (l *countdownLatch) CountDown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.done {
		l.done = true
		close(l.ch)
	}
}

func (l *countdownLatch) Wait() <-chan struct{} { return l.ch }

func (l *countdownLatch) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done = false
	l.ch = make(chan struct{})
}

// NewConnection allocates a Connection with fresh latches and no buffers
// (the acceptor attaches the read/write pair). Used by the pool factory
// when the free-list is empty.
func NewConnection() *Connection {
	c := &Connection{}
	c.readLatch = newLatch()
	c.writeLatch = newLatch()
	c.Timeout = -1
	return c
}

// ID returns a stable identifier for logging/metrics; implements
// api.SocketConn.
func (c *Connection) ID() uint64 { return c.id }

func (c *Connection) Read(p []byte) (int, error)  { return c.Conn.Read(p) }
func (c *Connection) Write(p []byte) (int, error) { return c.Conn.Write(p) }

func (c *Connection) SetTimeout(ms int64) { atomic.StoreInt64(&c.Timeout, ms) }

// AttachSendfile implements api.SocketConn: the attached job is picked up
// by the worker once the handler returns, and routed to the sendfile
// engine.
func (c *Connection) AttachSendfile(fileName string, fd uintptr, offset, length int64, keepAlive bool) {
	c.SendfileJob.Store(NewSendfileData(fileName, fd, offset, length, keepAlive))
}

// SetComet implements api.SocketConn.
func (c *Connection) SetComet(on bool) { c.Comet.Store(on) }

// CometInterest implements api.SocketConn, recording the requested comet
// re-arm mask.
func (c *Connection) CometInterest(read, write bool) {
	var ops Ops
	if read {
		ops |= Read
	}
	if write {
		ops |= Write
	}
	c.CometOps.Store(uint32(ops))
}

// Ops returns the Connection's last-known interest mask (as recorded by
// the poller, not necessarily the live OS registration).
func (c *Connection) Ops() Ops {
	c.opsMu.Lock()
	defer c.opsMu.Unlock()
	return c.ops
}

// SetOps overwrites the recorded interest mask.
func (c *Connection) SetOps(ops Ops) {
	c.opsMu.Lock()
	c.ops = ops
	c.opsMu.Unlock()
}

// MergeOps ORs additionalOps into the recorded mask and returns the
// result — used by REARM event execution, which merges rather than
// replaces.
func (c *Connection) MergeOps(additional Ops) Ops {
	c.opsMu.Lock()
	defer c.opsMu.Unlock()
	c.ops |= additional
	return c.ops
}

// ClearOps zeroes the recorded interest mask and returns the previous
// value; used by the clear-interest-before-dispatch invariant.
func (c *Connection) ClearOps() Ops {
	c.opsMu.Lock()
	defer c.opsMu.Unlock()
	prev := c.ops
	c.ops = 0
	return prev
}

// ClearReadyOps clears only the bits in ready from the recorded mask.
func (c *Connection) ClearReadyOps(ready Ops) Ops {
	c.opsMu.Lock()
	defer c.opsMu.Unlock()
	c.ops &^= ready
	return c.ops
}

// TouchLastAccess records the current time as the last-observed-readiness
// timestamp; called by the poller on every event and every REARM.
func (c *Connection) TouchLastAccess() {
	c.LastAccess.Store(time.Now().UnixNano())
}

// IdleFor returns how long the Connection has been idle relative to now.
func (c *Connection) IdleFor(now time.Time) time.Duration {
	last := c.LastAccess.Load()
	return now.Sub(time.Unix(0, last))
}

// TryOwn attempts the Idle->Owned CAS. Only the winner may invoke the
// handler; this is the sole mutual-exclusion mechanism between workers.
func (c *Connection) TryOwn() bool {
	return c.st.CompareAndSwap(int32(stateIdle), int32(stateOwned))
}

// Release transitions Owned->Idle, making the Connection eligible for the
// next worker dispatch (e.g. after a keep-alive re-arm).
func (c *Connection) Release() {
	c.st.CompareAndSwap(int32(stateOwned), int32(stateIdle))
}

// Cancel transitions to Cancelled unconditionally and idempotently;
// returns true only the first time it actually performs the transition,
// so callers can detect "first cancellation" for one-shot cleanup.
func (c *Connection) Cancel() bool {
	for {
		cur := c.st.Load()
		if state(cur) == stateCancelled {
			return false
		}
		if c.st.CompareAndSwap(cur, int32(stateCancelled)) {
			return true
		}
	}
}

func (c *Connection) IsCancelled() bool {
	return state(c.st.Load()) == stateCancelled
}

// reset restores a Connection to its pristine state before it re-enters
// the free-list. It never closes the underlying handle — the caller
// separates return-to-pool from destroy.
func (c *Connection) reset() {
	c.readLatch.CountDown()
	c.writeLatch.CountDown()
	c.readLatch.reset()
	c.writeLatch.reset()

	c.SendfileJob.Store(nil)
	c.Async.Store(false)
	c.Comet.Store(false)
	c.CometOps.Store(0)
	c.CometNotify.Store(false)
	c.SetOps(0)
	c.TLS = nil
	c.Conn = nil
	c.RawFD = 0
	c.ReadBuf = nil
	c.WriteBuf = nil
	c.Timeout = -1
	c.KeepAlivesRemaining = 0
	c.st.Store(int32(stateIdle))
}

// ReadLatch / WriteLatch expose the countdown latches to blocking helpers
// layered on top of nonblocking I/O.
func (c *Connection) ReadLatch() interface{ Wait() <-chan struct{} }  { return c.readLatch }
func (c *Connection) WriteLatch() interface{ Wait() <-chan struct{} } { return c.writeLatch }
func (c *Connection) SignalRead()                                    { c.readLatch.CountDown() }
func (c *Connection) SignalWrite()                                   { c.writeLatch.CountDown() }

var _ api.SocketConn = (*Connection)(nil)
