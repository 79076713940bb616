// File: worker/processor.go
// Package worker implements SocketProcessor dispatch: TLS handshake
// advancement, Handler.Process/Event/AsyncDispatch invocation, and the
// SocketState-driven transition table that governs re-arm, cancellation,
// async parking, and tail-call rescheduling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package worker

import (
	"log"

	"github.com/momentics/nioendpoint/api"
	"github.com/momentics/nioendpoint/internal/connpool"
	"github.com/momentics/nioendpoint/poller"
)

// PollerControl is the subset of poller.Poller a Processor needs: re-arm
// and cancellation, expressed as an interface so a fake can stand in for
// a *poller.Poller in tests.
type PollerControl interface {
	RearmRead(conn *connpool.Connection)
	Rearm(conn *connpool.Connection, ops connpool.Ops)
	Cancel(conn *connpool.Connection, status api.SocketStatus)
}

// BufferReleaser returns a Connection's read/write buffer pair to the pool
// it was acquired from. Satisfied by *bufpool.PairPool.
type BufferReleaser interface {
	Release(read, write api.Buffer)
}

// SendfileAdder is the inline entry point of the sendfile engine, invoked
// when a handler returns with a SendfileJob attached. Satisfied by
// *sendfile.Engine.
type SendfileAdder interface {
	Add(conn *connpool.Connection, job *connpool.SendfileData) bool
}

// Processor dispatches SocketProcessor tasks to an api.Executor, invoking
// handler and driving the per-Connection monitor and waitingRequests set.
type Processor struct {
	handler  api.Handler
	executor api.Executor
	ctl      PollerControl
	waiting  *WaitingSet
	bufs     BufferReleaser
	sendfile SendfileAdder
}

// NewProcessor builds a Processor bound to one poller's control surface.
// Each poller owns its own Processor (and hence its own ctl), but all
// Processors in an endpoint may share the same Executor and WaitingSet.
// bufs may be nil, in which case Release leaves conn's buffers untouched.
func NewProcessor(handler api.Handler, executor api.Executor, ctl PollerControl, waiting *WaitingSet, bufs BufferReleaser) *Processor {
	return &Processor{handler: handler, executor: executor, ctl: ctl, waiting: waiting, bufs: bufs}
}

// SetSendfile binds the sendfile engine after construction — the engine
// needs the pollers' routing to exist first, so the endpoint wires it in
// a second pass. nil leaves attached jobs to the poller's processKey
// routing alone.
func (p *Processor) SetSendfile(s SendfileAdder) { p.sendfile = s }

// DispatchProcess implements poller.Dispatcher's plain read-readiness
// path: submit an async task that, under the Connection's monitor, runs
// the TLS handshake (if needed) then Handler.Process.
func (p *Processor) DispatchProcess(conn *connpool.Connection) error {
	return p.executor.Submit(func() { p.runProcess(conn) })
}

// DispatchEvent implements poller.Dispatcher's comet/event path.
func (p *Processor) DispatchEvent(conn *connpool.Connection, status api.SocketStatus) error {
	return p.executor.Submit(func() { p.runEvent(conn, status) })
}

// Release lets the Handler drop any buffers/engine state it attached, then
// returns conn's pooled read/write buffers before Connection.reset() nils
// them out on return to the connpool free-list.
func (p *Processor) Release(conn *connpool.Connection) {
	p.handler.Release(conn)
	if conn.TLS != nil {
		_ = conn.TLS.Close()
		conn.TLS = nil
	}
	if p.bufs != nil {
		p.bufs.Release(conn.ReadBuf, conn.WriteBuf)
	}
}

func (p *Processor) runProcess(conn *connpool.Connection) {
	if !conn.TryOwn() {
		if conn.IsCancelled() {
			return
		}
		// Another worker already owns this connection; re-queue instead
		// of processing concurrently (should not happen given the
		// clear-interest-before-dispatch invariant, but is cheap to guard).
		_ = p.executor.Submit(func() { p.runProcess(conn) })
		return
	}
	defer conn.Release()

	if conn.IsCancelled() {
		return
	}

	if conn.TLS != nil {
		switch r := conn.TLS.Handshake(true, true); {
		case r == 0:
			// handshake complete, fall through to Process
		case r < 0:
			p.ctl.Cancel(conn, api.StatusDisconnect)
			return
		default:
			p.ctl.Rearm(conn, handshakeOpsToConnOps(r))
			return
		}
	}

	state := p.handler.Process(conn)
	p.applyState(conn, state, false, 0)
}

func (p *Processor) runEvent(conn *connpool.Connection, status api.SocketStatus) {
	if !conn.TryOwn() {
		if conn.IsCancelled() {
			return
		}
		_ = p.executor.Submit(func() { p.runEvent(conn, status) })
		return
	}
	defer conn.Release()

	if conn.IsCancelled() {
		return
	}

	state := p.handler.Event(conn, status)
	p.applyState(conn, state, true, status)
}

// applyState drives the SocketState transition table: re-arm, cancel,
// park, hand to sendfile, or tail-call.
func (p *Processor) applyState(conn *connpool.Connection, state api.SocketState, fromEvent bool, status api.SocketStatus) {
	switch state {
	case api.StateOpen:
		if job := conn.SendfileJob.Load(); job != nil && p.sendfile != nil {
			p.sendfile.Add(conn, job)
			return
		}
		if conn.Comet.Load() {
			// comet re-arms via the explicit interest the handler
			// requested, not the ready-ops it just consumed
			ops := connpool.Ops(conn.CometOps.Load())
			if ops == 0 {
				ops = connpool.Read
			}
			p.ctl.Rearm(conn, ops)
			return
		}
		p.ctl.RearmRead(conn)
	case api.StateClosed:
		p.ctl.Cancel(conn, api.StatusStop)
	case api.StateLong:
		conn.Async.Store(true)
		conn.TouchLastAccess()
		p.waiting.Add(conn)
	case api.StateAsyncEnd:
		_ = p.executor.Submit(func() { p.runAsyncDispatch(conn, api.StatusOpen) })
	default:
		log.Printf("worker: unknown SocketState %v, closing connection %d", state, conn.ID())
		p.ctl.Cancel(conn, api.StatusError)
	}
}

func (p *Processor) runAsyncDispatch(conn *connpool.Connection, status api.SocketStatus) {
	if !conn.TryOwn() {
		if conn.IsCancelled() {
			return
		}
		_ = p.executor.Submit(func() { p.runAsyncDispatch(conn, status) })
		return
	}
	defer conn.Release()

	if conn.IsCancelled() {
		return
	}
	conn.Async.Store(false)

	state := p.handler.AsyncDispatch(conn, status)
	p.applyState(conn, state, true, status)
}

// ProcessSocketAsync is the external resumption entry point: it attempts
// to remove conn from the waiting set, and only the winner of that
// removal enqueues a processor — the sole mechanism preventing
// double-dispatch between the timeout sweeper and an external resume.
func (p *Processor) ProcessSocketAsync(conn *connpool.Connection, status api.SocketStatus) bool {
	if !p.waiting.Remove(conn) {
		return false
	}
	return p.executor.Submit(func() { p.runAsyncDispatch(conn, status) }) == nil
}

// handshakeOpsToConnOps maps the positive bitmask returned by
// api.TLSEngine.Handshake (api-level Read=1,Write=2) onto connpool.Ops.
func handshakeOpsToConnOps(bits int) connpool.Ops {
	var ops connpool.Ops
	if bits&1 != 0 {
		ops |= connpool.Read
	}
	if bits&2 != 0 {
		ops |= connpool.Write
	}
	if ops == 0 {
		ops = connpool.Read
	}
	return ops
}

var _ poller.Dispatcher = (*Processor)(nil)
var _ PollerControl = (*poller.Poller)(nil)
