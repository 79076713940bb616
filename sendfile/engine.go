// File: sendfile/engine.go
// Package sendfile implements the zero-copy sendfile engine: an inline
// fast path using kernel-assisted sendfile(2), and a parked path
// registered with a dedicated write-readiness poller for slow clients.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sendfile

import (
	"log"
	"sync/atomic"
	"syscall"

	"github.com/momentics/nioendpoint/api"
	"github.com/momentics/nioendpoint/internal/connpool"
	"github.com/momentics/nioendpoint/poller"
)

// PrimaryControl is the subset of poller.Poller the engine needs to
// re-register a connection in the primary (read) poller once a parked
// sendfile completes with keepAlive.
type PrimaryControl interface {
	RearmRead(conn *connpool.Connection)
	Cancel(conn *connpool.Connection, status api.SocketStatus)
}

// ParkedRegistrar is the subset of the dedicated sendfile poller pool the
// engine needs to park/rearm/release a connection for WRITE readiness,
// independent of whichever primary poller owns the connection's main
// registration.
type ParkedRegistrar interface {
	// ParkWrite registers conn for WRITE readiness in one of the
	// dedicated sendfile pollers.
	ParkWrite(conn *connpool.Connection)
	// Rearm re-requests WRITE readiness for conn in the same dedicated
	// poller it was parked in.
	Rearm(conn *connpool.Connection, ops connpool.Ops)
	// Deregister removes conn from the dedicated poller it was parked
	// in, without affecting its primary registration.
	Deregister(conn *connpool.Connection)
}

// Engine drives both the inline and parked sendfile paths.
type Engine struct {
	primary PrimaryControl
	parked  ParkedRegistrar

	sendfileCount atomic.Int64
}

// New constructs an Engine. parked may be nil if a dedicated sendfile
// poller is not configured, in which case Add always runs the inline path
// to completion or failure (no parking): an EAGAIN then cancels the
// connection like any other sendfile error.
func New(primary PrimaryControl, parked ParkedRegistrar) *Engine {
	return &Engine{primary: primary, parked: parked}
}

// Add implements the inline fast path: loop calling sendfile(2) until the
// job completes, the kernel signals EAGAIN (park), or an unrecoverable
// error occurs. Returns true if the job completed synchronously.
func (e *Engine) Add(conn *connpool.Connection, job *connpool.SendfileData) bool {
	conn.SendfileJob.Store(job)
	for job.Remaining > 0 {
		n, err := e.sendfileOnce(conn, job)
		if err == syscall.EAGAIN && e.parked != nil {
			e.parked.ParkWrite(conn)
			return false
		}
		if err != nil {
			log.Printf("sendfile: io error on connection %d: %v", conn.ID(), err)
			e.primary.Cancel(conn, api.StatusError)
			conn.SendfileJob.Store(nil)
			return false
		}
		if n == 0 {
			break
		}
		job.Offset += int64(n)
		job.Remaining -= int64(n)
	}
	e.complete(conn, job)
	return true
}

// Dispatch implements poller.SendfileRouter: re-entry for a connection
// whose SendfileJob is already attached (reg=true, event=false routing
// from processKey), invoked on WRITE readiness in the parked path.
func (e *Engine) Dispatch(conn *connpool.Connection) error {
	job := conn.SendfileJob.Load()
	if job == nil {
		return nil
	}
	for job.Remaining > 0 {
		n, err := e.sendfileOnce(conn, job)
		if err == syscall.EAGAIN {
			if e.parked != nil {
				e.parked.Rearm(conn, connpool.Write)
			}
			return nil
		}
		if err != nil {
			conn.SendfileJob.Store(nil)
			if e.parked != nil {
				e.parked.Deregister(conn)
			}
			return err
		}
		if n == 0 {
			break
		}
		job.Offset += int64(n)
		job.Remaining -= int64(n)
	}
	e.complete(conn, job)
	return nil
}

func (e *Engine) complete(conn *connpool.Connection, job *connpool.SendfileData) {
	e.sendfileCount.Add(1)
	conn.SendfileJob.Store(nil)
	if job.File != nil {
		_ = job.File.Close()
	}
	if e.parked != nil {
		e.parked.Deregister(conn)
	}
	if job.KeepAlive {
		e.primary.RearmRead(conn)
	} else {
		e.primary.Cancel(conn, api.StatusStop)
	}
}

// sendfileOnce issues one kernel-assisted sendfile(2) call for the
// connection's raw socket descriptor and the job's file, capped at a
// fixed 48 KiB chunk.
func (e *Engine) sendfileOnce(conn *connpool.Connection, job *connpool.SendfileData) (int, error) {
	if job.File == nil {
		return 0, syscall.EBADF
	}
	const chunk = 48 * 1024
	toSend := job.Remaining
	if toSend > chunk {
		toSend = chunk
	}
	if toSend == 0 {
		return 0, nil
	}
	off := job.Offset
	n, err := syscall.Sendfile(int(conn.RawFD), int(job.File.FD), &off, int(toSend))
	return n, err
}

// SendfileCount reports the number of completed sendfile jobs.
func (e *Engine) SendfileCount() int64 { return e.sendfileCount.Load() }

var _ poller.SendfileRouter = (*Engine)(nil)
var _ PrimaryControl = (*poller.Poller)(nil)
var _ ParkedRegistrar = (*poller.Poller)(nil)
