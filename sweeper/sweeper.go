// File: sweeper/sweeper.go
// Package sweeper implements the async-timeout sweeper: a dedicated
// goroutine waking roughly every TimeoutInterval, scanning the worker's
// waiting set, and resuming any connection that has sat idle past its
// timeout with a TIMEOUT status.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sweeper

import (
	"sync/atomic"
	"time"

	"github.com/momentics/nioendpoint/api"
	"github.com/momentics/nioendpoint/internal/connpool"
	"github.com/momentics/nioendpoint/worker"
)

var _ WaitingSnapshot = (*worker.WaitingSet)(nil)
var _ AsyncResumer = (*worker.Processor)(nil)

// WaitingSnapshot is the subset of worker.WaitingSet the sweeper consults.
type WaitingSnapshot interface {
	Snapshot() []*connpool.Connection
}

// AsyncResumer is the subset of worker.Processor the sweeper drives: the
// Remove-gated resumption entry point that prevents double-dispatch
// against a concurrent external resume.
type AsyncResumer interface {
	ProcessSocketAsync(conn *connpool.Connection, status api.SocketStatus) bool
}

// Sweeper periodically resumes async-parked connections that have been
// idle longer than their configured timeout.
type Sweeper struct {
	waiting  WaitingSnapshot
	resumer  AsyncResumer
	interval time.Duration
	fallback time.Duration

	closing atomic.Bool
	done    chan struct{}
}

// New constructs a Sweeper. interval is how often the scan runs
// (typically ~1s); fallback is the idle threshold applied to a connection
// whose own Timeout is unset (<=0).
func New(waiting WaitingSnapshot, resumer AsyncResumer, interval, fallback time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sweeper{
		waiting:  waiting,
		resumer:  resumer,
		interval: interval,
		fallback: fallback,
		done:     make(chan struct{}),
	}
}

// Run executes the sweep loop until Shutdown is called. Intended to be
// launched as its own goroutine by the endpoint controller.
func (s *Sweeper) Run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-ticker.C:
			if s.closing.Load() {
				return
			}
			s.sweepOnce(time.Now())
		}
		if s.closing.Load() {
			return
		}
	}
}

func (s *Sweeper) sweepOnce(now time.Time) {
	for _, conn := range s.waiting.Snapshot() {
		timeout := atomic.LoadInt64(&conn.Timeout)
		threshold := s.fallback
		if timeout > 0 {
			threshold = time.Duration(timeout) * time.Millisecond
		}
		if threshold <= 0 {
			continue
		}
		if conn.IdleFor(now) > threshold {
			s.resumer.ProcessSocketAsync(conn, api.StatusTimeout)
		}
	}
}

// Shutdown stops the sweep loop; it does not block for the loop to
// observe the flag, use WaitClosed for that.
func (s *Sweeper) Shutdown() {
	s.closing.Store(true)
}

// WaitClosed blocks until Run has returned or deadline elapses, returning
// true if Run returned in time.
func (s *Sweeper) WaitClosed(deadline time.Duration) bool {
	select {
	case <-s.done:
		return true
	case <-time.After(deadline):
		return false
	}
}
