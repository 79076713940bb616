// File: internal/pollerq/queue.go
// Package pollerq implements the poller's event-queue protocol: external
// goroutines submit events via Add; the first submission that brings the
// wakeup counter above zero must trigger exactly one wakeup of the
// poller's readiness wait; subsequent submissions before the next drain
// do not.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pollerq

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// Queue is a FIFO of Events guarded by a mutex (eapache/queue itself is
// not concurrency-safe), paired with an atomic wakeup counter so callers
// can tell whether their Add was the one that must trigger a wakeup.
type Queue struct {
	mu  sync.Mutex
	q   *queue.Queue
	len atomic.Int64

	wakeupCounter atomic.Int64
}

func New() *Queue {
	return &Queue{q: queue.New()}
}

// Add enqueues ev and bumps the wakeup counter. It returns true exactly
// when this call moved the counter from <=0 to >0, i.e. when the caller
// is responsible for waking the poller's readiness wait.
func (eq *Queue) Add(ev Event) (mustWake bool) {
	eq.mu.Lock()
	eq.q.Add(ev)
	eq.mu.Unlock()
	eq.len.Add(1)

	for {
		cur := eq.wakeupCounter.Load()
		next := cur + 1
		if eq.wakeupCounter.CompareAndSwap(cur, next) {
			return cur <= 0
		}
	}
}

// DrainInto pops every pending event and appends it to dst, returning the
// (possibly extended) slice and whether anything was drained.
func (eq *Queue) DrainInto(dst []Event) ([]Event, bool) {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	if eq.q.Length() == 0 {
		return dst, false
	}
	for eq.q.Length() > 0 {
		dst = append(dst, eq.q.Remove().(Event))
	}
	eq.len.Store(0)
	return dst, true
}

// ResetWakeup sets the wakeup counter to a fresh baseline value: -1
// before a blocking readiness wait, 0 once the wait returns.
func (eq *Queue) ResetWakeup(v int64) { eq.wakeupCounter.Store(v) }

// WakeupCounter reads the current wakeup counter.
func (eq *Queue) WakeupCounter() int64 { return eq.wakeupCounter.Load() }

func (eq *Queue) Len() int { return int(eq.len.Load()) }
