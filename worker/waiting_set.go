// File: worker/waiting_set.go
// Package worker: the waiting-requests set, a concurrent set of
// async-parked connections consulted by the timeout sweeper and by
// external resumption callers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package worker

import (
	"sync"

	"github.com/momentics/nioendpoint/internal/connpool"
)

// WaitingSet tracks connections parked in StateLong, keyed by arena slot.
// Remove is the sole synchronization point preventing double-dispatch: of
// two concurrent callers (sweeper vs. external resume), only the one that
// actually deletes the entry may submit a processor for it.
type WaitingSet struct {
	mu      sync.Mutex
	entries map[int]*connpool.Connection
}

// NewWaitingSet constructs an empty WaitingSet.
func NewWaitingSet() *WaitingSet {
	return &WaitingSet{entries: make(map[int]*connpool.Connection)}
}

// Add parks conn, making it visible to the sweeper and to ProcessSocketAsync.
func (w *WaitingSet) Add(conn *connpool.Connection) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[conn.Slot] = conn
}

// Remove deletes conn from the set, returning true only if it was present
// — only the winner of the removal may enqueue a processor.
func (w *WaitingSet) Remove(conn *connpool.Connection) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.entries[conn.Slot]; !ok {
		return false
	}
	delete(w.entries, conn.Slot)
	return true
}

// Snapshot returns every currently-parked connection, for the sweeper's
// periodic iteration.
func (w *WaitingSet) Snapshot() []*connpool.Connection {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*connpool.Connection, 0, len(w.entries))
	for _, c := range w.entries {
		out = append(out, c)
	}
	return out
}

// Len reports the number of currently-parked connections.
func (w *WaitingSet) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
