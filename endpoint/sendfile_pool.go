// File: endpoint/sendfile_pool.go
// Package endpoint: sendfilePollerPool implements sendfile.ParkedRegistrar
// across one or more dedicated write-readiness pollers, since a parked
// connection's WRITE registration is independent of whichever primary
// poller owns its main (READ) registration.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package endpoint

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/nioendpoint/internal/connpool"
	"github.com/momentics/nioendpoint/poller"
)

type sendfileParkTarget interface {
	ParkWrite(conn *connpool.Connection)
	Rearm(conn *connpool.Connection, ops connpool.Ops)
	Deregister(conn *connpool.Connection)
}

// sendfilePollerPool round-robins ParkWrite across N dedicated pollers and
// remembers which one holds each parked connection, so Rearm/Deregister
// land on the same instance.
type sendfilePollerPool struct {
	pollers []sendfileParkTarget
	next    atomic.Uint64

	mu      sync.Mutex
	parkedAt map[int]int // conn.Slot -> index into pollers
}

func newSendfilePollerPool(pollers []sendfileParkTarget) *sendfilePollerPool {
	return &sendfilePollerPool{pollers: pollers, parkedAt: make(map[int]int)}
}

func (s *sendfilePollerPool) ParkWrite(conn *connpool.Connection) {
	idx := int(s.next.Add(1) % uint64(len(s.pollers)))
	s.mu.Lock()
	s.parkedAt[conn.Slot] = idx
	s.mu.Unlock()
	s.pollers[idx].ParkWrite(conn)
}

func (s *sendfilePollerPool) Rearm(conn *connpool.Connection, ops connpool.Ops) {
	s.mu.Lock()
	idx, ok := s.parkedAt[conn.Slot]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.pollers[idx].Rearm(conn, ops)
}

func (s *sendfilePollerPool) Deregister(conn *connpool.Connection) {
	s.mu.Lock()
	idx, ok := s.parkedAt[conn.Slot]
	delete(s.parkedAt, conn.Slot)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.pollers[idx].Deregister(conn)
}

var _ sendfileParkTarget = (*poller.Poller)(nil)
