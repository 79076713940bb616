// File: endpoint/router.go
// Package endpoint ties every component together into the full lifecycle
// controller. router.go implements the small indirection
// types needed to break the construction cycle between pollers and their
// dispatchers/sendfile routers, and to route control calls back to a
// connection's owning poller regardless of which poller instance is
// calling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package endpoint

import (
	"sync"

	"github.com/momentics/nioendpoint/api"
	"github.com/momentics/nioendpoint/internal/connpool"
	"github.com/momentics/nioendpoint/poller"
)

// pollerTarget is the subset of poller.Poller needed for rearm/cancel,
// routed by the connection's recorded PollerID.
type pollerTarget interface {
	RearmRead(conn *connpool.Connection)
	Rearm(conn *connpool.Connection, ops connpool.Ops)
	Cancel(conn *connpool.Connection, status api.SocketStatus)
}

// pollerRouter dispatches RearmRead/Rearm/Cancel to the primary poller
// that owns a connection (conn.PollerID), letting one Engine/Processor
// collaborate with N independently-running pollers. Implements both
// worker.PollerControl and sendfile.PrimaryControl.
type pollerRouter struct {
	pollers []pollerTarget
}

func newPollerRouter(pollers []pollerTarget) *pollerRouter {
	return &pollerRouter{pollers: pollers}
}

func (r *pollerRouter) RearmRead(conn *connpool.Connection) {
	r.pollers[conn.PollerID].RearmRead(conn)
}

func (r *pollerRouter) Rearm(conn *connpool.Connection, ops connpool.Ops) {
	r.pollers[conn.PollerID].Rearm(conn, ops)
}

func (r *pollerRouter) Cancel(conn *connpool.Connection, status api.SocketStatus) {
	r.pollers[conn.PollerID].Cancel(conn, status)
}

// dispatcherProxy lets a Poller be constructed before its Processor (the
// Processor needs the Poller as its PollerControl, and the Poller needs a
// Dispatcher at construction time). Set is called exactly once, right
// after both sides exist.
type dispatcherProxy struct {
	mu sync.RWMutex
	d  poller.Dispatcher
}

func (d *dispatcherProxy) set(real poller.Dispatcher) {
	d.mu.Lock()
	d.d = real
	d.mu.Unlock()
}

func (d *dispatcherProxy) get() poller.Dispatcher {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.d
}

func (d *dispatcherProxy) DispatchProcess(conn *connpool.Connection) error {
	return d.get().DispatchProcess(conn)
}

func (d *dispatcherProxy) DispatchEvent(conn *connpool.Connection, status api.SocketStatus) error {
	return d.get().DispatchEvent(conn, status)
}

func (d *dispatcherProxy) Release(conn *connpool.Connection) {
	d.get().Release(conn)
}

// sendfileRouterProxy breaks the analogous cycle for poller.SendfileRouter:
// each primary poller needs one at construction time, but the shared
// sendfile.Engine is built only once all pollers (and hence the
// pollerRouter they feed) already exist.
type sendfileRouterProxy struct {
	mu sync.RWMutex
	r  poller.SendfileRouter
}

func (s *sendfileRouterProxy) set(real poller.SendfileRouter) {
	s.mu.Lock()
	s.r = real
	s.mu.Unlock()
}

func (s *sendfileRouterProxy) Dispatch(conn *connpool.Connection) error {
	s.mu.RLock()
	r := s.r
	s.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.Dispatch(conn)
}

// noopDispatcher satisfies poller.Dispatcher for the dedicated sendfile
// poller pool, whose processKey path never reaches the dispatcher branch
// (every connection registered there always carries a SendfileJob) but
// which still requires a non-nil Dispatcher value at construction time.
type noopDispatcher struct{}

func (noopDispatcher) DispatchProcess(conn *connpool.Connection) error { return nil }
func (noopDispatcher) DispatchEvent(conn *connpool.Connection, status api.SocketStatus) error {
	return nil
}
func (noopDispatcher) Release(conn *connpool.Connection) {}

// asyncResumeTarget is the subset of worker.Processor the processorRouter
// needs to resume one connection's async park.
type asyncResumeTarget interface {
	ProcessSocketAsync(conn *connpool.Connection, status api.SocketStatus) bool
}

// processorRouter routes ProcessSocketAsync to the Processor bound to
// conn's owning poller, mirroring pollerRouter.
type processorRouter struct {
	processors []asyncResumeTarget
}

func newProcessorRouter(processors []asyncResumeTarget) *processorRouter {
	return &processorRouter{processors: processors}
}

func (r *processorRouter) ProcessSocketAsync(conn *connpool.Connection, status api.SocketStatus) bool {
	return r.processors[conn.PollerID].ProcessSocketAsync(conn, status)
}

var _ poller.Dispatcher = (*dispatcherProxy)(nil)
var _ poller.Dispatcher = noopDispatcher{}
var _ poller.SendfileRouter = (*sendfileRouterProxy)(nil)
var _ pollerTarget = (*poller.Poller)(nil)
