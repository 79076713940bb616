// File: poller/poller.go
// Package poller implements the endpoint's poller: the "heart" of the
// design, owning one OS readiness queue, a mutex-guarded FIFO of pending
// PollerEvents, a wakeup counter, and the next-expiration timestamp used
// to avoid an O(n) timeout scan on every tick.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package poller

import (
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/nioendpoint/api"
	"github.com/momentics/nioendpoint/internal/connpool"
	"github.com/momentics/nioendpoint/internal/pollerq"
	"github.com/momentics/nioendpoint/reactor"
)

// Dispatcher is the worker-side collaborator a Poller hands ready
// connections to. Dispatch calls are expected to enqueue async work and
// return quickly — the poller thread never blocks on handler execution.
type Dispatcher interface {
	// DispatchProcess handles the plain read-readiness path (no status).
	DispatchProcess(conn *connpool.Connection) error
	// DispatchEvent handles the comet/event path carrying an explicit
	// status.
	DispatchEvent(conn *connpool.Connection, status api.SocketStatus) error
	// Release lets the dispatcher's Handler drop buffers/engine state
	// attached to conn; invoked exactly once, from cancelledKey.
	Release(conn *connpool.Connection)
}

// SendfileRouter receives connections with an attached SendfileJob,
// routing them to the sendfile engine for write-driven continuation.
type SendfileRouter interface {
	Dispatch(conn *connpool.Connection) error
}

// Poller owns one OS readiness queue and drives its full lifecycle.
type Poller struct {
	id   int
	cfg  *api.Config
	pool *connpool.Pool
	evq  *pollerq.Queue

	dispatcher Dispatcher
	sendfile   SendfileRouter

	rxMu sync.Mutex
	rx   reactor.Reactor

	keysMu sync.Mutex
	keys   map[int]*connpool.Connection

	closing atomic.Bool
	paused  *atomic.Bool

	nextExpiration atomic.Int64

	criticalFailures atomic.Int64

	// effectivePollerSize is the live admission cap for this poller,
	// seeded from cfg.PollerSize and stepped down to 1024, then 62, when
	// the OS registration call itself fails.
	effectivePollerSize atomic.Int64
	registeredCount      atomic.Int64

	done chan struct{}
}

// New constructs a Poller with its own reactor instance. sendfile may be
// nil when UseSendfile is disabled in cfg.
func New(id int, cfg *api.Config, pool *connpool.Pool, dispatcher Dispatcher, sendfile SendfileRouter, paused *atomic.Bool) (*Poller, error) {
	rx, err := reactor.NewReactor()
	if err != nil {
		return nil, err
	}
	return newWithReactor(id, cfg, pool, dispatcher, sendfile, paused, rx)
}

// newWithReactor builds a Poller around a caller-supplied Reactor,
// letting tests substitute a fake in place of the real epoll backend.
func newWithReactor(id int, cfg *api.Config, pool *connpool.Pool, dispatcher Dispatcher, sendfile SendfileRouter, paused *atomic.Bool, rx reactor.Reactor) (*Poller, error) {
	p := &Poller{
		id:         id,
		cfg:        cfg,
		pool:       pool,
		evq:        pollerq.New(),
		dispatcher: dispatcher,
		sendfile:   sendfile,
		rx:         rx,
		keys:       make(map[int]*connpool.Connection),
		paused:     paused,
		done:       make(chan struct{}),
	}
	p.nextExpiration.Store(time.Now().Add(cfg.TimeoutInterval).UnixNano())
	size := int64(cfg.PollerSize)
	if size <= 0 {
		size = 8192
	}
	p.effectivePollerSize.Store(size)
	return p, nil
}

func toReactorOps(ops connpool.Ops) reactor.Ops {
	var r reactor.Ops
	if ops&connpool.Read != 0 {
		r |= reactor.Read
	}
	if ops&connpool.Write != 0 {
		r |= reactor.Write
	}
	return r
}

func fromReactorOps(ops reactor.Ops) connpool.Ops {
	var c connpool.Ops
	if ops&reactor.Read != 0 {
		c |= connpool.Read
	}
	if ops&reactor.Write != 0 {
		c |= connpool.Write
	}
	return c
}

// Register attaches conn to the poller as its owning registration: seeds
// interestOps to READ, records conn.PollerID, and enqueues a REGISTER
// event applied on the poller thread.
func (p *Poller) Register(conn *connpool.Connection) {
	conn.PollerID = p.id
	p.registerOps(conn, connpool.Read)
}

// ParkWrite registers conn with this poller for WRITE readiness only,
// without touching conn.PollerID — used by the dedicated sendfile poller
// pool to park a connection whose owning registration remains with its
// original primary poller.
func (p *Poller) ParkWrite(conn *connpool.Connection) {
	p.registerOps(conn, connpool.Write)
}

func (p *Poller) registerOps(conn *connpool.Connection, ops connpool.Ops) {
	conn.SetOps(ops)
	ev := pollerq.Event{Conn: conn, InterestOps: ops, Kind: pollerq.KindRegister}
	if p.evq.Add(ev) {
		p.wakeup()
	}
}

// Deregister removes conn from this poller's readiness queue without
// cancelling the connection itself — the counterpart to ParkWrite, used
// once a parked sendfile job completes and control returns to conn's
// primary poller.
func (p *Poller) Deregister(conn *connpool.Connection) {
	p.keysMu.Lock()
	_, wasRegistered := p.keys[conn.Slot]
	delete(p.keys, conn.Slot)
	p.keysMu.Unlock()
	if wasRegistered {
		p.registeredCount.Add(-1)
	}
	rx := p.currentReactor()
	_ = rx.Unregister(conn.RawFD)
}

// Rearm posts a REARM event that merges additional into conn's current
// interest mask once the poller thread drains it.
func (p *Poller) Rearm(conn *connpool.Connection, additional connpool.Ops) {
	ev := pollerq.Event{Conn: conn, InterestOps: additional, Kind: pollerq.KindRearm}
	if p.evq.Add(ev) {
		p.wakeup()
	}
}

// RearmRead is shorthand for Rearm(conn, connpool.Read), the common
// keep-alive re-registration after a StateOpen result.
func (p *Poller) RearmRead(conn *connpool.Connection) {
	p.Rearm(conn, connpool.Read)
}

// Cancel posts a cancellation request, executed idempotently on the
// poller thread via cancelledKey.
func (p *Poller) Cancel(conn *connpool.Connection, status api.SocketStatus) {
	ev := pollerq.Event{Conn: conn, Kind: pollerq.KindCancel, Status: status, HasStatus: true}
	if p.evq.Add(ev) {
		p.wakeup()
	}
}

func (p *Poller) wakeup() {
	p.rxMu.Lock()
	rx := p.rx
	p.rxMu.Unlock()
	_ = rx.Wakeup()
}

func (p *Poller) currentReactor() reactor.Reactor {
	p.rxMu.Lock()
	defer p.rxMu.Unlock()
	return p.rx
}

// Run executes the poller's main loop until Shutdown is called: drain
// pending events, wait for readiness, dispatch ready keys, sweep
// timeouts. Intended to run on its own goroutine.
func (p *Poller) Run() {
	defer close(p.done)
	for {
		if p.paused.Load() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		hasEvents := p.drain()

		if p.closing.Load() {
			p.timeout(0, false)
			return
		}

		rx := p.currentReactor()
		var events []reactor.Event
		var err error
		if p.evq.WakeupCounter() > 0 {
			events, err = rx.Wait(0)
		} else {
			p.evq.ResetWakeup(-1)
			events, err = rx.Wait(int(p.cfg.SelectorTimeout / time.Millisecond))
			p.evq.ResetWakeup(0)
		}
		if err != nil {
			p.handlePollError(err)
			continue
		}
		if len(events) == 0 {
			if p.drain() {
				hasEvents = true
			}
		}
		for _, ev := range events {
			conn := p.lookup(ev.UserData)
			if conn == nil {
				continue
			}
			conn.TouchLastAccess()
			p.processKey(conn, fromReactorOps(ev.Ready))
		}
		p.timeout(len(events), hasEvents)
	}
}

func (p *Poller) lookup(userData uint64) *connpool.Connection {
	p.keysMu.Lock()
	defer p.keysMu.Unlock()
	return p.keys[int(userData)]
}

func (p *Poller) drain() bool {
	buf, ok := p.evq.DrainInto(nil)
	if !ok {
		return false
	}
	for _, ev := range buf {
		p.applyEvent(ev)
	}
	return true
}

func (p *Poller) applyEvent(ev pollerq.Event) {
	switch ev.Kind {
	case pollerq.KindRegister:
		if p.registeredCount.Load() >= p.effectivePollerSize.Load() {
			log.Printf("poller[%d]: register refused, at capacity (%d)", p.id, p.effectivePollerSize.Load())
			status := api.StatusError
			p.cancelledKey(ev.Conn, &status)
			return
		}
		rx := p.currentReactor()
		if err := rx.Register(ev.Conn.RawFD, uint64(ev.Conn.Slot), toReactorOps(ev.InterestOps)); err != nil {
			log.Printf("poller[%d]: register failed: %v", p.id, err)
			p.degradePollerSize()
			status := api.StatusError
			p.cancelledKey(ev.Conn, &status)
			return
		}
		p.registeredCount.Add(1)
		p.keysMu.Lock()
		p.keys[ev.Conn.Slot] = ev.Conn
		p.keysMu.Unlock()
		ev.Conn.TouchLastAccess()
	case pollerq.KindRearm:
		merged := ev.Conn.MergeOps(ev.InterestOps)
		rx := p.currentReactor()
		if err := rx.Modify(ev.Conn.RawFD, uint64(ev.Conn.Slot), toReactorOps(merged)); err != nil {
			log.Printf("poller[%d]: modify failed: %v", p.id, err)
		}
		ev.Conn.TouchLastAccess()
	case pollerq.KindCancel:
		if ev.HasStatus {
			s := ev.Status
			p.cancelledKey(ev.Conn, &s)
		} else {
			p.cancelledKey(ev.Conn, nil)
		}
	}
}

// processKey dispatches one ready key. Interest is cleared before the
// worker hand-off so two workers are never invoked for the same socket on
// consecutive readiness notifications.
func (p *Poller) processKey(conn *connpool.Connection, ready connpool.Ops) {
	if p.closing.Load() {
		status := api.StatusStop
		p.cancelledKey(conn, &status)
		return
	}
	if conn.IsCancelled() {
		return
	}
	if job := conn.SendfileJob.Load(); job != nil {
		if p.sendfile != nil {
			if err := p.sendfile.Dispatch(conn); err != nil {
				status := api.StatusError
				p.cancelledKey(conn, &status)
			}
		}
		return
	}
	if conn.Comet.Load() {
		conn.ClearOps()
		_ = p.currentReactor().Modify(conn.RawFD, uint64(conn.Slot), 0)
		if err := p.dispatcher.DispatchEvent(conn, api.StatusOpen); err != nil {
			status := api.StatusDisconnect
			p.cancelledKey(conn, &status)
		}
		return
	}
	remaining := conn.ClearReadyOps(ready)
	_ = p.currentReactor().Modify(conn.RawFD, uint64(conn.Slot), toReactorOps(remaining))
	if err := p.dispatcher.DispatchProcess(conn); err != nil {
		status := api.StatusDisconnect
		p.cancelledKey(conn, &status)
	}
}

// cancelledKey is idempotent: Connection.Cancel()'s CAS only lets the
// first caller through, so concurrent cancellation attempts (poller
// timeout vs. worker error vs. shutdown) collapse into one teardown.
func (p *Poller) cancelledKey(conn *connpool.Connection, status *api.SocketStatus) {
	if !conn.Cancel() {
		return
	}
	p.keysMu.Lock()
	_, wasRegistered := p.keys[conn.Slot]
	delete(p.keys, conn.Slot)
	p.keysMu.Unlock()
	if wasRegistered {
		p.registeredCount.Add(-1)
	}

	rx := p.currentReactor()
	_ = rx.Unregister(conn.RawFD)

	if job := conn.SendfileJob.Load(); job != nil && job.File != nil {
		_ = job.File.Close()
	}

	if status != nil && *status == api.StatusTimeout && conn.Comet.Load() {
		p.dispatcher.DispatchEvent(conn, *status)
	}

	p.dispatcher.Release(conn)

	if conn.Conn != nil {
		_ = conn.Conn.Close()
	}
	p.pool.Offer(conn)
}

// degradePollerSize steps the admission cap down after a real
// registration failure: the first time epoll_ctl itself fails (typically
// EMFILE, ENFILE, or ENOMEM) the cap drops to 1024, and a further
// failure once already at or below 1024 drops it to 62. Idempotent past
// 62: there is nowhere lower to go. Refusals caused only by reaching the
// configured cfg.PollerSize soft cap (normal back-pressure, not an OS
// failure) do not trigger this degrade.
func (p *Poller) degradePollerSize() {
	for {
		cur := p.effectivePollerSize.Load()
		var next int64
		switch {
		case cur > 1024:
			next = 1024
		case cur > 62:
			next = 62
		default:
			return
		}
		if p.effectivePollerSize.CompareAndSwap(cur, next) {
			log.Printf("poller[%d]: PollerSize degraded to %d after registration failure", p.id, next)
			return
		}
	}
}

// EffectivePollerSize reports this poller's current admission cap, after
// any fallback degradation (configured size -> 1024 -> 62).
func (p *Poller) EffectivePollerSize() int64 { return p.effectivePollerSize.Load() }

// timeout sweeps idle registrations: the O(n) scan is skipped unless
// ready keys were drained, events were processed, or nextExpiration has
// passed, and the smallest upcoming deadline becomes the new
// nextExpiration. Once the poller is closing the sweep instead cancels
// every remaining key with STOP, deadline or not, so shutdown closes
// idle keep-alive sockets that are nowhere near their timeout.
func (p *Poller) timeout(keyCount int, hasEvents bool) {
	now := time.Now()
	nowNanos := now.UnixNano()
	if keyCount == 0 && !hasEvents && nowNanos < p.nextExpiration.Load() && !p.closing.Load() {
		return
	}

	p.keysMu.Lock()
	snapshot := make([]*connpool.Connection, 0, len(p.keys))
	for _, c := range p.keys {
		snapshot = append(snapshot, c)
	}
	p.keysMu.Unlock()

	soonest := int64(math.MaxInt64)
	for _, c := range snapshot {
		if p.closing.Load() {
			// closing sweep: expire everything now, deadline or not
			c.ClearOps()
			status := api.StatusStop
			p.cancelledKey(c, &status)
			continue
		}
		ops := c.Ops()
		if ops&(connpool.Read|connpool.Write) != 0 {
			effTimeout := p.cfg.KeepAliveTimeout
			if t := atomic.LoadInt64(&c.Timeout); t >= 0 {
				effTimeout = time.Duration(t) * time.Millisecond
			}
			last := c.LastAccess.Load()
			if now.Sub(time.Unix(0, last)) > effTimeout {
				c.ClearOps() // idempotence guard before cancel
				status := api.StatusTimeout
				p.cancelledKey(c, &status)
				continue
			}
			deadline := last + effTimeout.Nanoseconds()
			if deadline < soonest {
				soonest = deadline
			}
		}
		if c.Comet.Load() && c.CometNotify.CompareAndSwap(true, false) {
			p.dispatcher.DispatchEvent(c, api.StatusOpen)
		}
	}
	if soonest == int64(math.MaxInt64) {
		soonest = nowNanos + p.cfg.TimeoutInterval.Nanoseconds()
	}
	p.nextExpiration.Store(soonest)
}

// handlePollError implements critical-failure recovery: any error
// surfacing here is unrecoverable by construction (reactor.Wait already
// swallows EINTR internally), so the readiness queue is rebuilt and every
// key it held is cancelled with StatusError.
func (p *Poller) handlePollError(err error) {
	p.criticalFailures.Add(1)
	log.Printf("poller[%d]: critical readiness error, rebuilding: %v", p.id, err)
	p.rebuildReactor()
}

func (p *Poller) rebuildReactor() {
	newRx, err := reactor.NewReactor()
	if err != nil {
		log.Printf("poller[%d]: failed to rebuild reactor: %v", p.id, err)
		time.Sleep(100 * time.Millisecond)
		return
	}

	p.rxMu.Lock()
	old := p.rx
	p.rx = newRx
	p.rxMu.Unlock()
	_ = old.Close()

	p.keysMu.Lock()
	snapshot := make([]*connpool.Connection, 0, len(p.keys))
	for _, c := range p.keys {
		snapshot = append(snapshot, c)
	}
	p.keysMu.Unlock()

	for _, c := range snapshot {
		status := api.StatusError
		p.cancelledKey(c, &status)
	}
}

// Shutdown marks the poller closing and wakes its readiness wait so it
// observes the flag promptly instead of waiting out selectorTimeout.
func (p *Poller) Shutdown() {
	p.closing.Store(true)
	p.wakeup()
}

// WaitClosed blocks until Run has returned or the deadline elapses,
// reporting whether the poller exited in time.
func (p *Poller) WaitClosed(deadline time.Duration) bool {
	select {
	case <-p.done:
		return true
	case <-time.After(deadline):
		return false
	}
}

// KeepAliveCount reports the number of keys currently registered with
// READ interest — the idle connections held in this poller's readiness
// queue.
func (p *Poller) KeepAliveCount() int64 {
	p.keysMu.Lock()
	defer p.keysMu.Unlock()
	var n int64
	for _, c := range p.keys {
		if c.Ops()&connpool.Read != 0 {
			n++
		}
	}
	return n
}

// CriticalFailures reports the count of readiness-queue rebuilds.
func (p *Poller) CriticalFailures() int64 { return p.criticalFailures.Load() }

// ID returns the poller's index within its endpoint's poller set.
func (p *Poller) ID() int { return p.id }
