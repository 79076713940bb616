// File: endpoint/endpoint.go
// Package endpoint implements the lifecycle controller: the thread-safe,
// idempotent init/start/pause/stop/destroy state machine that wires
// together the acceptor, pollers, sendfile engine, sweeper, and control
// surface built elsewhere in this module.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package endpoint

import (
	"fmt"
	"log"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/nioendpoint/acceptor"
	"github.com/momentics/nioendpoint/api"
	"github.com/momentics/nioendpoint/control"
	"github.com/momentics/nioendpoint/internal/bufpool"
	"github.com/momentics/nioendpoint/internal/concurrency"
	"github.com/momentics/nioendpoint/internal/connpool"
	"github.com/momentics/nioendpoint/internal/tlsengine"
	"github.com/momentics/nioendpoint/poller"
	"github.com/momentics/nioendpoint/sendfile"
	"github.com/momentics/nioendpoint/sweeper"
	"github.com/momentics/nioendpoint/worker"
)

// lifecycleState enumerates the endpoint's coarse states. Transitions
// are serialized by Endpoint.mu; reads go through the atomic so pool
// gates on poller goroutines never contend with a Stop holding the
// mutex across its grace wait.
type lifecycleState int32

const (
	stateNew lifecycleState = iota
	stateInitialized
	stateRunning
	stateStopped
	stateDestroyed
)

// Endpoint is the top-level controller binding every component together.
type Endpoint struct {
	mu    sync.Mutex // serializes lifecycle transitions
	state atomic.Int32 // lifecycleState

	cfg     *api.Config
	handler api.Handler

	paused atomic.Bool

	tlsCtx   api.TLSContext
	acceptor *acceptor.Acceptor

	bufPool  *bufpool.Pool
	pairPool *bufpool.PairPool
	connPool *connpool.Pool
	executor *concurrency.Executor
	waiting  *worker.WaitingSet

	pollers    []*poller.Poller
	processors []*worker.Processor

	sendfilePollers []*poller.Poller
	sendfileEngine  *sendfile.Engine

	resumer *processorRouter

	sweeper *sweeper.Sweeper
	control *control.Controller

	watchdogStop chan struct{}

	pollerWG sync.WaitGroup
}

// Init binds and listens on the configured address, builds the TLS
// context if enabled, and constructs pools, pollers, and the acceptor.
// Only the worker executor's goroutines start here; the poller, acceptor,
// sweeper and control goroutines are started by Start. cfg may be nil to take
// api.DefaultConfig().
func Init(cfg *api.Config, handler api.Handler) (*Endpoint, error) {
	if cfg == nil {
		cfg = api.DefaultConfig()
	}
	if handler == nil {
		return nil, fmt.Errorf("endpoint: handler must not be nil")
	}

	e := &Endpoint{cfg: cfg, handler: handler}

	if cfg.SSLEnabled {
		ctx, err := tlsengine.NewContext(cfg.TLS)
		if err != nil {
			return nil, err
		}
		e.tlsCtx = ctx
	}

	e.bufPool = bufpool.NewPool(cfg.BufferPoolMaxBytes)
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 65536
	}
	e.pairPool = bufpool.NewPairPool(e.bufPool, bufSize)
	e.connPool = connpool.NewPool(cfg.ConnectionPoolMax, e.isRunning)
	e.executor = concurrency.NewExecutor(0)
	e.waiting = worker.NewWaitingSet()

	pollerCount := cfg.PollerThreadCount
	if pollerCount <= 0 {
		pollerCount = runtime.NumCPU()
	}

	dispatchProxies := make([]*dispatcherProxy, pollerCount)
	sendfileProxies := make([]*sendfileRouterProxy, pollerCount)
	pollerTargets := make([]pollerTarget, pollerCount)
	resumeTargets := make([]asyncResumeTarget, pollerCount)

	e.pollers = make([]*poller.Poller, pollerCount)
	e.processors = make([]*worker.Processor, pollerCount)

	for i := 0; i < pollerCount; i++ {
		dp := &dispatcherProxy{}
		sp := &sendfileRouterProxy{}
		p, err := poller.New(i, cfg, e.connPool, dp, sp, &e.paused)
		if err != nil {
			return nil, err
		}
		proc := worker.NewProcessor(handler, e.executor, p, e.waiting, e.pairPool)
		dp.set(proc)

		e.pollers[i] = p
		e.processors[i] = proc
		dispatchProxies[i] = dp
		sendfileProxies[i] = sp
		pollerTargets[i] = p
		resumeTargets[i] = proc
	}

	router := newPollerRouter(pollerTargets)
	e.resumer = newProcessorRouter(resumeTargets)

	if cfg.UseSendfile {
		sendfileCount := cfg.SendfileThreadCount
		if sendfileCount <= 0 {
			sendfileCount = 1
		}
		e.sendfilePollers = make([]*poller.Poller, sendfileCount)
		parkTargets := make([]sendfileParkTarget, sendfileCount)
		sfProxies := make([]*sendfileRouterProxy, sendfileCount)

		for i := 0; i < sendfileCount; i++ {
			sp := &sendfileRouterProxy{}
			p, err := poller.New(1_000_000+i, cfg, e.connPool, noopDispatcher{}, sp, &e.paused)
			if err != nil {
				return nil, err
			}
			e.sendfilePollers[i] = p
			parkTargets[i] = p
			sfProxies[i] = sp
		}

		engine := sendfile.New(router, newSendfilePollerPool(parkTargets))
		e.sendfileEngine = engine
		for _, sp := range sendfileProxies {
			sp.set(engine)
		}
		for _, sp := range sfProxies {
			sp.set(engine)
		}
		for _, proc := range e.processors {
			proc.SetSendfile(engine)
		}
	}

	pollerAcceptTargets := make([]acceptor.PollerTarget, pollerCount)
	for i, p := range e.pollers {
		pollerAcceptTargets[i] = p
	}
	acc, err := acceptor.New(cfg, e.connPool, pollerAcceptTargets, e.tlsCtx, e.pairPool, &e.paused)
	if err != nil {
		return nil, err
	}
	e.acceptor = acc

	e.sweeper = sweeper.New(e.waiting, e.resumer, cfg.TimeoutInterval, cfg.KeepAliveTimeout)

	e.control = control.NewController(control.Observables{
		KeepAliveCount: e.keepAliveCount,
		SendfileCount:  e.sendfileCount,
		AcceptFailures: e.acceptor.AcceptFailures,
		PollerCriticalFailures: e.pollerCriticalFailures,
		WaitingCount:   e.waiting.Len,
	})

	e.state.Store(int32(stateInitialized))
	return e, nil
}

// Start creates the running goroutines: N poller threads, M acceptor
// threads, sendfile-poller threads if enabled, the async-timeout sweeper,
// and the control sampling loop. Idempotent: calling Start twice while
// already running returns api.ErrAlreadyRunning.
func (e *Endpoint) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lifecycle() == stateRunning {
		return api.ErrAlreadyRunning
	}
	if e.lifecycle() == stateDestroyed {
		return api.ErrNotRunning
	}

	for _, p := range e.pollers {
		e.pollerWG.Add(1)
		go func(p *poller.Poller) {
			defer e.pollerWG.Done()
			p.Run()
		}(p)
	}
	for _, p := range e.sendfilePollers {
		e.pollerWG.Add(1)
		go func(p *poller.Poller) {
			defer e.pollerWG.Done()
			p.Run()
		}(p)
	}

	acceptorThreads := e.cfg.AcceptorThreadCount
	if acceptorThreads <= 0 {
		acceptorThreads = 1
	}
	for i := 0; i < acceptorThreads; i++ {
		go e.acceptor.Run()
	}

	go e.sweeper.Run()
	go e.control.Run(e.cfg.TimeoutInterval)

	if e.cfg.OOMParachuteBytes > 0 {
		e.watchdogStop = make(chan struct{})
		go e.parachuteWatchdog(e.watchdogStop)
	}

	e.state.Store(int32(stateRunning))
	return nil
}

// parachuteWatchdog samples runtime memory once per TimeoutInterval and
// manages the acceptor's OOM parachute: when the heap headroom the
// runtime already holds drops below the slab size, the slab is released
// and the pool caches dropped; once headroom recovers past twice the
// slab size, the slab is reinstated. Go's allocator raises no
// recoverable OOM signal, so low headroom is the nearest observable
// trigger for the release.
func (e *Endpoint) parachuteWatchdog(stop chan struct{}) {
	size := uint64(e.cfg.OOMParachuteBytes)
	interval := e.cfg.TimeoutInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			headroom := ms.HeapIdle - ms.HeapReleased
			switch {
			case headroom < size:
				e.acceptor.ReleaseParachute()
				e.bufPool.Clear()
				e.connPool.Clear()
			case headroom > 2*size:
				e.acceptor.ReclaimParachute()
			}
		}
	}
}

// Pause sets the shared paused flag observed by the acceptor and pollers;
// it does not drop existing connections.
func (e *Endpoint) Pause() {
	e.paused.Store(true)
}

// Resume clears the paused flag.
func (e *Endpoint) Resume() {
	e.paused.Store(false)
}

// Stop clears running, unblocks the acceptor by closing its listener,
// cancels every poller's keys, and awaits the shutdown grace period
// (selectorTimeout + shutdownGrace) before shutting down the worker
// executor. Idempotent.
//
// net.Listener.Close() unblocks a concurrent Accept() call directly, so
// no self-connect trick is needed to wake a stuck acceptor.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lifecycle() != stateRunning {
		return nil
	}
	// leave running before the pollers sweep their keys, so wrappers
	// cancelled during shutdown are refused by the pools and collected
	e.state.Store(int32(stateStopped))

	e.acceptor.Shutdown()
	for _, p := range e.pollers {
		p.Shutdown()
	}
	for _, p := range e.sendfilePollers {
		p.Shutdown()
	}

	grace := e.cfg.SelectorTimeout + e.cfg.ShutdownGrace
	for _, p := range e.pollers {
		if !p.WaitClosed(grace) {
			log.Printf("endpoint: poller[%d] did not exit within grace period", p.ID())
		}
	}
	for _, p := range e.sendfilePollers {
		if !p.WaitClosed(grace) {
			log.Printf("endpoint: sendfile poller[%d] did not exit within grace period", p.ID())
		}
	}

	e.sweeper.Shutdown()
	e.sweeper.WaitClosed(grace)

	if e.watchdogStop != nil {
		close(e.watchdogStop)
		e.watchdogStop = nil
	}

	_ = e.control.Shutdown()
	e.executor.Close()

	return nil
}

// Destroy closes the listening socket, releases the TLS context, and
// clears the pools. Stops first if still running. Idempotent.
func (e *Endpoint) Destroy() error {
	e.mu.Lock()
	if e.lifecycle() == stateRunning {
		e.mu.Unlock()
		if err := e.Stop(); err != nil {
			return err
		}
		e.mu.Lock()
	}
	defer e.mu.Unlock()
	if e.lifecycle() == stateDestroyed {
		return nil
	}

	if e.acceptor != nil {
		e.acceptor.Shutdown()
	}
	if e.tlsCtx != nil {
		_ = e.tlsCtx.Close()
	}
	e.connPool = nil
	e.bufPool = nil
	e.pairPool = nil

	e.state.Store(int32(stateDestroyed))
	return nil
}

// ProcessSocketAsync is the external entry point for resuming a
// connection previously parked in StateLong, routed to the Processor
// bound to the connection's owning poller.
func (e *Endpoint) ProcessSocketAsync(conn *connpool.Connection, status api.SocketStatus) bool {
	return e.resumer.ProcessSocketAsync(conn, status)
}

// Control exposes the endpoint's runtime config/metrics/debug surface.
func (e *Endpoint) Control() api.Control { return e.control }

// Addr returns the acceptor's bound listening address.
func (e *Endpoint) Addr() net.Addr { return e.acceptor.Addr() }

func (e *Endpoint) lifecycle() lifecycleState { return lifecycleState(e.state.Load()) }

// isRunning gates pool Offers. It must stay mutex-free: pollers call it
// while cancelling keys during Stop, which holds e.mu for the whole
// grace wait.
func (e *Endpoint) isRunning() bool {
	return e.lifecycle() == stateRunning && !e.paused.Load()
}

func (e *Endpoint) keepAliveCount() int64 {
	var n int64
	for _, p := range e.pollers {
		n += p.KeepAliveCount()
	}
	return n
}

func (e *Endpoint) sendfileCount() int64 {
	if e.sendfileEngine == nil {
		return 0
	}
	return e.sendfileEngine.SendfileCount()
}

func (e *Endpoint) pollerCriticalFailures() int64 {
	var n int64
	for _, p := range e.pollers {
		n += p.CriticalFailures()
	}
	return n
}

// shutdownLoopTick returns a fixed 10ms tick; no caller in this module
// uses it.
func shutdownLoopTick() time.Duration { return 10 * time.Millisecond }

var _ asyncResumeTarget = (*worker.Processor)(nil)
var _ worker.SendfileAdder = (*sendfile.Engine)(nil)
var _ acceptor.BufferAcquirer = (*bufpool.PairPool)(nil)
var _ worker.BufferReleaser = (*bufpool.PairPool)(nil)
