// File: acceptor/acceptor.go
// Package acceptor implements the blocking accept loop: one or more
// goroutines accepting connections, applying socket options, and handing
// the result to a poller via round-robin dispatch.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package acceptor

import (
	"log"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/nioendpoint/api"
	"github.com/momentics/nioendpoint/internal/connpool"
	"github.com/momentics/nioendpoint/poller"
)

var _ PollerTarget = (*poller.Poller)(nil)

// PollerTarget is one poller an acceptor can hand a freshly accepted
// Connection to.
type PollerTarget interface {
	Register(conn *connpool.Connection)
}

// BufferAcquirer hands out the read/write buffer pair a freshly accepted
// Connection reads and writes through for its lifetime, and reclaims it
// if setup fails before the Connection reaches a poller. Satisfied by
// *bufpool.PairPool.
type BufferAcquirer interface {
	Acquire() (read, write api.Buffer)
	Release(read, write api.Buffer)
}

// Acceptor owns one listening socket and one or more accept-loop
// goroutines distributing new connections round-robin across pollers.
type Acceptor struct {
	ln       *net.TCPListener
	cfg      *api.Config
	pool     *connpool.Pool
	pollers  []PollerTarget
	tlsCtx   api.TLSContext
	bufs     BufferAcquirer
	nextPoller atomic.Uint64

	paused  *atomic.Bool
	closing atomic.Bool

	acceptFails atomic.Int64

	oomParachute []byte
	parachuteMu  chan struct{} // 1-buffered channel used as a non-blocking mutex for the parachute
}

// New constructs an Acceptor listening on cfg.Address:cfg.Port. bufs may be
// nil, in which case accepted connections get no pooled read/write buffers
// (e.g. a handler that only ever uses conn.Read/Write directly).
func New(cfg *api.Config, pool *connpool.Pool, pollers []PollerTarget, tlsCtx api.TLSContext, bufs BufferAcquirer, paused *atomic.Bool) (*Acceptor, error) {
	addr := &net.TCPAddr{IP: net.ParseIP(cfg.Address), Port: cfg.Port}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, api.NewError(api.ErrAcceptFail, "listen failed", err)
	}
	a := &Acceptor{
		ln:      ln,
		cfg:     cfg,
		pool:    pool,
		pollers: pollers,
		tlsCtx:  tlsCtx,
		bufs:    bufs,
		paused:  paused,
	}
	if cfg.OOMParachuteBytes > 0 {
		a.oomParachute = make([]byte, cfg.OOMParachuteBytes)
		a.parachuteMu = make(chan struct{}, 1)
		a.parachuteMu <- struct{}{}
	}
	if err := a.setListenerOptions(); err != nil {
		log.Printf("acceptor: listener option setup failed: %v", err)
	}
	return a, nil
}

func (a *Acceptor) setListenerOptions() error {
	raw, err := a.ln.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if a.cfg.DeferAccept {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, 1)
		}
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}

// Run executes one accept loop; launch N of these as goroutines for
// cfg.AcceptorThreadCount > 1.
func (a *Acceptor) Run() {
	for {
		if a.closing.Load() {
			return
		}
		if a.paused.Load() {
			time.Sleep(time.Second)
			continue
		}

		conn, err := a.ln.Accept()
		if err != nil {
			if a.closing.Load() {
				return
			}
			a.acceptFails.Add(1)
			log.Printf("acceptor: accept failed: %v", err)
			continue
		}

		if a.paused.Load() {
			_ = conn.Close() // deferAccept-with-paused: drop without handler invocation
			continue
		}

		a.handleAccepted(conn)
	}
}

func (a *Acceptor) handleAccepted(netConn net.Conn) {
	tcpConn, ok := netConn.(*net.TCPConn)
	if !ok {
		_ = netConn.Close()
		return
	}
	if err := a.setSocketOptions(tcpConn); err != nil {
		log.Printf("acceptor: setSocketOptions failed, closing: %v", err)
		_ = netConn.Close()
		return
	}

	rawFD, err := rawFD(tcpConn)
	if err != nil {
		log.Printf("acceptor: could not extract raw fd: %v", err)
		_ = netConn.Close()
		return
	}

	c := a.pool.Poll()
	c.Conn = netConn
	c.RawFD = rawFD
	c.KeepAlivesRemaining = int32(a.cfg.MaxKeepAliveRequests)
	c.SetTimeout(-1)

	if a.bufs != nil {
		c.ReadBuf, c.WriteBuf = a.bufs.Acquire()
	}

	if a.cfg.SSLEnabled && a.tlsCtx != nil {
		engine, err := a.tlsCtx.NewEngine(netConn)
		if err != nil {
			log.Printf("acceptor: TLS engine creation failed: %v", err)
			_ = netConn.Close()
			if a.bufs != nil {
				a.bufs.Release(c.ReadBuf, c.WriteBuf)
			}
			a.pool.Offer(c)
			return
		}
		c.TLS = engine
	}

	target := a.pollers[a.nextPoller.Add(1)%uint64(len(a.pollers))]
	target.Register(c)
}

// ReleaseParachute drops the pre-allocated OOM slab. Go's allocator gives
// no recoverable OOM signal, so this is exposed for the endpoint's memory
// watchdog rather than triggered from a panic/recover here.
func (a *Acceptor) ReleaseParachute() {
	if a.parachuteMu == nil {
		return
	}
	select {
	case <-a.parachuteMu:
		a.oomParachute = nil
		log.Printf("acceptor: OOM parachute released")
	default:
	}
}

// ReclaimParachute reinstates the slab once the watchdog observes free
// memory back above 2x its configured size.
func (a *Acceptor) ReclaimParachute() {
	if a.parachuteMu == nil || a.cfg.OOMParachuteBytes <= 0 {
		return
	}
	select {
	case a.parachuteMu <- struct{}{}:
		a.oomParachute = make([]byte, a.cfg.OOMParachuteBytes)
	default:
	}
}

// setSocketOptions applies nonblocking mode and the configured TCP
// options to a freshly accepted connection.
func (a *Acceptor) setSocketOptions(tcpConn *net.TCPConn) error {
	if err := tcpConn.SetNoDelay(a.cfg.TCPNoDelay); err != nil {
		return err
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return err
	}
	if a.cfg.SoLingerOn {
		if err := tcpConn.SetLinger(int(a.cfg.SoLingerTime / time.Second)); err != nil {
			return err
		}
	}
	raw, err := tcpConn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = unix.SetNonblock(int(fd), true)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}

func rawFD(tcpConn *net.TCPConn) (uintptr, error) {
	raw, err := tcpConn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd uintptr
	ctrlErr := raw.Control(func(f uintptr) { fd = f })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

// Shutdown stops the accept loop and unblocks any in-progress Accept call
// by closing the listener.
func (a *Acceptor) Shutdown() {
	a.closing.Store(true)
	_ = a.ln.Close()
}

// AcceptFailures reports the count of accept(2) errors observed.
func (a *Acceptor) AcceptFailures() int64 { return a.acceptFails.Load() }

// Addr returns the listener's bound address, useful when cfg.Port is 0
// and the OS assigned an ephemeral port.
func (a *Acceptor) Addr() net.Addr { return a.ln.Addr() }
