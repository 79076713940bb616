// File: acceptor/acceptor_test.go
package acceptor

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/nioendpoint/api"
	"github.com/momentics/nioendpoint/internal/connpool"
)

type fakePollerTarget struct {
	mu        sync.Mutex
	registered []*connpool.Connection
}

func (f *fakePollerTarget) Register(conn *connpool.Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, conn)
}

func (f *fakePollerTarget) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registered)
}

type fakeBuffer struct{ released bool }

func (b *fakeBuffer) Bytes() []byte               { return nil }
func (b *fakeBuffer) Slice(from, to int) api.Buffer { return b }
func (b *fakeBuffer) Release()                    { b.released = true }

type fakeBufs struct {
	mu        sync.Mutex
	acquired  int
	released  int
}

func (f *fakeBufs) Acquire() (read, write api.Buffer) {
	f.mu.Lock()
	f.acquired++
	f.mu.Unlock()
	return &fakeBuffer{}, &fakeBuffer{}
}

func (f *fakeBufs) Release(read, write api.Buffer) {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
}

func newTestAcceptor(t *testing.T) (*Acceptor, *fakePollerTarget, *atomic.Bool) {
	t.Helper()
	a, target, paused, _ := newTestAcceptorWithBufs(t)
	return a, target, paused
}

func newTestAcceptorWithBufs(t *testing.T) (*Acceptor, *fakePollerTarget, *atomic.Bool, *fakeBufs) {
	t.Helper()
	cfg := api.DefaultConfig()
	cfg.Address = "127.0.0.1"
	cfg.Port = 0 // let the OS pick a free port
	pool := connpool.NewPool(-1, func() bool { return true })
	target := &fakePollerTarget{}
	paused := &atomic.Bool{}
	bufs := &fakeBufs{}
	a, err := New(cfg, pool, []PollerTarget{target}, nil, bufs, paused)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, target, paused, bufs
}

func TestAcceptorRegistersAcceptedConnection(t *testing.T) {
	a, target, _ := newTestAcceptor(t)
	defer a.Shutdown()
	go a.Run()

	conn, err := net.Dial("tcp", a.ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if target.count() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected one connection registered with the poller target")
}

func TestAcceptorAcquiresBufferPairOnAccept(t *testing.T) {
	a, target, _, bufs := newTestAcceptorWithBufs(t)
	defer a.Shutdown()
	go a.Run()

	conn, err := net.Dial("tcp", a.ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if target.count() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.registered) != 1 {
		t.Fatal("expected one connection registered with the poller target")
	}
	c := target.registered[0]
	if c.ReadBuf == nil || c.WriteBuf == nil {
		t.Fatal("expected ReadBuf/WriteBuf populated from the pool on accept")
	}

	bufs.mu.Lock()
	defer bufs.mu.Unlock()
	if bufs.acquired != 1 {
		t.Fatalf("expected exactly one Acquire call, got %d", bufs.acquired)
	}
}

func TestAcceptorPausedDropsAcceptedSocket(t *testing.T) {
	a, target, paused := newTestAcceptor(t)
	defer a.Shutdown()
	paused.Store(true)
	go a.Run()

	conn, err := net.Dial("tcp", a.ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	if target.count() != 0 {
		t.Fatalf("expected no registration while paused, got %d", target.count())
	}
}

func TestShutdownUnblocksAcceptLoop(t *testing.T) {
	a, _, _ := newTestAcceptor(t)
	done := make(chan struct{})
	go func() {
		a.Run()
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	a.Shutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return promptly after Shutdown")
	}
}

func TestParachuteReleaseAndReclaim(t *testing.T) {
	a, _, _ := newTestAcceptor(t)
	defer a.Shutdown()

	if a.oomParachute == nil {
		t.Fatal("expected parachute to be allocated by default config")
	}
	a.ReleaseParachute()
	if a.oomParachute != nil {
		t.Fatal("expected parachute cleared after ReleaseParachute")
	}
	a.ReclaimParachute()
	if a.oomParachute == nil {
		t.Fatal("expected parachute reinstated after ReclaimParachute")
	}
}
