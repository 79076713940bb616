// File: worker/processor_test.go
package worker

import (
	"sync"
	"testing"

	"github.com/momentics/nioendpoint/api"
	"github.com/momentics/nioendpoint/internal/connpool"
)

// fakeExecutor runs submitted tasks synchronously on the calling
// goroutine, keeping these tests deterministic.
type fakeExecutor struct {
	mu      sync.Mutex
	reject  bool
	submits int
}

func (e *fakeExecutor) Submit(task func()) error {
	e.mu.Lock()
	e.submits++
	reject := e.reject
	e.mu.Unlock()
	if reject {
		return api.NewError(api.ErrWorkerRejected, "rejected", nil)
	}
	task()
	return nil
}
func (e *fakeExecutor) NumWorkers() int { return 1 }
func (e *fakeExecutor) Close()          {}

type fakeHandler struct {
	mu          sync.Mutex
	processRet  api.SocketState
	eventRet    api.SocketState
	asyncRet    api.SocketState
	processN    int
	eventCalls  []api.SocketStatus
	asyncCalls  []api.SocketStatus
	releaseN    int
}

func (h *fakeHandler) Process(conn api.SocketConn) api.SocketState {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processN++
	return h.processRet
}
func (h *fakeHandler) Event(conn api.SocketConn, status api.SocketStatus) api.SocketState {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.eventCalls = append(h.eventCalls, status)
	return h.eventRet
}
func (h *fakeHandler) AsyncDispatch(conn api.SocketConn, status api.SocketStatus) api.SocketState {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.asyncCalls = append(h.asyncCalls, status)
	return h.asyncRet
}
func (h *fakeHandler) Release(conn api.SocketConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releaseN++
}

type fakeCtl struct {
	mu          sync.Mutex
	rearmReads  int
	rearms      []connpool.Ops
	cancels     []api.SocketStatus
}

func (c *fakeCtl) RearmRead(conn *connpool.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rearmReads++
}
func (c *fakeCtl) Rearm(conn *connpool.Connection, ops connpool.Ops) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rearms = append(c.rearms, ops)
}
func (c *fakeCtl) Cancel(conn *connpool.Connection, status api.SocketStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels = append(c.cancels, status)
}

func TestRunProcessOpenRearmsRead(t *testing.T) {
	h := &fakeHandler{processRet: api.StateOpen}
	ex := &fakeExecutor{}
	ctl := &fakeCtl{}
	p := NewProcessor(h, ex, ctl, NewWaitingSet(), nil)

	conn := connpool.NewConnection()
	p.runProcess(conn)

	if h.processN != 1 {
		t.Fatalf("expected Process called once, got %d", h.processN)
	}
	if ctl.rearmReads != 1 {
		t.Fatalf("expected one RearmRead, got %d", ctl.rearmReads)
	}
	if conn.IsCancelled() {
		t.Fatal("connection should not be cancelled on StateOpen")
	}
}

func TestRunProcessClosedCancels(t *testing.T) {
	h := &fakeHandler{processRet: api.StateClosed}
	ex := &fakeExecutor{}
	ctl := &fakeCtl{}
	p := NewProcessor(h, ex, ctl, NewWaitingSet(), nil)

	conn := connpool.NewConnection()
	p.runProcess(conn)

	if len(ctl.cancels) != 1 || ctl.cancels[0] != api.StatusStop {
		t.Fatalf("expected one Cancel(StatusStop), got %v", ctl.cancels)
	}
}

func TestRunProcessLongParksInWaitingSet(t *testing.T) {
	h := &fakeHandler{processRet: api.StateLong}
	ex := &fakeExecutor{}
	ctl := &fakeCtl{}
	ws := NewWaitingSet()
	p := NewProcessor(h, ex, ctl, ws, nil)

	conn := connpool.NewConnection()
	conn.Slot = 7
	p.runProcess(conn)

	if ws.Len() != 1 {
		t.Fatalf("expected connection parked in waiting set, got len=%d", ws.Len())
	}
	if ctl.rearmReads != 0 || len(ctl.cancels) != 0 {
		t.Fatal("StateLong must not re-arm or cancel")
	}
}

func TestProcessSocketAsyncPreventsDoubleDispatch(t *testing.T) {
	h := &fakeHandler{asyncRet: api.StateClosed}
	ex := &fakeExecutor{}
	ctl := &fakeCtl{}
	ws := NewWaitingSet()
	p := NewProcessor(h, ex, ctl, ws, nil)

	conn := connpool.NewConnection()
	conn.Slot = 3
	ws.Add(conn)

	var wg sync.WaitGroup
	var wins int32
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.ProcessSocketAsync(conn, api.StatusOpen) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winning ProcessSocketAsync call, got %d", wins)
	}
	h.mu.Lock()
	n := len(h.asyncCalls)
	h.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected handler AsyncDispatch invoked exactly once, got %d", n)
	}
}

type fakeSendfile struct {
	mu   sync.Mutex
	adds int
}

func (f *fakeSendfile) Add(conn *connpool.Connection, job *connpool.SendfileData) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds++
	return true
}

func TestRunProcessOpenWithAttachedJobRoutesToSendfile(t *testing.T) {
	h := &fakeHandler{processRet: api.StateOpen}
	ex := &fakeExecutor{}
	ctl := &fakeCtl{}
	p := NewProcessor(h, ex, ctl, NewWaitingSet(), nil)
	sf := &fakeSendfile{}
	p.SetSendfile(sf)

	conn := connpool.NewConnection()
	conn.AttachSendfile("payload.bin", 3, 0, 1024, true)
	p.runProcess(conn)

	if sf.adds != 1 {
		t.Fatalf("expected attached job handed to the sendfile engine once, got %d", sf.adds)
	}
	if ctl.rearmReads != 0 {
		t.Fatal("the engine owns re-arming after a sendfile hand-off, not the processor")
	}
}

func TestRunProcessOpenCometRearmsRequestedInterest(t *testing.T) {
	h := &fakeHandler{processRet: api.StateOpen}
	ex := &fakeExecutor{}
	ctl := &fakeCtl{}
	p := NewProcessor(h, ex, ctl, NewWaitingSet(), nil)

	conn := connpool.NewConnection()
	conn.SetComet(true)
	conn.CometInterest(false, true)
	p.runProcess(conn)

	if ctl.rearmReads != 0 {
		t.Fatal("comet StateOpen must use the requested interest, not plain RearmRead")
	}
	if len(ctl.rearms) != 1 || ctl.rearms[0] != connpool.Write {
		t.Fatalf("expected one Rearm(Write) from cometOps, got %v", ctl.rearms)
	}
}

func TestStateLongSetsAsyncFlag(t *testing.T) {
	h := &fakeHandler{processRet: api.StateLong}
	ex := &fakeExecutor{}
	p := NewProcessor(h, ex, &fakeCtl{}, NewWaitingSet(), nil)

	conn := connpool.NewConnection()
	p.runProcess(conn)

	if !conn.Async.Load() {
		t.Fatal("expected async flag set while parked in StateLong")
	}
}

func TestRunProcessHandshakeNeedsIO(t *testing.T) {
	h := &fakeHandler{processRet: api.StateOpen}
	ex := &fakeExecutor{}
	ctl := &fakeCtl{}
	p := NewProcessor(h, ex, ctl, NewWaitingSet(), nil)

	conn := connpool.NewConnection()
	conn.TLS = &fakeTLSEngine{result: 2} // needs write

	p.runProcess(conn)

	if h.processN != 0 {
		t.Fatal("Process must not run until handshake completes")
	}
	if len(ctl.rearms) != 1 || ctl.rearms[0] != connpool.Write {
		t.Fatalf("expected one Rearm(Write), got %v", ctl.rearms)
	}
}

func TestRunProcessHandshakeFailsCancelsDisconnect(t *testing.T) {
	h := &fakeHandler{}
	ex := &fakeExecutor{}
	ctl := &fakeCtl{}
	p := NewProcessor(h, ex, ctl, NewWaitingSet(), nil)

	conn := connpool.NewConnection()
	conn.TLS = &fakeTLSEngine{result: -1}

	p.runProcess(conn)

	if len(ctl.cancels) != 1 || ctl.cancels[0] != api.StatusDisconnect {
		t.Fatalf("expected Cancel(StatusDisconnect) on handshake failure, got %v", ctl.cancels)
	}
}

type fakeTLSEngine struct{ result int }

func (f *fakeTLSEngine) Handshake(readable, writable bool) int { return f.result }
func (f *fakeTLSEngine) Wrap(src, dst []byte) (int, int, api.TLSStatus) {
	return 0, 0, api.TLSOk
}
func (f *fakeTLSEngine) Unwrap(src, dst []byte) (int, int, api.TLSStatus) {
	return 0, 0, api.TLSOk
}
func (f *fakeTLSEngine) Close() error { return nil }

var _ api.TLSEngine = (*fakeTLSEngine)(nil)
var _ SendfileAdder = (*fakeSendfile)(nil)
var _ api.Handler = (*fakeHandler)(nil)
var _ api.Executor = (*fakeExecutor)(nil)
var _ PollerControl = (*fakeCtl)(nil)
