// File: sendfile/engine_test.go
package sendfile

import (
	"sync"
	"testing"

	"github.com/momentics/nioendpoint/api"
	"github.com/momentics/nioendpoint/internal/connpool"
)

type fakePrimary struct {
	mu       sync.Mutex
	rearms   int
	cancels  []api.SocketStatus
}

func (p *fakePrimary) RearmRead(conn *connpool.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rearms++
}
func (p *fakePrimary) Cancel(conn *connpool.Connection, status api.SocketStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels = append(p.cancels, status)
}

type fakeParked struct {
	parked     int
	rearmed    int
	deregistered int
}

func (p *fakeParked) ParkWrite(conn *connpool.Connection)               { p.parked++ }
func (p *fakeParked) Rearm(conn *connpool.Connection, ops connpool.Ops) { p.rearmed++ }
func (p *fakeParked) Deregister(conn *connpool.Connection)             { p.deregistered++ }

func TestAddZeroLengthCompletesSynchronouslyAndRearms(t *testing.T) {
	primary := &fakePrimary{}
	parked := &fakeParked{}
	e := New(primary, parked)

	conn := connpool.NewConnection()
	job := connpool.NewSendfileData("empty", 0, 0, 0, true)

	done := e.Add(conn, job)

	if !done {
		t.Fatal("expected zero-length sendfile to complete synchronously")
	}
	if primary.rearms != 1 {
		t.Fatalf("expected one RearmRead for keepAlive completion, got %d", primary.rearms)
	}
	if conn.SendfileJob.Load() != nil {
		t.Fatal("expected SendfileJob cleared after completion")
	}
	if e.SendfileCount() != 1 {
		t.Fatalf("expected sendfileCount=1, got %d", e.SendfileCount())
	}
}

func TestAddZeroLengthWithoutKeepAliveCancels(t *testing.T) {
	primary := &fakePrimary{}
	e := New(primary, &fakeParked{})

	conn := connpool.NewConnection()
	job := connpool.NewSendfileData("empty", 0, 0, 0, false)

	e.Add(conn, job)

	if len(primary.cancels) != 1 || primary.cancels[0] != api.StatusStop {
		t.Fatalf("expected Cancel(StatusStop) when keepAlive=false, got %v", primary.cancels)
	}
}

func TestAddBadDescriptorCancelsWithError(t *testing.T) {
	primary := &fakePrimary{}
	e := New(primary, &fakeParked{})

	conn := connpool.NewConnection()
	conn.RawFD = ^uintptr(0) // deliberately invalid
	job := connpool.NewSendfileData("bad", ^uintptr(0), 0, 16, true)

	done := e.Add(conn, job)

	if done {
		t.Fatal("expected sendfile on an invalid descriptor to fail, not complete")
	}
	if len(primary.cancels) != 1 || primary.cancels[0] != api.StatusError {
		t.Fatalf("expected Cancel(StatusError) on sendfile I/O failure, got %v", primary.cancels)
	}
	if conn.SendfileJob.Load() != nil {
		t.Fatal("expected SendfileJob cleared after failed sendfile")
	}
}

func TestDispatchWithNoAttachedJobIsNoop(t *testing.T) {
	e := New(&fakePrimary{}, &fakeParked{})
	conn := connpool.NewConnection()

	if err := e.Dispatch(conn); err != nil {
		t.Fatalf("expected no error dispatching a connection with no job, got %v", err)
	}
}

var _ PrimaryControl = (*fakePrimary)(nil)
var _ ParkedRegistrar = (*fakeParked)(nil)
