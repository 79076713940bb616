// File: internal/connpool/connection_test.go
package connpool

import (
	"testing"
	"time"
)

func TestTryOwnIsExclusive(t *testing.T) {
	c := NewConnection()
	if !c.TryOwn() {
		t.Fatal("expected first TryOwn to succeed on an idle connection")
	}
	if c.TryOwn() {
		t.Fatal("expected second TryOwn to fail while already owned")
	}
	c.Release()
	if !c.TryOwn() {
		t.Fatal("expected TryOwn to succeed again after Release")
	}
}

func TestCancelIsIdempotentAndTerminal(t *testing.T) {
	c := NewConnection()
	if !c.Cancel() {
		t.Fatal("expected first Cancel to report a real transition")
	}
	if c.Cancel() {
		t.Fatal("expected second Cancel to report no transition")
	}
	if !c.IsCancelled() {
		t.Fatal("expected IsCancelled true after Cancel")
	}
	if c.TryOwn() {
		t.Fatal("expected TryOwn to fail permanently once cancelled")
	}
}

func TestOpsMergeAndClear(t *testing.T) {
	c := NewConnection()
	c.SetOps(Read)
	if got := c.MergeOps(Write); got != Read|Write {
		t.Fatalf("expected merged ops Read|Write, got %v", got)
	}
	if prev := c.ClearOps(); prev != Read|Write {
		t.Fatalf("expected ClearOps to return prior mask, got %v", prev)
	}
	if c.Ops() != 0 {
		t.Fatalf("expected ops cleared, got %v", c.Ops())
	}
}

func TestClearReadyOpsOnlyClearsGivenBits(t *testing.T) {
	c := NewConnection()
	c.SetOps(Read | Write)
	remaining := c.ClearReadyOps(Read)
	if remaining != Write {
		t.Fatalf("expected Write to remain after clearing Read, got %v", remaining)
	}
}

func TestIdleForReflectsTouchLastAccess(t *testing.T) {
	c := NewConnection()
	c.TouchLastAccess()
	time.Sleep(5 * time.Millisecond)
	if d := c.IdleFor(time.Now()); d <= 0 {
		t.Fatalf("expected positive idle duration, got %v", d)
	}
}

func TestResetRestoresPristineState(t *testing.T) {
	c := NewConnection()
	c.SetOps(Read)
	c.Async.Store(true)
	c.KeepAlivesRemaining = 5
	c.TryOwn()

	c.reset()

	if c.Ops() != 0 {
		t.Fatal("expected ops cleared by reset")
	}
	if c.Async.Load() {
		t.Fatal("expected Async cleared by reset")
	}
	if c.KeepAlivesRemaining != 0 {
		t.Fatal("expected KeepAlivesRemaining cleared by reset")
	}
	if c.IsCancelled() {
		t.Fatal("reset should not mark the connection cancelled")
	}
	if !c.TryOwn() {
		t.Fatal("expected connection idle (ownable) after reset")
	}
}
