// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral OS readiness-queue abstraction. Each Poller (package
// poller) owns exactly one Reactor instance; all mutation of a
// registration happens through Register/Modify/Unregister, which the
// poller only ever calls from its own loop goroutine or from a drained
// PollerEvent — never directly from a worker thread.

package reactor

// Ops is the interest-ops bitset understood by the OS readiness queue.
type Ops uint32

const (
	Read Ops = 1 << iota
	Write
	Err
)

// Event is one readiness notification returned by Wait.
type Event struct {
	UserData uint64 // opaque value supplied at Register/Modify, usually a connpool arena slot
	Ready    Ops
}

// Reactor multiplexes readiness across registered file descriptors.
type Reactor interface {
	// Register adds fd to the readiness set with the given initial
	// interest and opaque userData (single-writer: the poller's own
	// goroutine, or a drained PollerEvent).
	Register(fd uintptr, userData uint64, ops Ops) error

	// Modify replaces fd's interest mask with ops. userData is re-supplied
	// because the OS replaces the registration's attachment along with the
	// mask.
	Modify(fd uintptr, userData uint64, ops Ops) error

	// Unregister removes fd from the readiness set. Idempotent: calling
	// it twice, or on an fd never registered, must not error.
	Unregister(fd uintptr) error

	// Wait blocks up to timeoutMs (or indefinitely if timeoutMs < 0) and
	// returns ready events. A transient interruption returns (nil, nil).
	Wait(timeoutMs int) ([]Event, error)

	// Wakeup interrupts a concurrent Wait call early, used to apply
	// newly queued PollerEvents without waiting out the full timeout.
	Wakeup() error

	// Close releases the underlying OS readiness queue.
	Close() error
}
