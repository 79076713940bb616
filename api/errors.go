// Package api
// Author: momentics <momentics@gmail.com>
//
// Error kinds and structured error type shared across the endpoint core.

package api

import "fmt"

// ErrorKind enumerates the local error categories from the endpoint's
// error-handling design: each kind carries its own recovery policy,
// applied at the call site named in parentheses.
type ErrorKind int

const (
	// ErrAcceptFail is triggered by an accept(2) failure (acceptor):
	// log and continue unless the endpoint is shutting down.
	ErrAcceptFail ErrorKind = iota
	// ErrHandshakeFail is triggered by TLS handshake failure (worker):
	// close the connection, no retry.
	ErrHandshakeFail
	// ErrPollFailTransient is an interrupted/timed-out poll wait (poller):
	// ignored.
	ErrPollFailTransient
	// ErrPollFailCritical is an unrecoverable readiness-queue error
	// (poller): rebuild the readiness queue, cancel its keys.
	ErrPollFailCritical
	// ErrWorkerRejected is an executor refusal (worker dispatch):
	// close the connection.
	ErrWorkerRejected
	// ErrOOM is raised by any thread on allocation failure: release the
	// parachute, clear pool caches, log, continue.
	ErrOOM
	// ErrTimeoutReadWrite is a keep-alive sweep timeout (poller): cancel
	// with StatusTimeout, delivered to the handler if in comet mode.
	ErrTimeoutReadWrite
	// ErrTimeoutAsync is an async-park timeout (sweeper): dispatch
	// StatusTimeout to the handler via the async path.
	ErrTimeoutAsync
	// ErrSendfileIO is a kernel sendfile(2) error (sendfile engine):
	// cancel the connection, close the file descriptor.
	ErrSendfileIO
)

func (k ErrorKind) String() string {
	switch k {
	case ErrAcceptFail:
		return "accept_fail"
	case ErrHandshakeFail:
		return "handshake_fail"
	case ErrPollFailTransient:
		return "poll_fail_transient"
	case ErrPollFailCritical:
		return "poll_fail_critical"
	case ErrWorkerRejected:
		return "worker_rejected"
	case ErrOOM:
		return "oom"
	case ErrTimeoutReadWrite:
		return "timeout_read_write"
	case ErrTimeoutAsync:
		return "timeout_async"
	case ErrSendfileIO:
		return "sendfile_io"
	default:
		return "unknown"
	}
}

// EndpointError is a structured error carrying its kind and an optional
// wrapped cause, used throughout acceptor/poller/worker/sendfile/endpoint.
type EndpointError struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

func (e *EndpointError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *EndpointError) Unwrap() error { return e.Cause }

// NewError builds an EndpointError of the given kind.
func NewError(kind ErrorKind, msg string, cause error) *EndpointError {
	return &EndpointError{Kind: kind, Msg: msg, Cause: cause}
}

// Sentinel errors for conditions that are not endpoint-specific error
// kinds but are checked by callers directly.
var (
	ErrPoolClosed      = fmt.Errorf("pool: endpoint not running")
	ErrPoolCapExceeded = fmt.Errorf("pool: capacity exceeded")
	ErrAlreadyRunning  = fmt.Errorf("endpoint: already running")
	ErrNotRunning      = fmt.Errorf("endpoint: not running")
	ErrCancelled       = fmt.Errorf("connection: already cancelled")
)
