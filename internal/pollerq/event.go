// File: internal/pollerq/event.go
// Package pollerq implements the PollerEvent and its queue: a deferred,
// poller-thread-applied mutation of a socket's registration.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pollerq

import (
	"github.com/momentics/nioendpoint/api"
	"github.com/momentics/nioendpoint/internal/connpool"
)

// Kind distinguishes a fresh registration from an interest-ops merge from
// an out-of-band cancellation request.
type Kind int

const (
	KindRegister Kind = iota
	KindRearm
	KindCancel
)

// Event is a deferred mutation of conn's registration, drained by the
// poller between readiness waits. Status is only meaningful for
// KindCancel events.
type Event struct {
	Conn        *connpool.Connection
	InterestOps connpool.Ops
	Kind        Kind
	Status      api.SocketStatus
	HasStatus   bool
}
