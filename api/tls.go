// File: api/tls.go
// Package api defines the minimal TLS engine contract consumed by the
// worker's handshake loop. Cryptographic primitives are entirely the
// engine's concern; the endpoint only drives handshake/wrap/unwrap.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "net"

// TLSStatus is returned by Wrap/Unwrap to describe what the caller should
// do next.
type TLSStatus int

const (
	TLSOk TLSStatus = iota
	TLSNeedRead
	TLSNeedWrite
	TLSClosed
)

// TLSEngine wraps a single connection's TLS state. Handshake is driven by
// the worker; Wrap/Unwrap by application-level I/O above the socket.
type TLSEngine interface {
	// Handshake advances the handshake given current readability/writability.
	// Returns 0 on success, -1 on unrecoverable failure, or a positive
	// bitmask of the directions the caller must wait on (1 = read,
	// 2 = write) before calling Handshake again.
	Handshake(readable, writable bool) int

	// Wrap encrypts plaintext from src into dst, returning bytes consumed
	// from src, bytes produced into dst, and a status.
	Wrap(src, dst []byte) (consumed, produced int, status TLSStatus)

	// Unwrap decrypts ciphertext from src into dst, returning bytes
	// consumed from src, bytes produced into dst, and a status.
	Unwrap(src, dst []byte) (consumed, produced int, status TLSStatus)

	// Close releases any engine-owned resources (session state, buffers).
	Close() error
}

// TLSContext constructs TLSEngine instances for accepted connections and
// holds immutable, process-wide TLS material once initialized.
type TLSContext interface {
	// NewEngine returns a server-side TLSEngine bound to the given raw
	// connection, ready to drive a handshake via TLSEngine.Handshake.
	NewEngine(conn net.Conn) (TLSEngine, error)
	// Close releases the context (certificates, CA pools, revocation data).
	Close() error
}
