// File: api/shutdown.go
// Package api defines the unified graceful-shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is satisfied by any component with an idempotent,
// blocking teardown path.
type GracefulShutdown interface {
	// Shutdown stops the component and releases its resources. Must be
	// safe to call more than once.
	Shutdown() error
}
