// File: endpoint/options.go
// Package endpoint: functional options for Init.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package endpoint

import "github.com/momentics/nioendpoint/api"

// Option customizes the Config passed to Init before any component is
// constructed.
type Option func(*api.Config)

// WithAddress overrides the listen address and port.
func WithAddress(address string, port int) Option {
	return func(cfg *api.Config) {
		cfg.Address = address
		cfg.Port = port
	}
}

// WithPollerThreads overrides the number of primary poller threads; 0
// keeps the runtime.NumCPU() default resolved at Init.
func WithPollerThreads(n int) Option {
	return func(cfg *api.Config) { cfg.PollerThreadCount = n }
}

// WithSendfile toggles the dedicated sendfile poller pool and sizes it.
func WithSendfile(enabled bool, threads int) Option {
	return func(cfg *api.Config) {
		cfg.UseSendfile = enabled
		cfg.SendfileThreadCount = threads
	}
}

// WithTLS enables TLS termination using the given material.
func WithTLS(tls api.TLSConfig) Option {
	return func(cfg *api.Config) {
		cfg.SSLEnabled = true
		cfg.TLS = tls
	}
}

// InitWithOptions applies opts over api.DefaultConfig() (or base, if
// non-nil) and calls Init.
func InitWithOptions(base *api.Config, handler api.Handler, opts ...Option) (*Endpoint, error) {
	cfg := base
	if cfg == nil {
		cfg = api.DefaultConfig()
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return Init(cfg, handler)
}
