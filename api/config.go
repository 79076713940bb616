// File: api/config.go
// Package api defines the recognized configuration surface for the
// endpoint, shared by endpoint/acceptor/poller/sendfile.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "time"

// TLSVerifyMode controls client-certificate verification policy.
type TLSVerifyMode int

const (
	VerifyNone TLSVerifyMode = iota
	VerifyOptional
	VerifyRequire
	VerifyOptionalNoCA
)

// TLSConfig holds the TLS material and policy recognized by the endpoint
// when SSLEnabled is set.
type TLSConfig struct {
	CertificateFile string
	KeyFile         string
	ChainFile       string
	CAFile          string
	RevocationFile  string
	CipherSuites    []string
	Protocols       []string
	VerifyMode      TLSVerifyMode
	VerifyDepth     int
}

// Config is the full recognized configuration surface of the endpoint.
type Config struct {
	Address string
	Port    int
	Backlog int

	AcceptorThreadCount int
	PollerThreadCount   int
	// PollerSize is the max sockets per poller (8192 when <= 0), degrading
	// to 1024 then to 62 on registration failure. It is not checked
	// against the OS descriptor limit.
	PollerSize int

	SendfileSize        int
	SendfileThreadCount int
	UseSendfile         bool

	KeepAliveTimeout    time.Duration
	SoTimeout           time.Duration
	TimeoutInterval     time.Duration
	SelectorTimeout     time.Duration
	PollTimeMicros      int64
	MaxKeepAliveRequests int

	TCPNoDelay   bool
	SoLingerOn   bool
	SoLingerTime time.Duration
	DeferAccept  bool

	UseComet bool

	SSLEnabled bool
	TLS        TLSConfig

	// ShutdownGrace bounds how long Stop waits past SelectorTimeout for
	// poller threads to exit before giving up.
	ShutdownGrace time.Duration

	// OOMParachuteBytes sizes the pre-allocated slab released on
	// allocation failure; 0 disables the parachute.
	OOMParachuteBytes int

	// BufferPoolMaxBytes caps total bytes held by the buffer pool; 0
	// means unbounded.
	BufferPoolMaxBytes int64
	// BufferSize is the size of the read/write buffer pair the acceptor
	// draws from the pool for every accepted Connection.
	BufferSize int
	// ConnectionPoolMax caps the number of pooled Connection wrappers;
	// -1 means unbounded.
	ConnectionPoolMax int
	// EventPoolMax is accepted but not read by any component: PollerEvents
	// are not pooled.
	EventPoolMax int
}

// DefaultConfig returns sensible defaults mirroring common NIO endpoint
// defaults: unbounded pools, short timeouts, no TLS.
func DefaultConfig() *Config {
	return &Config{
		Address: "0.0.0.0",
		Port:    8080,
		Backlog: 256,

		AcceptorThreadCount: 1,
		PollerThreadCount:   0, // 0 => runtime.NumCPU() at Init
		PollerSize:          8192,

		SendfileSize:        48 * 1024,
		SendfileThreadCount: 1,
		UseSendfile:         true,

		KeepAliveTimeout:     60 * time.Second,
		SoTimeout:            20 * time.Second,
		TimeoutInterval:      1 * time.Second,
		SelectorTimeout:      1 * time.Second,
		PollTimeMicros:       0,
		MaxKeepAliveRequests: 100,

		TCPNoDelay:   true,
		SoLingerOn:   false,
		SoLingerTime: 0,
		DeferAccept:  false,

		UseComet: false,

		SSLEnabled: false,

		ShutdownGrace:      100 * time.Millisecond,
		OOMParachuteBytes:  1 << 20,
		BufferPoolMaxBytes: 0,
		ConnectionPoolMax:  -1,
		EventPoolMax:       -1,
	}
}
