// File: internal/tlsengine/tlsengine.go
// Package tlsengine adapts crypto/tls to the api.TLSEngine/api.TLSContext
// contracts for optional TLS termination.
//
// The api.TLSEngine contract allows a non-blocking engine driven by
// repeated Handshake(readable, writable) calls. Each SocketProcessor task
// already runs on its own goroutine (internal/concurrency.Executor), so
// this implementation lets crypto/tls.Conn.Handshake block that goroutine
// directly instead of hand-rolling a non-blocking record-layer state
// machine: the reactor thread is never touched, only the worker goroutine
// parks in the runtime netpoller.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tlsengine

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"

	"github.com/momentics/nioendpoint/api"
)

// Context holds process-wide TLS material built from api.TLSConfig.
type Context struct {
	tlsCfg *tls.Config
}

// NewContext loads the certificate chain and, if configured, the client
// CA pool, building a Context ready to mint per-connection Engines.
func NewContext(cfg api.TLSConfig) (*Context, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertificateFile, cfg.KeyFile)
	if err != nil {
		return nil, api.NewError(api.ErrHandshakeFail, "loading certificate/key", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	switch cfg.VerifyMode {
	case api.VerifyOptional, api.VerifyOptionalNoCA:
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	case api.VerifyRequire:
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	default:
		tlsCfg.ClientAuth = tls.NoClientCert
	}

	if cfg.CAFile != "" {
		pool := x509.NewCertPool()
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, api.NewError(api.ErrHandshakeFail, "reading CA file", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, api.NewError(api.ErrHandshakeFail, "parsing CA file", nil)
		}
		tlsCfg.ClientCAs = pool
	}

	if len(cfg.CipherSuites) > 0 {
		tlsCfg.CipherSuites = cipherIDs(cfg.CipherSuites)
	}

	return &Context{tlsCfg: tlsCfg}, nil
}

// NewEngine implements api.TLSContext, binding a fresh server-side
// tls.Conn to the accepted connection.
func (c *Context) NewEngine(conn net.Conn) (api.TLSEngine, error) {
	return &Engine{conn: tls.Server(conn, c.tlsCfg)}, nil
}

// Close implements api.TLSContext; the loaded certificate material is
// immutable and has nothing to release.
func (c *Context) Close() error { return nil }

// Engine wraps one connection's tls.Conn.
type Engine struct {
	conn       *tls.Conn
	handshaken bool
}

// Handshake runs the full blocking crypto/tls handshake on first call and
// reports completion. readable/writable are accepted for contract
// compatibility with Processor's call site but unused: the blocking
// handshake already waits on whichever I/O direction it needs via the
// underlying net.Conn's deadline-free Read/Write.
func (e *Engine) Handshake(readable, writable bool) int {
	if e.handshaken {
		return 0
	}
	if err := e.conn.Handshake(); err != nil {
		return -1
	}
	e.handshaken = true
	return 0
}

// Wrap implements api.TLSEngine by writing plaintext through the TLS
// record layer and returning what was written; crypto/tls has no
// separate encrypt-into-buffer primitive, so this drives a real Write.
func (e *Engine) Wrap(src, dst []byte) (consumed, produced int, status api.TLSStatus) {
	n, err := e.conn.Write(src)
	if err != nil {
		return n, 0, api.TLSClosed
	}
	return n, 0, api.TLSOk
}

// Unwrap implements api.TLSEngine by reading plaintext out of the TLS
// record layer into dst.
func (e *Engine) Unwrap(src, dst []byte) (consumed, produced int, status api.TLSStatus) {
	n, err := e.conn.Read(dst)
	if err != nil {
		return 0, n, api.TLSClosed
	}
	return 0, n, api.TLSOk
}

// Close implements api.TLSEngine.
func (e *Engine) Close() error { return e.conn.Close() }

func cipherIDs(names []string) []uint16 {
	byName := make(map[string]uint16, len(tls.CipherSuites())+len(tls.InsecureCipherSuites()))
	for _, cs := range tls.CipherSuites() {
		byName[cs.Name] = cs.ID
	}
	for _, cs := range tls.InsecureCipherSuites() {
		byName[cs.Name] = cs.ID
	}
	out := make([]uint16, 0, len(names))
	for _, n := range names {
		if id, ok := byName[n]; ok {
			out = append(out, id)
		}
	}
	return out
}

var _ api.TLSContext = (*Context)(nil)
var _ api.TLSEngine = (*Engine)(nil)
