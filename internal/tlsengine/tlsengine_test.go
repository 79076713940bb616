package tlsengine

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"testing"
	"time"

	"github.com/momentics/nioendpoint/api"
)

func pemEncodeCert(w io.Writer, der []byte) {
	_ = pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func pemEncodeKey(w io.Writer, key *rsa.PrivateKey) {
	_ = pem.Encode(w, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func writeTempCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	certOut, err := os.CreateTemp(t.TempDir(), "cert-*.pem")
	if err != nil {
		t.Fatalf("create cert file: %v", err)
	}
	pemEncodeCert(certOut, der)
	certOut.Close()

	keyOut, err := os.CreateTemp(t.TempDir(), "key-*.pem")
	if err != nil {
		t.Fatalf("create key file: %v", err)
	}
	pemEncodeKey(keyOut, key)
	keyOut.Close()

	return certOut.Name(), keyOut.Name()
}

func TestContextHandshakeSucceeds(t *testing.T) {
	certFile, keyFile := writeTempCert(t)
	ctx, err := NewContext(api.TLSConfig{CertificateFile: certFile, KeyFile: keyFile})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	engine, err := ctx.NewEngine(serverConn)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	done := make(chan int, 1)
	go func() { done <- engine.Handshake(true, true) }()

	clientTLS := tls.Client(clientConn, &tls.Config{InsecureSkipVerify: true})
	if err := clientTLS.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	select {
	case r := <-done:
		if r != 0 {
			t.Fatalf("expected Handshake to return 0, got %d", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server handshake did not complete in time")
	}

	// net.Pipe is unbuffered: drain the client side so the server's
	// close_notify alert can be written.
	go io.Copy(io.Discard, clientTLS)
	if err := engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestContextHandshakeIsIdempotent(t *testing.T) {
	certFile, keyFile := writeTempCert(t)
	ctx, err := NewContext(api.TLSConfig{CertificateFile: certFile, KeyFile: keyFile})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	engine, err := ctx.NewEngine(serverConn)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	go func() {
		clientTLS := tls.Client(clientConn, &tls.Config{InsecureSkipVerify: true})
		_ = clientTLS.Handshake()
	}()

	if r := engine.Handshake(true, true); r != 0 {
		t.Fatalf("expected first Handshake to return 0, got %d", r)
	}
	if r := engine.Handshake(true, true); r != 0 {
		t.Fatalf("expected second Handshake call to be a no-op returning 0, got %d", r)
	}
}
