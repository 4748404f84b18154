// Package testutil provides loopback servers, certificates and instrumented
// network dependencies for tests of the probe pipeline.
package testutil

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"
)

// SelfSignedCert returns a certificate valid for hosts (DNS names or IPs)
// for the given window around now.
func SelfSignedCert(t testing.TB, notBefore, notAfter time.Time, hosts ...string) (tls.Certificate, *x509.Certificate) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "connprobe test", Organization: []string{"connprobe"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, leaf
}

// LocalCert returns a certificate for 127.0.0.1 and localhost valid for a
// day.
func LocalCert(t testing.TB) (tls.Certificate, *x509.Certificate) {
	now := time.Now()
	return SelfSignedCert(t, now.Add(-time.Hour), now.Add(24*time.Hour), "127.0.0.1", "localhost")
}

// Server is a loopback TCP listener that hands each accepted connection to
// a handler on its own goroutine.
type Server struct {
	Listener net.Listener
	Port     int

	wg sync.WaitGroup
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	return s.Listener.Addr().String()
}

// StartRaw listens on 127.0.0.1 and serves plain TCP connections.
func StartRaw(t testing.TB, handle func(net.Conn)) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{Listener: ln, Port: ln.Addr().(*net.TCPAddr).Port}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer conn.Close()
				handle(conn)
			}()
		}
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
	})
	return s
}

// StartTLS serves TLS with cert; handle runs after a successful handshake.
func StartTLS(t testing.TB, cert tls.Certificate, handle func(*tls.Conn)) *Server {
	t.Helper()

	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	return StartRaw(t, func(raw net.Conn) {
		conn := tls.Server(raw, cfg)
		_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
		if err := conn.Handshake(); err != nil {
			return
		}
		_ = conn.SetDeadline(time.Time{})
		handle(conn)
	})
}

// Banner returns a TLS handler that writes greeting and then waits for the
// client to hang up.
func Banner(greeting string) func(*tls.Conn) {
	return func(c *tls.Conn) {
		if greeting != "" {
			_, _ = c.Write([]byte(greeting))
		}
		WaitForClose(c)
	}
}

// WaitForClose blocks until the peer closes c or a few seconds pass.
func WaitForClose(c net.Conn) {
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 64)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}

// ClosedPort returns a loopback port with nothing listening on it.
func ClosedPort(t testing.TB) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// StaticResolver answers every lookup with the same addresses or error.
type StaticResolver struct {
	IPs []string
	Err error
}

// LookupIPAddr implements probe.Resolver.
func (r StaticResolver) LookupIPAddr(_ context.Context, _ string) ([]net.IPAddr, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]net.IPAddr, 0, len(r.IPs))
	for _, s := range r.IPs {
		out = append(out, net.IPAddr{IP: net.ParseIP(s)})
	}
	return out, nil
}

// CountingDialer dials with a net.Dialer and counts how often each
// connection it produced was closed.
type CountingDialer struct {
	mu    sync.Mutex
	conns []*countingConn
}

// DialContext implements probe.Dialer.
func (d *CountingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	var nd net.Dialer
	c, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	cc := &countingConn{Conn: c}
	d.mu.Lock()
	d.conns = append(d.conns, cc)
	d.mu.Unlock()
	return cc, nil
}

// Opened returns the number of connections dialed.
func (d *CountingDialer) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// CloseCounts returns how many times each dialed connection was closed, in
// dial order.
func (d *CountingDialer) CloseCounts() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.conns))
	for i, c := range d.conns {
		out[i] = c.closes()
	}
	return out
}

type countingConn struct {
	net.Conn
	mu sync.Mutex
	n  int
}

func (c *countingConn) Close() error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return c.Conn.Close()
}

func (c *countingConn) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
