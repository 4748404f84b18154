package probe

import (
	"net"
	"sync"
)

// Handle owns the single connection used by the detailed stages. Its inner
// connection may be replaced by a wrapping one (the TLS session), but the
// socket underneath is closed exactly once no matter how many layers call
// Close.
type Handle struct {
	mu     sync.Mutex
	conn   net.Conn
	closed bool
	err    error
}

// NewHandle takes ownership of conn.
func NewHandle(conn net.Conn) *Handle {
	return &Handle{conn: &onceConn{Conn: conn}}
}

// Conn returns the current outermost connection.
func (h *Handle) Conn() net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

// wrap replaces the inner connection with fn(inner). fn's result must close
// inner when it is closed.
func (h *Handle) wrap(fn func(net.Conn) net.Conn) net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn = fn(h.conn)
	return h.conn
}

// Close closes the connection. Further calls return the first result.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return h.err
	}
	h.closed = true
	h.err = h.conn.Close()
	return h.err
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// onceConn guarantees the socket sees one Close even when both the TLS
// layer and the handle close it.
type onceConn struct {
	net.Conn
	once sync.Once
	err  error
}

func (c *onceConn) Close() error {
	c.once.Do(func() { c.err = c.Conn.Close() })
	return c.err
}

// closeConn is the release callback for connections won after a timeout.
func closeConn(c net.Conn) {
	if c != nil {
		_ = c.Close()
	}
}
