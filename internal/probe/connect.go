package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/hakim/connprobe/internal/transcript"
)

// Connect runs the detailed TCP stage: one connect to host:port, letting
// the platform resolve host again, raced against timeout.
//
// On success the returned Handle owns the connection. A timeout is a
// ConnectionTimeout and any other dial failure a ConnectionError; in both
// cases nothing is left open.
func Connect(ctx context.Context, rec *transcript.Transcript, d Dialer, host string, port int, timeout time.Duration) (*Handle, error) {
	rec.Add("Step 3: TCP Connection (detailed test)")

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	out := Within(ctx, timeout, func(ctx context.Context) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}, closeConn)
	elapsed := out.Elapsed.Milliseconds()

	if out.TimedOut {
		rec.Addf("[x] TCP connection failed (%dms): connection attempt timed out after %s", elapsed, timeout)
		return nil, NewError(ConnectionTimeout, nil, "connection attempt to %s timed out after %s", addr, timeout)
	}
	if out.Err != nil {
		rec.Addf("[x] TCP connection failed (%dms): %v", elapsed, out.Err)
		return nil, NewError(ConnectionError, out.Err, "TCP connection to %s failed", addr)
	}

	conn := out.Value
	rec.Addf("[+] TCP connection established (%dms)", elapsed)
	rec.Addf("   Local endpoint: %s", conn.LocalAddr())
	rec.Addf("   Remote endpoint: %s", conn.RemoteAddr())
	rec.Add("   Connected: true")
	rec.Blank()

	return NewHandle(conn), nil
}
