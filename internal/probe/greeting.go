package probe

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/hakim/connprobe/internal/models"
	"github.com/hakim/connprobe/internal/transcript"
)

// Greeting defaults.
const (
	DefaultGreetingTimeout = 5 * time.Second
	DefaultGreetingBuffer  = 4096
)

// GreetingOptions controls the greeting read.
type GreetingOptions struct {
	Timeout    time.Duration
	BufferSize int
}

// ReadGreeting attempts one bounded read of a server-initiated banner.
//
// Every outcome is non-fatal: a timeout, an empty read and a read error
// are recorded as warnings and returned in the result. ReadGreeting is the
// terminal owner of h and closes it before returning.
func ReadGreeting(ctx context.Context, rec *transcript.Transcript, h *Handle, opts GreetingOptions) *models.GreetingResult {
	defer h.Close()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultGreetingTimeout
	}
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultGreetingBuffer
	}

	rec.Add("Step 5: Reading Server Greeting")
	rec.Add("[*] Note: Mail servers (IMAP/SMTP/POP3) send automatic greetings. Web servers (HTTPS) typically don't.")

	conn := h.Conn()
	buf := make([]byte, size)
	out := Within(ctx, timeout, func(context.Context) (int, error) {
		return conn.Read(buf)
	}, nil)

	res := &models.GreetingResult{ElapsedMillis: out.Elapsed.Milliseconds()}
	switch {
	case out.TimedOut:
		// Unblocks the abandoned read; its buffer is never looked at again.
		_ = h.Close()
		res.Status = models.GreetingTimeout
		rec.Addf("[!] No greeting received within %s (server may not send automatic greeting)", timeout)
	case out.Value > 0:
		res.Status = models.GreetingReceived
		res.Bytes = out.Value
		res.Text = strings.TrimSpace(decodeASCII(buf[:out.Value]))
		rec.Addf("[+] Received server greeting (%dms, %d bytes)", res.ElapsedMillis, res.Bytes)
		rec.Addf("   Response: %s", res.Text)
	case out.Err == nil || errors.Is(out.Err, io.EOF):
		res.Status = models.GreetingEmpty
		rec.Add("[!] No data received from server")
	default:
		res.Status = models.GreetingError
		res.Error = out.Err.Error()
		rec.Addf("[!] Failed to read greeting (%dms): %v", res.ElapsedMillis, out.Err)
	}
	rec.Blank()

	return res
}

// GreetingKind maps a greeting status to its non-fatal error kind, or ""
// when a greeting was received.
func GreetingKind(s models.GreetingStatus) Kind {
	switch s {
	case models.GreetingTimeout:
		return GreetingTimeout
	case models.GreetingEmpty:
		return GreetingEmpty
	case models.GreetingError:
		return GreetingReadError
	default:
		return ""
	}
}

// decodeASCII maps bytes outside 7-bit ASCII to '?'.
func decodeASCII(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c > 0x7f {
			sb.WriteByte('?')
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
