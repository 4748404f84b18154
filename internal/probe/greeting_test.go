package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakim/connprobe/internal/models"
	"github.com/hakim/connprobe/internal/testutil"
)

func TestReadGreeting(t *testing.T) {
	tests := []struct {
		name       string
		handle     func(net.Conn)
		wantStatus models.GreetingStatus
		wantText   string
		wantLine   string
	}{
		{
			name: "banner",
			handle: func(c net.Conn) {
				_, _ = c.Write([]byte("220 ready\r\n"))
				testutil.WaitForClose(c)
			},
			wantStatus: models.GreetingReceived,
			wantText:   "220 ready",
			wantLine:   "   Response: 220 ready",
		},
		{
			name:       "silent server",
			handle:     func(c net.Conn) { testutil.WaitForClose(c) },
			wantStatus: models.GreetingTimeout,
			wantLine:   "[!] No greeting received within 100ms (server may not send automatic greeting)",
		},
		{
			name:       "immediate hang up",
			handle:     func(c net.Conn) {},
			wantStatus: models.GreetingEmpty,
			wantLine:   "[!] No data received from server",
		},
		{
			name: "non-ascii bytes",
			handle: func(c net.Conn) {
				_, _ = c.Write([]byte{'*', ' ', 'O', 'K', ' ', 0xe2, 0x9c, 0x93})
				testutil.WaitForClose(c)
			},
			wantStatus: models.GreetingReceived,
			wantText:   "* OK ???",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.StartRaw(t, tt.handle)
			d := &testutil.CountingDialer{}
			h, rec := connectTo(t, d, srv.Port)

			res := ReadGreeting(context.Background(), rec, h, GreetingOptions{Timeout: 100 * time.Millisecond})

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantText, res.Text)
			if tt.wantLine != "" {
				assert.Contains(t, rec.Lines(), tt.wantLine)
			}
			assert.Contains(t, rec.Text(), "Step 5: Reading Server Greeting")
			assert.True(t, h.Closed())
			assert.Equal(t, []int{1}, d.CloseCounts())
		})
	}
}

func TestReadGreetingOverTLS(t *testing.T) {
	cert, _ := testutil.LocalCert(t)
	srv := testutil.StartTLS(t, cert, testutil.Banner("* OK IMAP4rev1 ready\r\n"))

	h, rec := connectTo(t, &net.Dialer{}, srv.Port)
	_, err := Handshake(context.Background(), rec, h, "127.0.0.1", TLSOptions{})
	require.NoError(t, err)

	res := ReadGreeting(context.Background(), rec, h, GreetingOptions{Timeout: 2 * time.Second})
	assert.Equal(t, models.GreetingReceived, res.Status)
	assert.Equal(t, "* OK IMAP4rev1 ready", res.Text)
	assert.Equal(t, len("* OK IMAP4rev1 ready\r\n"), res.Bytes)
}

func TestGreetingKind(t *testing.T) {
	assert.Equal(t, Kind(""), GreetingKind(models.GreetingReceived))
	assert.Equal(t, GreetingTimeout, GreetingKind(models.GreetingTimeout))
	assert.Equal(t, GreetingEmpty, GreetingKind(models.GreetingEmpty))
	assert.Equal(t, GreetingReadError, GreetingKind(models.GreetingError))
}
