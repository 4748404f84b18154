package probe

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakim/connprobe/internal/models"
	"github.com/hakim/connprobe/internal/testutil"
	"github.com/hakim/connprobe/internal/transcript"
)

func addrs(ips ...string) []models.ResolvedAddress {
	out := make([]models.ResolvedAddress, 0, len(ips))
	for _, ip := range ips {
		out = append(out, models.NewResolvedAddress(net.ParseIP(ip)))
	}
	return out
}

func TestProbeAllPolicy(t *testing.T) {
	srv := testutil.StartRaw(t, func(c net.Conn) {})

	tests := []struct {
		name       string
		ips        []string
		parallel   bool
		wantStatus models.StageStatus
		wantKind   Kind
		wantLine   string
	}{
		{
			name:       "all reachable",
			ips:        []string{"127.0.0.1"},
			wantStatus: models.StageSuccess,
			wantLine:   "[+] All 1 DNS addresses are reachable",
		},
		{
			name:       "partial",
			ips:        []string{"127.0.0.1", "127.0.0.2"},
			wantStatus: models.StageWarning,
			wantLine:   "[!] Warning: 1/2 addresses failed",
		},
		{
			name:       "partial in parallel",
			ips:        []string{"127.0.0.2", "127.0.0.1", "127.0.0.3"},
			parallel:   true,
			wantStatus: models.StageWarning,
			wantLine:   "[!] Warning: 2/3 addresses failed",
		},
		{
			name:       "none reachable",
			ips:        []string{"127.0.0.2", "127.0.0.3"},
			wantStatus: models.StageFatal,
			wantKind:   AllAddressesUnreachable,
			wantLine:   "[x] All DNS addresses failed to connect!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := transcript.New()
			d := &testutil.CountingDialer{}

			report, err := ProbeAll(context.Background(), rec, d, addrs(tt.ips...), srv.Port,
				ReachOptions{Timeout: 2 * time.Second, Parallel: tt.parallel, MaxParallel: 2})

			require.NotNil(t, report)
			assert.Equal(t, tt.wantStatus, report.Status())
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Contains(t, rec.Text(), tt.wantLine)
			require.Len(t, report.Results, len(tt.ips))
			assert.Equal(t, len(tt.ips), len(report.Reachable)+len(report.Failed))

			// one line per address, in resolution order
			var order []string
			for _, l := range rec.Lines() {
				for _, ip := range tt.ips {
					if strings.Contains(l, ip+" - REACHABLE") || strings.Contains(l, ip+" - FAILED") {
						order = append(order, ip)
					}
				}
			}
			assert.Equal(t, tt.ips, order)

			for i, n := range d.CloseCounts() {
				assert.Equal(t, 1, n, "connection %d", i)
			}
		})
	}
}

func TestProbeAllTimeoutIsFailure(t *testing.T) {
	rec := transcript.New()
	d := blockingDialer{}

	report, err := ProbeAll(context.Background(), rec, d, addrs("192.0.2.1"), 993,
		ReachOptions{Timeout: 30 * time.Millisecond})

	assert.Equal(t, AllAddressesUnreachable, KindOf(err))
	assert.Contains(t, err.Error(), "all 1 DNS-resolved addresses")
	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].Error, "timeout after 30ms")
	assert.GreaterOrEqual(t, report.Failed[0].ElapsedMillis, int64(30))
}

// blockingDialer never connects until its context is cancelled.
type blockingDialer struct{}

func (blockingDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
