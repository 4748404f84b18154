package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakim/connprobe/internal/models"
	"github.com/hakim/connprobe/internal/probe"
	"github.com/hakim/connprobe/internal/testutil"
	"github.com/hakim/connprobe/internal/transcript"
)

type fakeStore struct {
	mu   sync.Mutex
	runs []*models.RunRecord
	err  error
}

func (f *fakeStore) SaveRun(rec *models.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, rec)
	return f.err
}

func (f *fakeStore) last() *models.RunRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[len(f.runs)-1]
}

func localTarget(port int) models.ProbeTarget {
	return models.ProbeTarget{Host: "127.0.0.1", Port: port, Timeout: 5 * time.Second}
}

func fastOptions(ips ...string) Options {
	if len(ips) == 0 {
		ips = []string{"127.0.0.1"}
	}
	return Options{
		Resolver: testutil.StaticResolver{IPs: ips},
		Reach:    probe.ReachOptions{Timeout: 2 * time.Second},
		Greeting: probe.GreetingOptions{Timeout: 200 * time.Millisecond},
	}
}

func hasStep(lines []string, step string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, step) {
			return true
		}
	}
	return false
}

func TestRunDiagnosticSuccess(t *testing.T) {
	cert, _ := testutil.LocalCert(t)
	srv := testutil.StartTLS(t, cert, testutil.Banner("* OK ready\r\n"))
	store := &fakeStore{}

	opts := fastOptions()
	opts.Store = store

	res, err := RunDiagnostic(context.Background(), localTarget(srv.Port), opts)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Success())
	assert.Equal(t, models.StateSummarized, res.State)
	assert.Empty(t, res.FailedAt)

	lines := res.Lines()
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, []string{
		fmt.Sprintf("   Server: 127.0.0.1:%d", srv.Port),
		"   Status: REACHABLE",
		"   SSL/TLS: WORKING",
		"   Server Protocol: RESPONDING",
	}, lines[len(lines)-4:])
	assert.Equal(t, "=== Network Connectivity Test Started ===", lines[0])
	assert.Contains(t, lines, "Configuration: Server=127.0.0.1, Port="+fmt.Sprint(srv.Port)+", Timeout=5s")

	for _, step := range []string{"Step 1:", "Step 2:", "Step 3:", "Step 4:", "Step 5:"} {
		assert.True(t, hasStep(lines, step), step)
	}

	require.Len(t, res.Stages, 5)
	for _, s := range res.Stages {
		assert.Equal(t, models.StageSuccess, s.Status, s.Name)
	}
	require.NotNil(t, res.TLS)
	require.NotNil(t, res.Greeting)
	assert.Equal(t, "* OK ready", res.Greeting.Text)

	saved := store.last()
	assert.Equal(t, res.RunID, saved.ID)
	assert.Equal(t, models.StatusSuccess, saved.Status)
	assert.NotNil(t, saved.CompletedAt)
	assert.Equal(t, lines, saved.Transcript)
}

func TestRunDiagnosticResolutionFailure(t *testing.T) {
	opts := fastOptions()
	opts.Resolver = testutil.StaticResolver{Err: &net.DNSError{Err: "no such host", Name: "nx.invalid", IsNotFound: true}}

	res, err := RunDiagnostic(context.Background(), models.NewTarget("nx.invalid", 993), opts)
	require.Error(t, err)

	assert.Equal(t, probe.ResolutionFailure, probe.KindOf(err))
	assert.Equal(t, models.StateAborted, res.State)
	assert.Equal(t, models.StateStart, res.FailedAt)

	lines := res.Lines()
	assert.True(t, hasStep(lines, "Step 1:"))
	for _, step := range []string{"Step 2:", "Step 3:", "Step 4:", "Step 5:"} {
		assert.False(t, hasStep(lines, step), step)
	}
	assert.Equal(t, "[x] Test failed: ResolutionFailure", lines[len(lines)-2])
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "Message: DNS resolution failed for nx.invalid"))
}

func TestRunDiagnosticAllAddressesUnreachable(t *testing.T) {
	port := testutil.ClosedPort(t)
	ips := []string{"127.0.0.1", "127.0.0.2", "127.0.0.3"}

	res, err := RunDiagnostic(context.Background(), localTarget(port), fastOptions(ips...))
	require.Error(t, err)

	assert.Equal(t, probe.AllAddressesUnreachable, probe.KindOf(err))
	assert.Equal(t, models.StateResolved, res.FailedAt)

	lines := res.Lines()
	for _, ip := range ips {
		n := 0
		for _, l := range lines {
			if strings.Contains(l, ip+" - FAILED") || strings.Contains(l, ip+" - REACHABLE") {
				n++
			}
		}
		assert.Equal(t, 1, n, ip)
	}
	assert.False(t, hasStep(lines, "Step 3:"))
	assert.Contains(t, res.Err.Error(), "all 3 DNS-resolved addresses failed to connect")
}

func TestRunDiagnosticPartialReachabilityWarns(t *testing.T) {
	cert, _ := testutil.LocalCert(t)
	srv := testutil.StartTLS(t, cert, testutil.Banner("220 ready\r\n"))

	res, err := RunDiagnostic(context.Background(), localTarget(srv.Port), fastOptions("127.0.0.2", "127.0.0.1", "127.0.0.3"))
	require.NoError(t, err)

	assert.True(t, res.Success())
	assert.Contains(t, res.Lines(), "[!] Warning: 2/3 addresses failed")
	assert.Equal(t, models.StageWarning, res.Stages[1].Status)
	assert.Equal(t, probe.PartialAddressUnreachable, res.Stages[1].Kind)
}

func TestRunDiagnosticGreetingNeverChangesOutcome(t *testing.T) {
	tests := []struct {
		name     string
		banner   string
		wantLine string
		wantKind probe.Kind
	}{
		{
			name:     "no banner",
			wantLine: "[!] No greeting received within 200ms (server may not send automatic greeting)",
			wantKind: probe.GreetingTimeout,
		},
		{
			name:     "smtp banner",
			banner:   "220 ready\r\n",
			wantLine: "   Response: 220 ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert, _ := testutil.LocalCert(t)
			srv := testutil.StartTLS(t, cert, testutil.Banner(tt.banner))

			res, err := RunDiagnostic(context.Background(), localTarget(srv.Port), fastOptions())
			require.NoError(t, err)

			assert.True(t, res.Success())
			assert.Contains(t, res.Lines(), tt.wantLine)
			assert.Equal(t, tt.wantKind, res.Stages[4].Kind)
		})
	}
}

func TestRunDiagnosticHandshakeFailureClosesEveryConnection(t *testing.T) {
	srv := testutil.StartRaw(t, func(c net.Conn) {
		_, _ = c.Write([]byte("this is not TLS\r\n"))
		testutil.WaitForClose(c)
	})
	d := &testutil.CountingDialer{}

	opts := fastOptions()
	opts.Dialer = d

	res, err := RunDiagnostic(context.Background(), localTarget(srv.Port), opts)
	require.Error(t, err)

	assert.Equal(t, probe.HandshakeFailure, probe.KindOf(err))
	assert.Equal(t, models.StateConnected, res.FailedAt)
	assert.False(t, hasStep(res.Lines(), "Step 5:"))

	// one bulk probe and one detailed connection
	assert.Equal(t, 2, d.Opened())
	assert.Equal(t, []int{1, 1}, d.CloseCounts())
}

func TestRunDiagnosticConcurrentRunsDoNotInterleave(t *testing.T) {
	cert, _ := testutil.LocalCert(t)
	a := testutil.StartTLS(t, cert, testutil.Banner("* OK a\r\n"))
	b := testutil.StartTLS(t, cert, testutil.Banner("* OK b\r\n"))

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i, port := range []int{a.Port, b.Port} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := RunDiagnostic(context.Background(), localTarget(port), fastOptions())
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	for i, port := range []int{a.Port, b.Port} {
		other := []int{b.Port, a.Port}[i]
		text := results[i].Transcript.Text()
		assert.Contains(t, text, fmt.Sprintf("127.0.0.1:%d", port))
		assert.NotContains(t, text, fmt.Sprintf("127.0.0.1:%d", other))

		// stage headers appear once each and in order
		lines := results[i].Lines()
		last := -1
		for _, step := range []string{"Step 1:", "Step 2:", "Step 3:", "Step 4:", "Step 5:", "=== Test Summary ==="} {
			idx := -1
			for j, l := range lines {
				if strings.HasPrefix(l, step) {
					idx = j
					break
				}
			}
			require.Greater(t, idx, last, step)
			last = idx
		}
	}
}

func TestRunDiagnosticInvalidTarget(t *testing.T) {
	res, err := RunDiagnostic(context.Background(), models.ProbeTarget{Host: "", Port: 70000}, Options{})
	require.Error(t, err)

	assert.Equal(t, probe.InvalidTarget, probe.KindOf(err))
	assert.Equal(t, models.StateAborted, res.State)
	assert.Contains(t, res.Lines(), "[x] Test failed: InvalidTarget")
	assert.False(t, hasStep(res.Lines(), "Step 1:"))
}

func TestRunDiagnosticScope(t *testing.T) {
	scope, err := NewScope([]string{"*.example.test"}, []string{"10.0.0.0/8"})
	require.NoError(t, err)

	t.Run("hostname rejected", func(t *testing.T) {
		opts := fastOptions()
		opts.Scope = scope
		_, err := RunDiagnostic(context.Background(), models.NewTarget("imap.other.test", 993), opts)
		assert.Equal(t, probe.ScopeViolation, probe.KindOf(err))
	})

	t.Run("resolved address rejected", func(t *testing.T) {
		opts := fastOptions("10.1.1.1", "192.0.2.7")
		opts.Scope = scope
		res, err := RunDiagnostic(context.Background(), models.NewTarget("imap.example.test", 993), opts)
		assert.Equal(t, probe.ScopeViolation, probe.KindOf(err))
		assert.Contains(t, res.Lines(), "[x] 192.0.2.7 is outside the allowed scope")
		assert.False(t, hasStep(res.Lines(), "Step 2:"))
	})
}

type panicResolver struct{}

func (panicResolver) LookupIPAddr(context.Context, string) ([]net.IPAddr, error) {
	panic("resolver exploded")
}

func TestRunDiagnosticRecoversStagePanic(t *testing.T) {
	var done []StageRecord
	opts := fastOptions()
	opts.Resolver = panicResolver{}
	opts.OnStageDone = func(_ string, _, _ int, rec StageRecord) { done = append(done, rec) }

	res, err := RunDiagnostic(context.Background(), models.NewTarget("imap.example.test", 993), opts)
	require.Error(t, err)

	assert.Equal(t, probe.StagePanic, probe.KindOf(err))
	assert.Contains(t, err.Error(), "resolver exploded")
	assert.Contains(t, res.Lines(), "[x] Test failed: StagePanic")
	require.Len(t, done, 1)
	assert.Equal(t, models.StageFatal, done[0].Status)
}

func TestRunDiagnosticStoreFailureIsNotFatal(t *testing.T) {
	cert, _ := testutil.LocalCert(t)
	srv := testutil.StartTLS(t, cert, testutil.Banner("* OK\r\n"))

	opts := fastOptions()
	opts.Store = &fakeStore{err: errors.New("disk full")}

	res, err := RunDiagnostic(context.Background(), localTarget(srv.Port), opts)
	require.NoError(t, err)
	assert.True(t, res.Success())
}

func TestRunDiagnosticStreamsThroughSubscribedTranscript(t *testing.T) {
	rec := transcript.New()
	var streamed []string
	rec.Subscribe(func(e transcript.Entry) { streamed = append(streamed, e.Text) })

	var started []string
	opts := fastOptions()
	opts.Resolver = testutil.StaticResolver{}
	opts.Transcript = rec
	opts.OnStageStart = func(name string, _, _ int) { started = append(started, name) }

	res, _ := RunDiagnostic(context.Background(), models.NewTarget("empty.example.test", 993), opts)

	assert.Same(t, rec, res.Transcript)
	assert.Equal(t, res.Lines(), streamed)
	assert.Equal(t, []string{"resolve"}, started)
}
