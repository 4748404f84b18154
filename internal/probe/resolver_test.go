package probe

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakim/connprobe/internal/models"
	"github.com/hakim/connprobe/internal/testutil"
	"github.com/hakim/connprobe/internal/transcript"
)

func TestResolveRecordsFamilies(t *testing.T) {
	rec := transcript.New()
	r := testutil.StaticResolver{IPs: []string{"192.0.2.10", "2001:db8::1"}}

	addrs, err := Resolve(context.Background(), rec, r, "mail.example.test")
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, models.FamilyIPv4, addrs[0].Family)
	assert.Equal(t, models.FamilyIPv6, addrs[1].Family)

	text := rec.Text()
	assert.Contains(t, text, "Step 1: DNS Resolution")
	assert.Contains(t, text, "DNS resolution successful")
	assert.Contains(t, text, "   - 192.0.2.10 (IPv4)")
	assert.Contains(t, text, "   - 2001:db8::1 (IPv6)")
}

func TestResolveFailures(t *testing.T) {
	tests := []struct {
		name     string
		resolver testutil.StaticResolver
		wantLine string
	}{
		{
			name:     "lookup error",
			resolver: testutil.StaticResolver{Err: &net.DNSError{Err: "no such host", Name: "nx.test", IsNotFound: true}},
			wantLine: "no such host",
		},
		{
			name:     "empty answer",
			resolver: testutil.StaticResolver{},
			wantLine: "no addresses returned",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := transcript.New()
			addrs, err := Resolve(context.Background(), rec, tt.resolver, "nx.test")

			assert.Nil(t, addrs)
			assert.Equal(t, ResolutionFailure, KindOf(err))
			assert.Contains(t, rec.Text(), tt.wantLine)
		})
	}
}

// startDNSServer serves canned A/AAAA answers for one name over UDP.
func startDNSServer(t *testing.T, name string, v4, v6 []string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		if !strings.EqualFold(q.Name, dns.Fqdn(name)) {
			m.SetRcode(req, dns.RcodeNameError)
			_ = w.WriteMsg(m)
			return
		}
		switch q.Qtype {
		case dns.TypeA:
			for _, ip := range v4 {
				m.Answer = append(m.Answer, &dns.A{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
					A:   net.ParseIP(ip),
				})
			}
		case dns.TypeAAAA:
			for _, ip := range v6 {
				m.Answer = append(m.Answer, &dns.AAAA{
					Hdr:  dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 60},
					AAAA: net.ParseIP(ip),
				})
			}
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSResolver(t *testing.T) {
	addr := startDNSServer(t, "imap.example.test", []string{"192.0.2.1", "192.0.2.2"}, []string{"2001:db8::25"})
	r := NewDNSResolver(addr, 2*time.Second)

	got, err := r.LookupIPAddr(context.Background(), "imap.example.test")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "192.0.2.1", got[0].IP.String())
	assert.Equal(t, "192.0.2.2", got[1].IP.String())
	assert.Equal(t, "2001:db8::25", got[2].IP.String())

	_, err = r.LookupIPAddr(context.Background(), "missing.example.test")
	var dnsErr *net.DNSError
	require.True(t, errors.As(err, &dnsErr))
	assert.True(t, dnsErr.IsNotFound)

	literal, err := r.LookupIPAddr(context.Background(), "10.1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", literal[0].IP.String())
}

func TestNewDNSResolverDefaultsPort(t *testing.T) {
	assert.Equal(t, "9.9.9.9:53", NewDNSResolver("9.9.9.9", 0).Server)
	assert.Equal(t, "127.0.0.1:5353", NewDNSResolver("127.0.0.1:5353", 0).Server)
}
