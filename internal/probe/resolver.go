package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/hakim/connprobe/internal/models"
	"github.com/hakim/connprobe/internal/transcript"
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
// This interface allows for substituting DNS resolution in tests.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// SystemResolver returns the platform resolver.
func SystemResolver() Resolver {
	return net.DefaultResolver
}

// DNSResolver queries one DNS server directly for A and AAAA records,
// bypassing the platform resolver configuration.
type DNSResolver struct {
	Server string
	client *dns.Client
}

// NewDNSResolver returns a resolver that sends queries to server. A server
// without a port gets ":53".
func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSResolver{
		Server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// LookupIPAddr returns A records followed by AAAA records. IP literals are
// returned as-is.
func (r *DNSResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IPAddr{{IP: ip}}, nil
	}

	var out []net.IPAddr
	nxdomain := false
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true

		in, _, err := r.client.ExchangeContext(ctx, m, r.Server)
		if err != nil {
			return nil, fmt.Errorf("query %s %s via %s: %w", dns.TypeToString[qtype], host, r.Server, err)
		}
		switch in.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			nxdomain = true
			continue
		default:
			return nil, fmt.Errorf("query %s %s via %s: %s", dns.TypeToString[qtype], host, r.Server, dns.RcodeToString[in.Rcode])
		}

		for _, ans := range in.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				out = append(out, net.IPAddr{IP: rr.A})
			case *dns.AAAA:
				out = append(out, net.IPAddr{IP: rr.AAAA})
			}
		}
	}

	if len(out) == 0 && nxdomain {
		return nil, &net.DNSError{Err: "no such host", Name: host, Server: r.Server, IsNotFound: true}
	}
	return out, nil
}

// Resolve runs the DNS stage. It has no timeout of its own beyond ctx. A
// lookup error or an empty answer is a ResolutionFailure.
func Resolve(ctx context.Context, rec *transcript.Transcript, r Resolver, host string) ([]models.ResolvedAddress, error) {
	rec.Add("Step 1: DNS Resolution")

	start := time.Now()
	ipAddrs, err := r.LookupIPAddr(ctx, host)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		rec.Addf("[x] DNS resolution failed (%dms): %v", elapsed, err)
		return nil, NewError(ResolutionFailure, err, "DNS resolution failed for %s", host)
	}
	if len(ipAddrs) == 0 {
		rec.Addf("[x] DNS resolution failed (%dms): no addresses returned", elapsed)
		return nil, NewError(ResolutionFailure, nil, "DNS resolution for %s returned no addresses", host)
	}

	addrs := make([]models.ResolvedAddress, 0, len(ipAddrs))
	rec.Addf("[+] DNS resolution successful (%dms)", elapsed)
	for _, a := range ipAddrs {
		ra := models.NewResolvedAddress(a.IP)
		addrs = append(addrs, ra)
		rec.Addf("   - %s (%s)", ra, ra.Family)
	}
	rec.Blank()

	return addrs, nil
}
