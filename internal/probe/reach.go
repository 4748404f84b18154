package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/iter"

	"github.com/hakim/connprobe/internal/models"
	"github.com/hakim/connprobe/internal/transcript"
)

// DefaultReachTimeout bounds each bulk connect attempt independently of the
// caller's full timeout.
const DefaultReachTimeout = 5 * time.Second

// Dialer opens stream connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ReachOptions controls the bulk reachability stage.
type ReachOptions struct {
	// Timeout bounds each attempt. Zero means DefaultReachTimeout.
	Timeout time.Duration

	// Parallel probes addresses concurrently instead of in resolution
	// order. Lines are still recorded in resolution order, after all
	// attempts finish, and elapsed times are per attempt.
	Parallel bool

	// MaxParallel caps concurrent attempts when Parallel is set.
	// Zero means GOMAXPROCS.
	MaxParallel int
}

// ReachReport partitions the probed addresses.
type ReachReport struct {
	Results   []models.AddressProbeResult `json:"results"`
	Reachable []models.AddressProbeResult `json:"reachable"`
	Failed    []models.AddressProbeResult `json:"failed"`
}

// Status is Success when every address answered, Warning when some did and
// Fatal when none did.
func (r *ReachReport) Status() models.StageStatus {
	switch {
	case len(r.Reachable) == 0:
		return models.StageFatal
	case len(r.Failed) > 0:
		return models.StageWarning
	default:
		return models.StageSuccess
	}
}

// ProbeAll runs the bulk reachability stage over addrs.
//
// Every socket is closed as soon as its outcome is known. If all addresses
// fail the returned error is AllAddressesUnreachable; a partial failure is
// reported through the report's Status and a warning line only.
func ProbeAll(ctx context.Context, rec *transcript.Transcript, d Dialer, addrs []models.ResolvedAddress, port int, opts ReachOptions) (*ReachReport, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultReachTimeout
	}

	rec.Add("Step 2: Testing All DNS Addresses")

	report := &ReachReport{}
	record := func(res models.AddressProbeResult) {
		report.Results = append(report.Results, res)
		if res.Outcome == models.Reachable {
			report.Reachable = append(report.Reachable, res)
			rec.Addf("   [+] %s - REACHABLE (%dms)", res.Address, res.ElapsedMillis)
		} else {
			report.Failed = append(report.Failed, res)
			rec.Addf("   [x] %s - FAILED (%dms): %s", res.Address, res.ElapsedMillis, res.Error)
		}
	}

	if opts.Parallel && len(addrs) > 1 {
		mapper := iter.Mapper[models.ResolvedAddress, models.AddressProbeResult]{
			MaxGoroutines: opts.MaxParallel,
		}
		results := mapper.Map(addrs, func(a *models.ResolvedAddress) models.AddressProbeResult {
			return probeAddress(ctx, d, *a, port, timeout)
		})
		for _, res := range results {
			record(res)
		}
	} else {
		for _, a := range addrs {
			record(probeAddress(ctx, d, a, port, timeout))
		}
	}

	total := len(addrs)
	rec.Blank()
	switch report.Status() {
	case models.StageFatal:
		rec.Add("[x] All DNS addresses failed to connect!")
		return report, NewError(AllAddressesUnreachable, nil, "all %d DNS-resolved addresses failed to connect", total)
	case models.StageWarning:
		rec.Addf("[!] Warning: %d/%d addresses failed", len(report.Failed), total)
	default:
		rec.Addf("[+] All %d DNS addresses are reachable", total)
	}
	rec.Blank()

	return report, nil
}

// probeAddress makes one short-timeout connect to a and closes whatever it
// got back.
func probeAddress(ctx context.Context, d Dialer, a models.ResolvedAddress, port int, timeout time.Duration) models.AddressProbeResult {
	addr := net.JoinHostPort(a.IP.String(), strconv.Itoa(port))

	out := Within(ctx, timeout, func(ctx context.Context) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}, closeConn)

	res := models.AddressProbeResult{
		Address:       a,
		ElapsedMillis: out.Elapsed.Milliseconds(),
	}
	switch {
	case out.TimedOut:
		res.Outcome = models.Failed
		res.Error = fmt.Sprintf("timeout after %s", timeout)
	case out.Err != nil:
		res.Outcome = models.Failed
		res.Error = out.Err.Error()
	default:
		closeConn(out.Value)
		res.Outcome = models.Reachable
	}
	return res
}
