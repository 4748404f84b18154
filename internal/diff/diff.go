// Package diff computes the delta between two diagnostic runs against the
// same target. It compares the persisted run records and produces a
// DiffResult that identifies what changed in outcome, DNS, reachability,
// TLS session and greeting between consecutive runs.
package diff

import (
	"sort"
	"strings"
	"time"

	"github.com/hakim/connprobe/internal/models"
)

// FieldChange is a single scalar value that differs between two runs.
type FieldChange struct {
	Field    string
	Previous string
	Current  string
}

// ReachChange is an address whose bulk probe outcome flipped.
type ReachChange struct {
	Address string
	Error   string // failure detail of the failing side
}

// DiffResult holds the complete delta between a current and a previous run.
// All slice fields are non-nil (empty slices, not nil) so callers can range
// over them unconditionally.
type DiffResult struct {
	Target     string
	CurrentID  string
	PreviousID string

	// Outcome change (status and failing kind)
	OutcomeChanged bool
	Outcome        []FieldChange

	// DNS answer changes
	NewAddresses     []string
	RemovedAddresses []string

	// Bulk probe flips for addresses present in both runs
	NowReachable   []ReachChange
	NowUnreachable []ReachChange

	// Session and certificate metadata
	TLSChanges         []FieldChange
	CertificateChanges []FieldChange

	GreetingChanges []FieldChange
}

// Empty reports whether the two runs are indistinguishable.
func (d *DiffResult) Empty() bool {
	return !d.OutcomeChanged &&
		len(d.NewAddresses) == 0 &&
		len(d.RemovedAddresses) == 0 &&
		len(d.NowReachable) == 0 &&
		len(d.NowUnreachable) == 0 &&
		len(d.TLSChanges) == 0 &&
		len(d.CertificateChanges) == 0 &&
		len(d.GreetingChanges) == 0
}

// ComputeDiff calculates the delta between current and previous runs.
// Both arguments must be non-nil; pass an empty RunRecord for the
// "no previous run" case.
func ComputeDiff(current, previous *models.RunRecord) *DiffResult {
	dr := &DiffResult{
		Target:             current.Target(),
		CurrentID:          current.ID,
		PreviousID:         previous.ID,
		Outcome:            []FieldChange{},
		NewAddresses:       []string{},
		RemovedAddresses:   []string{},
		NowReachable:       []ReachChange{},
		NowUnreachable:     []ReachChange{},
		TLSChanges:         []FieldChange{},
		CertificateChanges: []FieldChange{},
		GreetingChanges:    []FieldChange{},
	}

	dr.Outcome = compareFields(dr.Outcome,
		"status", string(previous.Status), string(current.Status),
		"error kind", previous.ErrorKind, current.ErrorKind,
		"failed at", string(previous.FailedAt), string(current.FailedAt),
	)
	dr.OutcomeChanged = len(dr.Outcome) > 0

	diffAddresses(dr, current.Addresses, previous.Addresses)
	diffReachability(dr, current.Probes, previous.Probes)
	diffTLS(dr, current.TLS, previous.TLS)
	diffGreeting(dr, current.Greeting, previous.Greeting)

	return dr
}

// ---------------------------------------------------------------------------
// Address diff
// ---------------------------------------------------------------------------

func diffAddresses(dr *DiffResult, current, previous []models.ResolvedAddress) {
	prev := make(map[string]bool, len(previous))
	for _, a := range previous {
		prev[a.String()] = true
	}
	curr := make(map[string]bool, len(current))
	for _, a := range current {
		curr[a.String()] = true
	}

	for _, a := range current {
		if !prev[a.String()] {
			dr.NewAddresses = append(dr.NewAddresses, a.String())
		}
	}
	for _, a := range previous {
		if !curr[a.String()] {
			dr.RemovedAddresses = append(dr.RemovedAddresses, a.String())
		}
	}
}

// ---------------------------------------------------------------------------
// Reachability diff
// ---------------------------------------------------------------------------

// diffReachability reports addresses probed in both runs whose outcome
// changed. Addresses seen in only one run are covered by diffAddresses.
func diffReachability(dr *DiffResult, current, previous []models.AddressProbeResult) {
	prev := make(map[string]models.AddressProbeResult, len(previous))
	for _, p := range previous {
		prev[p.Address.String()] = p
	}

	for _, c := range current {
		p, ok := prev[c.Address.String()]
		if !ok || p.Outcome == c.Outcome {
			continue
		}
		if c.Outcome == models.Reachable {
			dr.NowReachable = append(dr.NowReachable, ReachChange{Address: c.Address.String(), Error: p.Error})
		} else {
			dr.NowUnreachable = append(dr.NowUnreachable, ReachChange{Address: c.Address.String(), Error: c.Error})
		}
	}

	sort.Slice(dr.NowReachable, func(i, j int) bool { return dr.NowReachable[i].Address < dr.NowReachable[j].Address })
	sort.Slice(dr.NowUnreachable, func(i, j int) bool { return dr.NowUnreachable[i].Address < dr.NowUnreachable[j].Address })
}

// ---------------------------------------------------------------------------
// TLS diff
// ---------------------------------------------------------------------------

func diffTLS(dr *DiffResult, current, previous *models.TLSSessionInfo) {
	var c, p models.TLSSessionInfo
	if current != nil {
		c = *current
	}
	if previous != nil {
		p = *previous
	}

	dr.TLSChanges = compareFields(dr.TLSChanges,
		"protocol", p.Protocol, c.Protocol,
		"cipher suite", p.CipherSuite, c.CipherSuite,
		"key exchange", p.KeyExchangeAlgorithm, c.KeyExchangeAlgorithm,
	)

	var cc, pc models.CertificateInfo
	if c.Certificate != nil {
		cc = *c.Certificate
	}
	if p.Certificate != nil {
		pc = *p.Certificate
	}

	dr.CertificateChanges = compareFields(dr.CertificateChanges,
		"subject", pc.Subject, cc.Subject,
		"issuer", pc.Issuer, cc.Issuer,
		"serial", pc.SerialNumber, cc.SerialNumber,
		"valid to", formatTime(pc.NotAfter), formatTime(cc.NotAfter),
		"policy errors", strings.Join(pc.PolicyErrors, "; "), strings.Join(cc.PolicyErrors, "; "),
	)
}

// ---------------------------------------------------------------------------
// Greeting diff
// ---------------------------------------------------------------------------

func diffGreeting(dr *DiffResult, current, previous *models.GreetingResult) {
	var c, p models.GreetingResult
	if current != nil {
		c = *current
	}
	if previous != nil {
		p = *previous
	}

	dr.GreetingChanges = compareFields(dr.GreetingChanges,
		"status", string(p.Status), string(c.Status),
		"text", p.Text, c.Text,
	)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// compareFields appends a FieldChange for every (name, previous, current)
// triple whose values differ.
func compareFields(out []FieldChange, triples ...string) []FieldChange {
	for i := 0; i+2 < len(triples); i += 3 {
		if triples[i+1] != triples[i+2] {
			out = append(out, FieldChange{Field: triples[i], Previous: triples[i+1], Current: triples[i+2]})
		}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
