package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/hakim/connprobe/internal/diff"
)

// RenderDiffReport renders the delta between two runs as markdown.
func RenderDiffReport(result *diff.DiffResult) string {
	var b strings.Builder

	b.WriteString("# Run Diff Report\n\n")
	b.WriteString(fmt.Sprintf("**Target:** %s\n", result.Target))
	b.WriteString(fmt.Sprintf("**Runs:** %s → %s\n", orNone(result.PreviousID), result.CurrentID))
	b.WriteString(fmt.Sprintf("**Date:** %s\n\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC")))

	// If there are zero changes across all categories, short-circuit.
	if result.Empty() {
		b.WriteString("No changes detected.\n")
		return b.String()
	}

	writeFieldChanges(&b, "Outcome", result.Outcome)
	writeAddressList(&b, "New Addresses", "+", result.NewAddresses)
	writeAddressList(&b, "Removed Addresses", "-", result.RemovedAddresses)
	writeReachChanges(&b, "Now Reachable", result.NowReachable)
	writeReachChanges(&b, "Now Unreachable", result.NowUnreachable)
	writeFieldChanges(&b, "TLS Session", result.TLSChanges)
	writeFieldChanges(&b, "Certificate", result.CertificateChanges)
	writeFieldChanges(&b, "Greeting", result.GreetingChanges)

	return b.String()
}

// WriteDiffReport renders result and writes it to outputPath.
func WriteDiffReport(result *diff.DiffResult, outputPath string) error {
	return writeFile(outputPath, RenderDiffReport(result))
}

// ---------------------------------------------------------------------------
// Section writers
// ---------------------------------------------------------------------------

// writeFieldChanges renders a before/after table. Skipped when empty.
func writeFieldChanges(b *strings.Builder, title string, changes []diff.FieldChange) {
	if len(changes) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("## %s\n\n", title))
	b.WriteString("| Field | Previous | Current |\n")
	b.WriteString("|-------|----------|---------|\n")
	for _, c := range changes {
		b.WriteString(fmt.Sprintf("| %s | %s | %s |\n", c.Field, escapeCell(orNone(c.Previous)), escapeCell(orNone(c.Current))))
	}
	b.WriteString("\n")
}

// writeAddressList renders an address list section. Skipped when empty.
func writeAddressList(b *strings.Builder, title, sign string, addrs []string) {
	if len(addrs) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("## %s (%s%d)\n\n", title, sign, len(addrs)))
	for _, a := range addrs {
		b.WriteString(fmt.Sprintf("- %s\n", a))
	}
	b.WriteString("\n")
}

// writeReachChanges renders reachability flips. Skipped when empty.
func writeReachChanges(b *strings.Builder, title string, changes []diff.ReachChange) {
	if len(changes) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("## %s (%d)\n\n", title, len(changes)))
	for _, c := range changes {
		if c.Error != "" {
			b.WriteString(fmt.Sprintf("- %s (%s)\n", c.Address, c.Error))
		} else {
			b.WriteString(fmt.Sprintf("- %s\n", c.Address))
		}
	}
	b.WriteString("\n")
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
