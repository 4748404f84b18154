package report

import (
	"fmt"
	"os"
	"strings"

	"github.com/hakim/connprobe/internal/models"
)

// RenderRunReport renders a markdown report for a single diagnostic run.
func RenderRunReport(rec *models.RunRecord) string {
	var b strings.Builder

	// Header
	b.WriteString("# Connectivity Report\n\n")
	b.WriteString(fmt.Sprintf("**Target:** %s\n", rec.Target()))
	b.WriteString(fmt.Sprintf("**Run ID:** %s\n", rec.ID))
	b.WriteString(fmt.Sprintf("**Date:** %s\n", rec.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC")))
	b.WriteString(fmt.Sprintf("**Outcome:** %s\n\n", outcomeLabel(rec)))

	if rec.Status == models.StatusAborted {
		b.WriteString("## Failure\n\n")
		b.WriteString("| Kind | Failed after | Message |\n")
		b.WriteString("|------|--------------|---------|\n")
		b.WriteString(fmt.Sprintf("| %s | %s | %s |\n\n", rec.ErrorKind, rec.FailedAt, escapeCell(rec.Error)))
	}

	// Resolved addresses and their bulk probe outcome
	b.WriteString("## Addresses\n\n")
	if len(rec.Addresses) > 0 {
		probes := make(map[string]models.AddressProbeResult, len(rec.Probes))
		for _, p := range rec.Probes {
			probes[p.Address.String()] = p
		}

		b.WriteString("| Address | Family | Reachability | Time | Error |\n")
		b.WriteString("|---------|--------|--------------|------|-------|\n")
		for _, a := range rec.Addresses {
			outcome, elapsed, errText := "-", "-", "-"
			if p, ok := probes[a.String()]; ok {
				outcome = string(p.Outcome)
				elapsed = fmt.Sprintf("%dms", p.ElapsedMillis)
				if p.Error != "" {
					errText = escapeCell(p.Error)
				}
			}
			b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n", a, a.Family, outcome, elapsed, errText))
		}
	} else {
		b.WriteString("None resolved.\n")
	}
	b.WriteString("\n")

	// TLS session
	b.WriteString("## TLS Session\n\n")
	if t := rec.TLS; t != nil {
		b.WriteString("| Property | Value |\n")
		b.WriteString("|----------|-------|\n")
		b.WriteString(fmt.Sprintf("| Protocol | %s |\n", t.Protocol))
		b.WriteString(fmt.Sprintf("| Cipher suite | %s |\n", t.CipherSuite))
		b.WriteString(fmt.Sprintf("| Cipher | %s (%d bits) |\n", t.CipherAlgorithm, t.CipherStrength))
		b.WriteString(fmt.Sprintf("| Hash | %s (%d bits) |\n", t.HashAlgorithm, t.HashStrength))
		b.WriteString(fmt.Sprintf("| Key exchange | %s (%d bits) |\n", t.KeyExchangeAlgorithm, t.KeyExchangeStrength))
		if c := t.Certificate; c != nil {
			b.WriteString(fmt.Sprintf("| Subject | %s |\n", escapeCell(c.Subject)))
			b.WriteString(fmt.Sprintf("| Issuer | %s |\n", escapeCell(c.Issuer)))
			b.WriteString(fmt.Sprintf("| Valid | %s to %s |\n",
				c.NotBefore.UTC().Format("2006-01-02"), c.NotAfter.UTC().Format("2006-01-02")))
			policy := "none"
			if len(c.PolicyErrors) > 0 {
				policy = escapeCell(strings.Join(c.PolicyErrors, "; "))
			}
			b.WriteString(fmt.Sprintf("| Policy errors | %s |\n", policy))
		}
	} else {
		b.WriteString("Not established.\n")
	}
	b.WriteString("\n")

	// Greeting
	b.WriteString("## Greeting\n\n")
	if g := rec.Greeting; g != nil {
		b.WriteString(fmt.Sprintf("**Status:** %s (%dms)\n", g.Status, g.ElapsedMillis))
		if g.Text != "" {
			b.WriteString(fmt.Sprintf("\n```\n%s\n```\n", g.Text))
		}
	} else {
		b.WriteString("Not attempted.\n")
	}
	b.WriteString("\n")

	// Transcript
	b.WriteString("## Transcript\n\n```text\n")
	for _, line := range rec.Transcript {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("```\n")

	return b.String()
}

// WriteRunReport renders rec as markdown and writes it to outputPath.
func WriteRunReport(rec *models.RunRecord, outputPath string) error {
	return writeFile(outputPath, RenderRunReport(rec))
}

// outcomeLabel is the one-line outcome shown in report headers.
func outcomeLabel(rec *models.RunRecord) string {
	switch rec.Status {
	case models.StatusSuccess:
		return "SUCCESS"
	case models.StatusAborted:
		return "FAILED (" + rec.ErrorKind + ")"
	default:
		return strings.ToUpper(string(rec.Status))
	}
}

// escapeCell keeps a value from breaking a markdown table row.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

// writeFile writes content to path, wrapping any OS error with context.
func writeFile(outputPath, content string) error {
	if err := os.WriteFile(outputPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing report to %s: %w", outputPath, err)
	}
	return nil
}
