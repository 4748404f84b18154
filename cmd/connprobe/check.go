package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hakim/connprobe/internal/probe"
	"github.com/hakim/connprobe/internal/storage"
)

// checkResult is one row of the check table.
type checkResult struct {
	name   string
	ok     bool
	detail string
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the local setup",
	Long: `Verify that the configuration loads, the run database opens, the report
directory is writable and the configured target resolves with the
configured resolver. Nothing is sent to the target itself.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		results := []checkResult{
			{name: "config", ok: true, detail: configSource()},
			checkDatabase(cfg.DBPath),
			checkReportDir(cfg.ReportDir),
			checkResolve(cmd.Context(), cfg.Target.Server, cfg.Probe.DNSServer),
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Check\tStatus\tDetail")
		fmt.Fprintln(w, "-----\t------\t------")

		failed := 0
		for _, r := range results {
			status := "[+]"
			if !r.ok {
				status = "[-]"
				failed++
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.name, status, r.detail)
		}
		w.Flush()

		fmt.Println()
		fmt.Printf("Summary: %d/%d checks passed\n", len(results)-failed, len(results))
		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}

func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	return "defaults, environment and any connprobe.yaml found"
}

func checkDatabase(path string) checkResult {
	store, err := storage.NewStore(path)
	if err != nil {
		return checkResult{name: "database", detail: err.Error()}
	}
	defer store.Close()

	targets, err := store.Targets()
	if err != nil {
		return checkResult{name: "database", detail: err.Error()}
	}
	return checkResult{name: "database", ok: true, detail: fmt.Sprintf("%s (%d target(s))", path, len(targets))}
}

func checkReportDir(dir string) checkResult {
	if err := storage.EnsureDir(dir); err != nil {
		return checkResult{name: "report dir", detail: err.Error()}
	}
	f, err := os.CreateTemp(dir, ".check-*")
	if err != nil {
		return checkResult{name: "report dir", detail: err.Error()}
	}
	f.Close()
	os.Remove(f.Name())
	return checkResult{name: "report dir", ok: true, detail: dir}
}

func checkResolve(ctx context.Context, host, dnsServer string) checkResult {
	resolver := probe.SystemResolver()
	via := "system resolver"
	if dnsServer != "" {
		resolver = probe.NewDNSResolver(dnsServer, 0)
		via = dnsServer
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return checkResult{name: "dns", detail: fmt.Sprintf("%s via %s: %v", host, via, err)}
	}
	return checkResult{name: "dns", ok: true, detail: fmt.Sprintf("%s via %s: %d address(es)", host, via, len(addrs))}
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
