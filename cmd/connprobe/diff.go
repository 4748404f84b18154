package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hakim/connprobe/internal/diff"
	"github.com/hakim/connprobe/internal/models"
	"github.com/hakim/connprobe/internal/report"
	"github.com/hakim/connprobe/internal/storage"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Compare two runs and report what changed",
	Long: `Compare a run against an earlier run of the same target.

The comparison covers the outcome, resolved addresses, per-address
reachability, the negotiated TLS session, the server certificate and the
greeting.

By default the latest run for --target is compared against the one before
it. Use --run and --compare to pick specific run IDs. With --output the
markdown diff report is also written to that path.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Step 1: Get flags
		target, _ := cmd.Flags().GetString("target")
		runID, _ := cmd.Flags().GetString("run")
		compareID, _ := cmd.Flags().GetString("compare")
		output, _ := cmd.Flags().GetString("output")

		if target == "" && runID == "" {
			return fmt.Errorf("either --target or --run is required")
		}

		// Step 2: Open bbolt store
		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		// Step 3: Resolve current and previous runs
		current, previous, err := pickRuns(store, target, runID, compareID)
		if err != nil {
			return err
		}
		if previous == nil {
			fmt.Printf("[!] No previous run found for comparison\n")
			return nil
		}

		fmt.Printf("[*] Current run:  %s (%s)\n", current.ID, current.StartedAt.UTC().Format("2006-01-02 15:04:05"))
		fmt.Printf("[*] Previous run: %s (%s)\n", previous.ID, previous.StartedAt.UTC().Format("2006-01-02 15:04:05"))

		// Step 4: Compute diff
		result := diff.ComputeDiff(current, previous)

		// Step 5: Print
		fmt.Println()
		fmt.Print(report.RenderDiffReport(result))

		// Step 6: Optional file output
		if output != "" {
			if err := report.WriteDiffReport(result, output); err != nil {
				fmt.Printf("[!] Warning: failed to write diff report: %v\n", err)
			} else {
				fmt.Printf("[+] Diff report written to %s\n", output)
			}
		}

		return nil
	},
}

// pickRuns loads the run to compare and its baseline. A nil previous with a
// nil error means the target has only one stored run.
func pickRuns(store *storage.Store, target, runID, compareID string) (current, previous *models.RunRecord, err error) {
	if runID != "" {
		current, err = store.GetRun(runID)
		if err != nil {
			return nil, nil, fmt.Errorf("loading run %s: %w", runID, err)
		}
		if current == nil {
			return nil, nil, fmt.Errorf("run %s not found", runID)
		}
		target = current.Target()
	} else {
		current, err = store.GetLatestRun(target)
		if err != nil {
			return nil, nil, fmt.Errorf("loading latest run for %s: %w", target, err)
		}
		if current == nil {
			return nil, nil, fmt.Errorf("no runs stored for %s. Run 'connprobe run' first", target)
		}
	}

	if compareID != "" {
		previous, err = store.GetRun(compareID)
		if err != nil {
			return nil, nil, fmt.Errorf("loading run %s: %w", compareID, err)
		}
		if previous == nil {
			return nil, nil, fmt.Errorf("run %s not found", compareID)
		}
		return current, previous, nil
	}

	// The run started just before current
	runs, err := store.ListRuns(target)
	if err != nil {
		return nil, nil, fmt.Errorf("listing runs for %s: %w", target, err)
	}
	for _, r := range runs {
		if r.ID != current.ID && r.StartedAt.Before(current.StartedAt) {
			return current, r, nil
		}
	}
	return current, nil, nil
}

func init() {
	diffCmd.Flags().StringP("target", "t", "", "Target as host:port (compares its two latest runs)")
	diffCmd.Flags().String("run", "", "Run ID to compare (default: latest for --target)")
	diffCmd.Flags().String("compare", "", "Run ID to compare against (default: the run before)")
	diffCmd.Flags().StringP("output", "o", "", "Also write the markdown diff report to this path")
	rootCmd.AddCommand(diffCmd)
}
