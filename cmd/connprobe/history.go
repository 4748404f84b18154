package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hakim/connprobe/internal/models"
	"github.com/hakim/connprobe/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show stored runs for a target",
	Long: `Display a table of past runs for a target given as host:port.

Runs are listed newest-first. Each row shows the run ID (truncated), start
time, outcome and the stage the run failed at, if any. Without --target the
command lists every target that has stored runs.

Use --limit to cap the number of rows shown (default: 10).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Step 1: Get flags
		target, _ := cmd.Flags().GetString("target")
		limit, _ := cmd.Flags().GetInt("limit")

		// Step 2: Open bbolt store
		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		if target == "" {
			targets, err := store.Targets()
			if err != nil {
				return fmt.Errorf("listing targets: %w", err)
			}
			if len(targets) == 0 {
				fmt.Println("No runs stored yet. Try 'connprobe run'.")
				return nil
			}
			fmt.Println("Targets with stored runs:")
			for _, t := range targets {
				fmt.Printf("  %s\n", t)
			}
			return nil
		}

		// Step 3: List runs (sorted newest-first by store.ListRuns)
		runs, err := store.ListRuns(target)
		if err != nil {
			return fmt.Errorf("listing runs for %s: %w", target, err)
		}

		if len(runs) == 0 {
			fmt.Printf("No run history found for %s\n", target)
			return nil
		}

		// Step 4: Apply limit
		if limit > 0 && len(runs) > limit {
			runs = runs[:limit]
		}

		// Step 5: Print formatted table
		const separator = "────────────────────────────────────────────────────────────────────────"

		fmt.Printf("\nRun History for %s\n", target)
		fmt.Println(separator)
		fmt.Printf("  %-3s  %-12s  %-20s  %-8s  %s\n", "#", "Run ID", "Started", "Status", "Failure")
		fmt.Println(separator)

		for i, run := range runs {
			fmt.Printf("  %-3d  %-12s  %-20s  %-8s  %s\n",
				i+1,
				shortRunID(run.ID),
				run.StartedAt.UTC().Format("2006-01-02 15:04"),
				string(run.Status),
				formatFailure(run))
		}

		fmt.Println(separator)
		fmt.Printf("Total: %d run(s)\n\n", len(runs))

		return nil
	},
}

// formatFailure describes where a run failed, or "-" when it did not.
func formatFailure(run *models.RunRecord) string {
	if run.ErrorKind == "" {
		return "-"
	}
	return fmt.Sprintf("%s (after %s)", run.ErrorKind, run.FailedAt)
}

func init() {
	historyCmd.Flags().StringP("target", "t", "", "Target as host:port (lists targets when empty)")
	historyCmd.Flags().Int("limit", 10, "Maximum number of runs to display")
	rootCmd.AddCommand(historyCmd)
}
