package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hakim/connprobe/internal/report"
	"github.com/hakim/connprobe/internal/storage"
)

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a stored run",
	Long: `Print a stored run by ID. The default output is the recorded transcript;
--format md renders the markdown report and --format json the raw record.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		rec, err := store.GetRun(args[0])
		if err != nil {
			return fmt.Errorf("loading run %s: %w", args[0], err)
		}
		if rec == nil {
			return fmt.Errorf("run %s not found", args[0])
		}

		out := cmd.OutOrStdout()
		switch format {
		case "text":
			fmt.Fprintln(out, strings.Join(rec.Transcript, "\n"))
		case "md":
			fmt.Fprint(out, report.RenderRunReport(rec))
		case "json":
			data, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling run: %w", err)
			}
			fmt.Fprintln(out, string(data))
		default:
			return fmt.Errorf("unknown format %q (want text, md or json)", format)
		}
		return nil
	},
}

func init() {
	showCmd.Flags().String("format", "text", "output format: text, md or json")
	rootCmd.AddCommand(showCmd)
}
