package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hakim/connprobe/internal/pipeline"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List built-in named targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		presets := pipeline.BuiltinPresets()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Name\tTarget\tDescription")
		fmt.Fprintln(w, "----\t------\t-----------")
		for _, name := range pipeline.PresetNames() {
			p := presets[name]
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Target(), p.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}
