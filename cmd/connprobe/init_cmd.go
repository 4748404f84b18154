package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hakim/connprobe/internal/config"
	"github.com/hakim/connprobe/internal/pipeline"
	"github.com/hakim/connprobe/internal/storage"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a connprobe workspace",
	Long: `Creates connprobe.yaml, the report directory and the run database in
--dir. The default target written to the config can be seeded with
--preset or --server/--port; otherwise it is imap.gmail.com:993.

Examples:
  connprobe init
  connprobe init --dir ./diag --preset outlook-imap
  connprobe init --server mail.example.com --port 995 --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		force, _ := cmd.Flags().GetBool("force")
		presetName, _ := cmd.Flags().GetString("preset")
		server, _ := cmd.Flags().GetString("server")
		port, _ := cmd.Flags().GetInt("port")

		seed := config.DefaultConfig()
		if presetName != "" {
			preset, err := pipeline.GetPreset(presetName)
			if err != nil {
				return err
			}
			seed.Target.Server, seed.Target.Port = preset.Server, preset.Port
		}
		if cmd.Flags().Changed("server") {
			seed.Target.Server = server
		}
		if cmd.Flags().Changed("port") {
			seed.Target.Port = port
		}

		return initWorkspace(cmd.OutOrStdout(), dir, seed, force)
	},
}

// initWorkspace writes seed as dir/connprobe.yaml with the database and
// report paths placed under dir, then creates both. An existing config is
// only replaced when force is set.
func initWorkspace(out io.Writer, dir string, seed *config.Config, force bool) error {
	if err := seed.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if err := storage.EnsureDir(dir); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, "connprobe.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config file already exists at %s. Use --force to overwrite", configPath)
	}

	ws := *seed
	ws.DBPath = filepath.Join(dir, filepath.Base(seed.DBPath))
	ws.ReportDir = filepath.Join(dir, filepath.Base(seed.ReportDir))

	if err := ws.Write(configPath); err != nil {
		return err
	}
	fmt.Fprintf(out, "[+] Config:   %s (target %s)\n", configPath, ws.ProbeTarget())

	if err := storage.EnsureDir(ws.ReportDir); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	fmt.Fprintf(out, "[+] Reports:  %s\n", ws.ReportDir)

	store, err := storage.NewStore(ws.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	fmt.Fprintf(out, "[+] Database: %s\n", ws.DBPath)

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Next: connprobe check --config %s\n", configPath)
	fmt.Fprintf(out, "      connprobe run --config %s\n", configPath)
	return nil
}

func init() {
	initCmd.Flags().String("dir", ".", "workspace directory")
	initCmd.Flags().Bool("force", false, "overwrite an existing connprobe.yaml")
	initCmd.Flags().String("preset", "", "seed the target from a preset")
	initCmd.Flags().StringP("server", "s", "", "seed the target hostname")
	initCmd.Flags().IntP("port", "p", 0, "seed the target port")
	rootCmd.AddCommand(initCmd)
}
