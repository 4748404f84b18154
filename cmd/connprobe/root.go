package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hakim/connprobe/internal/config"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "connprobe",
	Short: "Staged network reachability diagnostic for TLS services",
	Long: `connprobe checks whether a TLS service (typically an IMAP, POP3 or SMTP
mail server) is reachable, and if not, where along the way it breaks.

A run resolves the hostname, probes every resolved address, opens a TCP
connection, performs a TLS handshake that reports (but never rejects)
certificate problems, waits briefly for a server greeting and prints a
summary. Every step is recorded in a transcript that can be printed,
streamed over a websocket, rendered as HTML and stored for later diffing.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Commands that work without a config
		skipConfig := map[string]bool{
			"init":    true,
			"presets": true,
			"help":    true,
			"version": true,
		}

		if skipConfig[cmd.Name()] {
			setupLogging("info", "console", verbose)
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		setupLogging(cfg.Log.Level, cfg.Log.Format, verbose)
		return nil
	},
}

// setupLogging configures the global zerolog logger. Logs go to stderr so
// stdout carries only the transcript.
func setupLogging(level, format string, verbose bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: search ./connprobe.yaml, ./configs, ~/.config/connprobe)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging")

	rootCmd.Version = "0.1.0-dev"
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
