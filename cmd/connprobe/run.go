package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hakim/connprobe/internal/models"
	"github.com/hakim/connprobe/internal/pipeline"
	"github.com/hakim/connprobe/internal/probe"
	"github.com/hakim/connprobe/internal/report"
	"github.com/hakim/connprobe/internal/storage"
	"github.com/hakim/connprobe/internal/transcript"
)

// errRunFailed makes the process exit non-zero after a failed diagnostic
// whose details are already in the transcript.
var errRunFailed = errors.New("connectivity test failed")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the connectivity diagnostic against one server",
	Long: `Run the staged connectivity diagnostic against a server and print the
transcript as it is recorded.

The target comes from, in increasing order of precedence: the config file,
SERVER_FQDN/SERVER_PORT (or CONNPROBE_TARGET_SERVER/CONNPROBE_TARGET_PORT),
--preset, and the --server/--port flags.

The run is saved to the configured database unless --no-save is given, so
history and diff work across runs. With --report a markdown or HTML report
is written to {report_dir}/{target}_{timestamp}.{md,html}.

Examples:
  connprobe run
  connprobe run -s imap.example.com -p 993
  connprobe run --preset outlook-imap --report html
  connprobe run -s mail.example.com --parallel --dns-server 1.1.1.1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Step 1: Get flags
		server, _ := cmd.Flags().GetString("server")
		port, _ := cmd.Flags().GetInt("port")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		presetName, _ := cmd.Flags().GetString("preset")
		parallel, _ := cmd.Flags().GetBool("parallel")
		dnsServer, _ := cmd.Flags().GetString("dns-server")
		noSave, _ := cmd.Flags().GetBool("no-save")
		reportFormat, _ := cmd.Flags().GetString("report")
		webhookURL, _ := cmd.Flags().GetString("notify-webhook")
		scopeDomains, _ := cmd.Flags().GetString("scope-domains")

		if reportFormat != "" && reportFormat != "md" && reportFormat != "html" {
			return fmt.Errorf("unknown report format %q (want md or html)", reportFormat)
		}

		// Step 2: Resolve target (flags override preset, preset overrides config)
		target := cfg.ProbeTarget()
		if presetName != "" {
			preset, err := pipeline.GetPreset(presetName)
			if err != nil {
				return err
			}
			target.Host, target.Port = preset.Server, preset.Port
		}
		if cmd.Flags().Changed("server") {
			target.Host = server
		}
		if cmd.Flags().Changed("port") {
			target.Port = port
		}
		if cmd.Flags().Changed("timeout") {
			target.Timeout = timeout
		}

		// Step 3: Build options
		opts, err := buildOptions(cfg)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("parallel") {
			opts.Reach.Parallel = parallel
		}
		if dnsServer != "" {
			opts.Resolver = probe.NewDNSResolver(dnsServer, opts.Reach.Timeout)
		}
		if scopeDomains != "" {
			scope, err := pipeline.NewScope(splitCSV(scopeDomains), cfg.Server.AllowedCIDRs)
			if err != nil {
				return err
			}
			opts.Scope = scope
		}

		if webhookURL == "" {
			webhookURL = cfg.Notify.WebhookURL
		}

		return executeRun(cmd.Context(), cmd.OutOrStdout(), target, opts, runSettings{
			save:         !noSave,
			reportFormat: reportFormat,
			webhookURL:   webhookURL,
		})
	},
}

// runSettings are the per-invocation choices shared by run and wizard.
type runSettings struct {
	save         bool
	reportFormat string
	webhookURL   string
}

// executeRun performs one diagnostic, streaming the transcript to out, then
// notifies, writes the optional report, and maps an aborted run to
// errRunFailed.
func executeRun(ctx context.Context, out io.Writer, target models.ProbeTarget, opts pipeline.Options, s runSettings) error {
	if s.save {
		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()
		opts.Store = store
	}

	rec := transcript.New()
	rec.Subscribe(func(e transcript.Entry) {
		fmt.Fprintln(out, e.Text)
	})
	opts.Transcript = rec

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	res, runErr := pipeline.RunDiagnostic(ctx, target, opts)

	notify := &pipeline.NotifyConfig{WebhookURL: s.webhookURL}
	if err := notify.SendCompletion(res); err != nil {
		log.Warn().Err(err).Msg("webhook notification failed")
	}

	if s.reportFormat != "" {
		if err := writeRunReport(res.Record(), s.reportFormat); err != nil {
			log.Warn().Err(err).Msg("failed to write report")
		}
	}

	if runErr != nil {
		return errRunFailed
	}
	return nil
}

// writeRunReport renders rec in format (md or html) under the configured
// report directory.
func writeRunReport(rec *models.RunRecord, format string) error {
	var content string
	switch format {
	case "html":
		page, err := report.RenderHTML(rec)
		if err != nil {
			return err
		}
		content = page
	default:
		content = report.RenderRunReport(rec)
	}

	path := storage.ReportPath(cfg.ReportDir, rec.Target(), rec.StartedAt, format)
	if err := storage.WriteReport(path, []byte(content)); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("report written")
	return nil
}

func init() {
	runCmd.Flags().StringP("server", "s", "", "server hostname (default from config or SERVER_FQDN)")
	runCmd.Flags().IntP("port", "p", models.DefaultPort, "server port (default from config or SERVER_PORT)")
	runCmd.Flags().Duration("timeout", models.DefaultTimeout, "timeout for the detailed connect stage")
	runCmd.Flags().String("preset", "", "named target (see 'connprobe presets')")
	runCmd.Flags().Bool("parallel", false, "probe resolved addresses concurrently")
	runCmd.Flags().String("dns-server", "", "query this DNS server directly instead of the system resolver")
	runCmd.Flags().Bool("no-save", false, "do not store the run in the database")
	runCmd.Flags().String("report", "", "write a report: md or html")
	runCmd.Flags().String("notify-webhook", "", "POST a JSON summary to this URL when the run ends")
	runCmd.Flags().String("scope-domains", "", "comma-separated allowed domains (e.g. example.com,*.example.com)")
	rootCmd.AddCommand(runCmd)
}
