package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hakim/connprobe/internal/models"
	"github.com/hakim/connprobe/internal/pipeline"
)

var wizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Interactive wizard to configure and launch a diagnostic",
	Long: `Walk through run configuration one question at a time.

The wizard asks for a preset or a server and port, the timeout, whether to
probe addresses in parallel, a report format and an optional webhook URL.
It then prints a summary and asks for confirmation before running the
diagnostic with the same logic as 'connprobe run'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := askWizard(bufio.NewReader(os.Stdin), os.Stdout, cfg.ProbeTarget())
		if err != nil || w == nil {
			return err
		}

		opts, err := buildOptions(cfg)
		if err != nil {
			return err
		}
		opts.Reach.Parallel = w.parallel

		return executeRun(cmd.Context(), os.Stdout, w.target, opts, runSettings{
			save:         true,
			reportFormat: w.reportFormat,
			webhookURL:   w.webhookURL,
		})
	},
}

// wizardAnswers is everything the wizard collects before a run.
type wizardAnswers struct {
	target       models.ProbeTarget
	preset       string
	parallel     bool
	reportFormat string
	webhookURL   string
}

// askWizard runs the question sequence. It returns nil answers when the
// user declines the final confirmation.
func askWizard(reader *bufio.Reader, out io.Writer, defaults models.ProbeTarget) (*wizardAnswers, error) {
	fmt.Fprintln(out, "[*] connprobe Interactive Wizard")
	fmt.Fprintln(out, "[*] Press Enter to accept the default shown in brackets.")
	fmt.Fprintln(out)

	w := &wizardAnswers{target: defaults}

	// 1. Preset or custom target
	names := pipeline.PresetNames()
	presets := pipeline.BuiltinPresets()
	fmt.Fprintln(out, "    Targets:")
	fmt.Fprintf(out, "      [0] custom  (default %s)\n", defaults)
	for i, name := range names {
		fmt.Fprintf(out, "      [%d] %-14s %s\n", i+1, name, presets[name].Target())
	}

	choice := wizardPrompt(reader, out, "[?] Choose target [0]: ", "0")
	if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(names) {
		w.preset = names[n-1]
	} else if _, ok := presets[choice]; ok {
		w.preset = choice
	} else if choice != "0" {
		fmt.Fprintf(out, "[!] Unknown choice %q, using a custom target\n", choice)
	}

	if w.preset != "" {
		p := presets[w.preset]
		w.target.Host, w.target.Port = p.Server, p.Port
	} else {
		fmt.Fprintln(out)
		w.target.Host = wizardPrompt(reader, out, fmt.Sprintf("[?] Server [%s]: ", defaults.Host), defaults.Host)
		portInput := wizardPrompt(reader, out, fmt.Sprintf("[?] Port [%d]: ", defaults.Port), strconv.Itoa(defaults.Port))
		port, err := strconv.Atoi(portInput)
		if err != nil || port < 1 || port > 65535 {
			fmt.Fprintf(out, "[!] Could not parse %q as a port, using %d\n", portInput, models.DefaultPort)
			port = models.DefaultPort
		}
		w.target.Port = port
	}

	// 2. Timeout
	fmt.Fprintln(out)
	def := defaults.EffectiveTimeout()
	timeoutInput := wizardPrompt(reader, out, fmt.Sprintf("[?] Timeout (Go duration, e.g. 10s, 1m) [%s]: ", def), def.String())
	timeout, err := time.ParseDuration(timeoutInput)
	if err != nil || timeout <= 0 {
		fmt.Fprintf(out, "[!] Could not parse %q as a duration, using %s\n", timeoutInput, def)
		timeout = def
	}
	w.target.Timeout = timeout

	// 3. Parallel probing
	w.parallel = strings.EqualFold(wizardPrompt(reader, out, "[?] Probe addresses in parallel? [y/N]: ", "n"), "y")

	// 4. Report
	switch r := wizardPrompt(reader, out, "[?] Report format (md, html, none) [none]: ", "none"); r {
	case "md", "html":
		w.reportFormat = r
	case "none":
	default:
		fmt.Fprintf(out, "[!] Unknown report format %q, skipping report\n", r)
	}

	// 5. Webhook
	w.webhookURL = wizardPrompt(reader, out, "[?] Webhook URL (optional, press Enter to skip): ", "")

	// Summary + confirmation
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[*] Ready to test:")
	fmt.Fprintf(out, "    Target:   %s\n", w.target)
	if w.preset != "" {
		fmt.Fprintf(out, "    Preset:   %s\n", w.preset)
	}
	fmt.Fprintf(out, "    Timeout:  %s\n", w.target.Timeout)
	fmt.Fprintf(out, "    Parallel: %t\n", w.parallel)
	if w.reportFormat != "" {
		fmt.Fprintf(out, "    Report:   %s\n", w.reportFormat)
	}
	if w.webhookURL != "" {
		fmt.Fprintf(out, "    Webhook:  %s\n", w.webhookURL)
	} else {
		fmt.Fprintln(out, "    Webhook:  (none)")
	}
	fmt.Fprintln(out)

	if err := w.target.Validate(); err != nil {
		return nil, fmt.Errorf("wizard: %w", err)
	}

	if strings.EqualFold(wizardPrompt(reader, out, "Start test? [Y/n]: ", "y"), "n") {
		fmt.Fprintln(out, "Cancelled.")
		return nil, nil
	}
	return w, nil
}

// wizardPrompt prints a prompt, reads a line, trims whitespace, and returns
// the default value if the user pressed Enter without typing anything.
func wizardPrompt(reader *bufio.Reader, out io.Writer, prompt, defaultVal string) string {
	fmt.Fprint(out, prompt)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		// On EOF or read error, fall back to the default.
		return defaultVal
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultVal
	}
	return line
}

func init() {
	rootCmd.AddCommand(wizardCmd)
}
