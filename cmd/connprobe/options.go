package main

import (
	"fmt"
	"strings"

	"github.com/hakim/connprobe/internal/config"
	"github.com/hakim/connprobe/internal/pipeline"
	"github.com/hakim/connprobe/internal/probe"
)

// buildOptions translates the probe and server sections of the config into
// pipeline options shared by the run and serve commands.
func buildOptions(c *config.Config) (pipeline.Options, error) {
	opts := pipeline.Options{
		Reach: probe.ReachOptions{
			Timeout:     c.Probe.ReachTimeoutDuration(),
			Parallel:    c.Probe.ParallelReach,
			MaxParallel: c.Probe.MaxParallel,
		},
		Greeting: probe.GreetingOptions{
			Timeout:    c.Probe.GreetingTimeoutDuration(),
			BufferSize: c.Probe.GreetingBuffer,
		},
	}

	if c.Probe.DNSServer != "" {
		opts.Resolver = probe.NewDNSResolver(c.Probe.DNSServer, c.Probe.ReachTimeoutDuration())
	}

	scope, err := pipeline.NewScope(c.Server.AllowedDomains, c.Server.AllowedCIDRs)
	if err != nil {
		return opts, fmt.Errorf("building scope: %w", err)
	}
	if !scope.Empty() {
		opts.Scope = scope
	}
	return opts, nil
}

// splitCSV splits a comma-separated flag value, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// shortRunID returns the first 8 characters of a UUID followed by "..." for
// compact table display.
func shortRunID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
