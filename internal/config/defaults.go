package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hakim/connprobe/internal/models"
)

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		DBPath:    "connprobe.db",
		ReportDir: "reports",
		Target: TargetConfig{
			Server:  models.DefaultServer,
			Port:    models.DefaultPort,
			Timeout: models.DefaultTimeout.String(),
		},
		Probe: ProbeConfig{
			ReachTimeout:    "5s",
			GreetingTimeout: "5s",
			GreetingBuffer:  4096,
			ParallelReach:   false,
			MaxParallel:     8,
			DNSServer:       "",
		},
		Server: ServerConfig{
			Listen:         ":8080",
			AllowedDomains: []string{},
			AllowedCIDRs:   []string{},
		},
		Notify: NotifyConfig{},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// WriteDefault writes a default configuration to the specified path
func WriteDefault(path string) error {
	return DefaultConfig().Write(path)
}

// Write marshals c as YAML to path.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
