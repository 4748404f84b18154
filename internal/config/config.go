package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/hakim/connprobe/internal/models"
)

// Config represents the application configuration
type Config struct {
	DBPath    string       `mapstructure:"db_path" yaml:"db_path"`
	ReportDir string       `mapstructure:"report_dir" yaml:"report_dir"`
	Target    TargetConfig `mapstructure:"target" yaml:"target"`
	Probe     ProbeConfig  `mapstructure:"probe" yaml:"probe"`
	Server    ServerConfig `mapstructure:"server" yaml:"server"`
	Notify    NotifyConfig `mapstructure:"notify" yaml:"notify"`
	Log       LogConfig    `mapstructure:"log" yaml:"log"`
}

// TargetConfig is the endpoint probed when no flag or query parameter
// names one
type TargetConfig struct {
	Server  string `mapstructure:"server" yaml:"server"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Timeout string `mapstructure:"timeout" yaml:"timeout"`
}

// ProbeConfig tunes the individual stages
type ProbeConfig struct {
	ReachTimeout    string `mapstructure:"reach_timeout" yaml:"reach_timeout"`
	GreetingTimeout string `mapstructure:"greeting_timeout" yaml:"greeting_timeout"`
	GreetingBuffer  int    `mapstructure:"greeting_buffer" yaml:"greeting_buffer"`
	ParallelReach   bool   `mapstructure:"parallel_reach" yaml:"parallel_reach"`
	MaxParallel     int    `mapstructure:"max_parallel" yaml:"max_parallel"`
	DNSServer       string `mapstructure:"dns_server" yaml:"dns_server"`
}

// ServerConfig controls the HTTP presentation layer
type ServerConfig struct {
	Listen         string   `mapstructure:"listen" yaml:"listen"`
	AllowedDomains []string `mapstructure:"allowed_domains" yaml:"allowed_domains"`
	AllowedCIDRs   []string `mapstructure:"allowed_cidrs" yaml:"allowed_cidrs"`
}

// NotifyConfig holds the completion webhook
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

// LogConfig selects the zerolog level and output format
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// envAliases maps config keys to the bare environment variables the
// diagnostic has always honoured, in addition to CONNPROBE_<KEY>.
var envAliases = map[string]string{
	"target.server": "SERVER_FQDN",
	"target.port":   "SERVER_PORT",
}

// Load reads configuration from defaults, an optional YAML file, a .env
// file and the environment, in increasing order of precedence.
// If path is empty, searches for connprobe.yaml in the current directory,
// ./configs and ~/.config/connprobe/; a missing file is not an error then.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("CONNPROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		if err := v.BindEnv(key, "CONNPROBE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), alias); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if path != "" {
		// Use explicit path
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		v.SetConfigName("connprobe")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".config", "connprobe"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	// An unparseable port falls back to the default rather than failing.
	if raw := v.GetString("target.port"); raw != "" {
		if _, err := strconv.Atoi(strings.TrimSpace(raw)); err != nil {
			log.Warn().Str("port", raw).Int("fallback", models.DefaultPort).Msg("invalid target port, using default")
			v.Set("target.port", models.DefaultPort)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so environment overrides apply even when
// no config file mentions them.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("report_dir", d.ReportDir)
	v.SetDefault("target.server", d.Target.Server)
	v.SetDefault("target.port", d.Target.Port)
	v.SetDefault("target.timeout", d.Target.Timeout)
	v.SetDefault("probe.reach_timeout", d.Probe.ReachTimeout)
	v.SetDefault("probe.greeting_timeout", d.Probe.GreetingTimeout)
	v.SetDefault("probe.greeting_buffer", d.Probe.GreetingBuffer)
	v.SetDefault("probe.parallel_reach", d.Probe.ParallelReach)
	v.SetDefault("probe.max_parallel", d.Probe.MaxParallel)
	v.SetDefault("probe.dns_server", d.Probe.DNSServer)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.allowed_domains", d.Server.AllowedDomains)
	v.SetDefault("server.allowed_cidrs", d.Server.AllowedCIDRs)
	v.SetDefault("notify.webhook_url", d.Notify.WebhookURL)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path cannot be empty"))
	}

	if strings.TrimSpace(c.Target.Server) == "" {
		errs = append(errs, errors.New("target.server cannot be empty"))
	}

	if c.Target.Port < 1 || c.Target.Port > 65535 {
		errs = append(errs, fmt.Errorf("target.port %d out of range 1-65535", c.Target.Port))
	}

	for key, val := range map[string]string{
		"target.timeout":         c.Target.Timeout,
		"probe.reach_timeout":    c.Probe.ReachTimeout,
		"probe.greeting_timeout": c.Probe.GreetingTimeout,
	} {
		if d, err := time.ParseDuration(val); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}

	if c.Probe.GreetingBuffer <= 0 {
		errs = append(errs, errors.New("probe.greeting_buffer must be positive"))
	}

	if c.Probe.MaxParallel < 0 {
		errs = append(errs, errors.New("probe.max_parallel cannot be negative"))
	}

	for _, cidr := range c.Server.AllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = append(errs, fmt.Errorf("server.allowed_cidrs: %w", err))
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ProbeTarget returns the configured default target.
func (c *Config) ProbeTarget() models.ProbeTarget {
	return models.ProbeTarget{
		Host:    c.Target.Server,
		Port:    c.Target.Port,
		Timeout: parseDuration(c.Target.Timeout, models.DefaultTimeout),
	}
}

// ReachTimeoutDuration returns probe.reach_timeout as a duration.
func (p ProbeConfig) ReachTimeoutDuration() time.Duration {
	return parseDuration(p.ReachTimeout, 0)
}

// GreetingTimeoutDuration returns probe.greeting_timeout as a duration.
func (p ProbeConfig) GreetingTimeoutDuration() time.Duration {
	return parseDuration(p.GreetingTimeout, 0)
}

// parseDuration parses s, returning def when s is empty or malformed.
// Validate reports malformed values before this is reached.
func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
