// Package config loads and validates the laszoo configuration file, per
// spec.md §6's recognized-key list.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config is the complete laszoo configuration.
type Config struct {
	MFSMount            string            `toml:"mfs_mount"`
	LaszooDir           string            `toml:"laszoo_dir"`
	DefaultSyncStrategy string            `toml:"default_sync_strategy"`
	AutoCommit          bool              `toml:"auto_commit"`
	AnnotatorEndpoint   string            `toml:"annotator_endpoint"`
	AnnotatorModel      string            `toml:"annotator_model"`
	Monitoring          MonitoringConfig  `toml:"monitoring"`
	Logging             LoggingConfig     `toml:"logging"`
	ExtraBindings       map[string]string `toml:"extra_bindings"`
}

// MonitoringConfig configures the Watch Loop.
type MonitoringConfig struct {
	Enabled      bool `toml:"enabled"`
	DebounceMS   int  `toml:"debounce_ms"`
	PollInterval int  `toml:"poll_interval"`
	WorkerCount  int  `toml:"worker_count"`
}

// LoggingConfig configures log/slog output, mirroring the teacher's
// --log-level/--log-format flags.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

const (
	defaultDebounceMS   = 500
	defaultPollInterval = 2
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
)

// Load reads, parses, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in every path-like string field.
func (c *Config) expandEnv() {
	c.MFSMount = os.ExpandEnv(c.MFSMount)
	c.LaszooDir = os.ExpandEnv(c.LaszooDir)
	c.AnnotatorEndpoint = os.ExpandEnv(c.AnnotatorEndpoint)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.DefaultSyncStrategy == "" || c.DefaultSyncStrategy == "auto" {
		c.DefaultSyncStrategy = "converge"
	}
	if c.Monitoring.DebounceMS == 0 {
		c.Monitoring.DebounceMS = defaultDebounceMS
	}
	if c.Monitoring.PollInterval == 0 {
		c.Monitoring.PollInterval = defaultPollInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.MFSMount == "" {
		return fmt.Errorf("mfs_mount is required")
	}
	if !filepath.IsAbs(c.MFSMount) {
		return fmt.Errorf("mfs_mount must be an absolute path: %s", c.MFSMount)
	}
	if c.LaszooDir != "" && !filepath.IsAbs(c.LaszooDir) {
		return fmt.Errorf("laszoo_dir must be an absolute path: %s", c.LaszooDir)
	}

	switch c.DefaultSyncStrategy {
	case "converge", "rollback", "forward", "freeze", "drift":
		// valid
	default:
		return fmt.Errorf("invalid default_sync_strategy: %s (must be converge, rollback, forward, freeze, or drift)", c.DefaultSyncStrategy)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
		// valid
	default:
		return fmt.Errorf("invalid logging.format: %s (must be text or json)", c.Logging.Format)
	}

	if c.AnnotatorEndpoint == "" && c.AnnotatorModel != "" {
		return fmt.Errorf("annotator_model is set but annotator_endpoint is empty")
	}

	return nil
}

// Root returns the shared-tree root: laszoo_dir if set, else mfs_mount
// itself (the mount point doubles as the root when laszoo owns the whole
// mount).
func (c *Config) Root() string {
	if c.LaszooDir != "" {
		return c.LaszooDir
	}
	return c.MFSMount
}
