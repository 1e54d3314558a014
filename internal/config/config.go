package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDebounce     = 150 * time.Millisecond
	DefaultPollInterval = 2 * time.Second
	DefaultListen       = "127.0.0.1:8088"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
)

var legacyDrivers = map[string]bool{
	"memory":   true,
	"sqlite":   true,
	"postgres": true,
	"file":     true,
}

type ProjectConfig struct {
	Project string       `yaml:"project"`
	Version int          `yaml:"version"`
	Sync    SyncConfig   `yaml:"sync"`
	Legacy  LegacyConfig `yaml:"legacy"`
	Log     LogConfig    `yaml:"log"`
	HTTP    HTTPConfig   `yaml:"http"`
	Schema  string       `yaml:"schema"`

	// directory of the loaded file; relative paths resolve against it
	dir string
}

type SyncConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

type LegacyConfig struct {
	Driver       string        `yaml:"driver"`
	DSN          string        `yaml:"dsn"`
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

func LoadProjectConfig(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	cfg.applyDefaults()
	if err := validateProjectConfig(&cfg); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}
	cfg.dir = filepath.Dir(abs)
	return &cfg, nil
}

func (c *ProjectConfig) applyDefaults() {
	if c.Sync.Debounce == 0 {
		c.Sync.Debounce = DefaultDebounce
	}
	if c.Legacy.Driver == "" {
		c.Legacy.Driver = "memory"
	}
	if c.Legacy.PollInterval == 0 {
		c.Legacy.PollInterval = DefaultPollInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = DefaultListen
	}
}

// Resolve returns p relative to the config file's directory unless it is
// already absolute.
func (c *ProjectConfig) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// SchemaPath is the entry property schema location, schema.yaml next to
// the config unless overridden.
func (c *ProjectConfig) SchemaPath() string {
	if c.Schema != "" {
		return c.Resolve(c.Schema)
	}
	return c.Resolve("schema.yaml")
}

func validateProjectConfig(cfg *ProjectConfig) error {
	if strings.TrimSpace(cfg.Project) == "" {
		return fmt.Errorf("project name is required")
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported version: %d", cfg.Version)
	}
	if cfg.Sync.Debounce < 0 {
		return fmt.Errorf("sync debounce must not be negative")
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Legacy.Driver))
	if !legacyDrivers[driver] {
		return fmt.Errorf("unknown legacy driver: %s", cfg.Legacy.Driver)
	}
	cfg.Legacy.Driver = driver
	switch driver {
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.Legacy.DSN) == "" {
			return fmt.Errorf("legacy dsn is required for driver %s", driver)
		}
	case "file":
		if strings.TrimSpace(cfg.Legacy.Path) == "" {
			return fmt.Errorf("legacy path is required for driver file")
		}
	}
	if cfg.Legacy.PollInterval < 0 {
		return fmt.Errorf("legacy poll interval must not be negative")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format: %s", cfg.Log.Format)
	}

	return nil
}
