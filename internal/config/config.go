// Package config loads the process bootstrap configuration: where the
// document store lives, where the admin surface binds, and the
// security defaults. Route and listener documents live in the store,
// not here.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/YASSERRMD/naseejmesh/internal/logging"
	"github.com/YASSERRMD/naseejmesh/internal/security"
	"github.com/YASSERRMD/naseejmesh/internal/tracing"
)

// Config is the process bootstrap configuration.
type Config struct {
	AdminAddr string          `yaml:"admin_addr"`
	StorePath string          `yaml:"store_path"`
	DevMode   bool            `yaml:"dev_mode"`
	Logging   logging.Config  `yaml:"logging"`
	Security  security.Config `yaml:"security"`
	Tracing   tracing.Config  `yaml:"tracing"`

	MaxBodySize     int64         `yaml:"max_body_size"`
	BucketIdleEvict time.Duration `yaml:"bucket_idle_evict"`
	ReloadDebounce  time.Duration `yaml:"reload_debounce"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		AdminAddr:       "0.0.0.0:9090",
		StorePath:       "data/naseejmesh.db",
		MaxBodySize:     2 << 20,
		BucketIdleEvict: 10 * time.Minute,
		ReloadDebounce:  200 * time.Millisecond,
		Logging:         logging.Config{Level: "info", Output: "stdout"},
	}
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a YAML config file, expanding ${VAR} references from the
// environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})

	cfg := Default()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the process relies on.
func (c *Config) Validate() error {
	if c.AdminAddr == "" {
		return fmt.Errorf("config: admin_addr must not be empty")
	}
	if c.StorePath == "" {
		return fmt.Errorf("config: store_path must not be empty")
	}
	if c.MaxBodySize <= 0 {
		return fmt.Errorf("config: max_body_size must be positive")
	}
	return nil
}
