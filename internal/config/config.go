// ABOUTME: Configuration loading and defaults for hikmaai-koodous
// ABOUTME: Handles YAML config files and environment variable overrides

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvToken   = "KOODOUS_TOKEN"
	EnvBaseURL = "KOODOUS_BASE_URL"
	EnvNATSURL = "KOODOUS_NATS_URL"
)

const appName = "hikmaai-koodous"

// ErrMissingToken is returned by Validate when no API token is configured.
var ErrMissingToken = errors.New("koodous API token is required (set koodous.token or " + EnvToken + ")")

// Config holds the complete configuration for hikmaai-koodous.
type Config struct {
	// Koodous API settings.
	Koodous KoodousConfig `yaml:"koodous"`

	// Data directory for the local sample index.
	DataDir string `yaml:"data_dir"`

	// NATS gateway configuration.
	NATS NATSConfig `yaml:"nats"`

	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`

	// Ruleset sync settings.
	Sync SyncConfig `yaml:"sync"`
}

// KoodousConfig holds API client settings.
type KoodousConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
	PageSize int           `yaml:"page_size"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds tracing settings.
type TracingConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// DefaultConfig returns a Config with default values.
// NATS and tracing are disabled until configured.
func DefaultConfig() *Config {
	return &Config{
		Koodous: KoodousConfig{
			BaseURL:  "https://api.koodous.com",
			PageSize: 25,
		},
		DataDir: DefaultDataDir(),
		NATS: NATSConfig{
			URL:     "",
			Subject: "koodous.lookup",
			Queue:   "koodous-gateway",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
		Sync: DefaultSyncConfig(),
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. A missing file is not an error when path is the
// default location.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

// applyEnv overrides settings from the environment.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvToken)); v != "" {
		c.Koodous.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvBaseURL)); v != "" {
		c.Koodous.BaseURL = v
	}
	if v := strings.TrimSpace(getenv(EnvNATSURL)); v != "" {
		c.NATS.URL = v
	}
}

// Validate checks the settings needed to talk to the API.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Koodous.Token) == "" {
		return ErrMissingToken
	}

	u, err := url.Parse(c.Koodous.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid koodous.base_url %q", c.Koodous.BaseURL)
	}
	if c.Koodous.PageSize < 0 {
		return fmt.Errorf("koodous.page_size must not be negative, got %d", c.Koodous.PageSize)
	}
	if c.Koodous.Timeout < 0 {
		return fmt.Errorf("koodous.timeout must not be negative, got %v", c.Koodous.Timeout)
	}
	if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
		return fmt.Errorf("tracing.sampling_ratio must be within [0,1], got %v", c.Tracing.SamplingRatio)
	}
	return c.Sync.Retry.Validate()
}

// DefaultDataDir returns the default data directory.
func DefaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/var/lib", appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName, "config.yaml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/etc", appName, "config.yaml")
	}

	return filepath.Join(home, ".config", appName, "config.yaml")
}
