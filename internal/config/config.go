// Package config handles configuration loading and validation for coldvault.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coldvault/coldvault/pkg/bytesize"
)

// Environment overrides. They win over the YAML file so containerized
// deployments can inject the storage root and secret without editing files.
const (
	EnvStorageRoot   = "COLDVAULT_STORAGE_ROOT"
	EnvSigningSecret = "COLDVAULT_SIGNING_SECRET"
)

// MinSecretLen is the minimum accepted signing-secret length in bytes.
const MinSecretLen = 32

// SweepConfig holds configuration for the retention sweep loop.
type SweepConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"` // Duration string, e.g. "24h"
}

// MonitorConfig holds configuration for the disk monitor loop.
type MonitorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interval  string `yaml:"interval"`   // Duration string, e.g. "60s"
	MaxAlerts int    `yaml:"max_alerts"` // Retained alert history (default: 100)
}

// StreamConfig holds configuration for the media streaming path.
type StreamConfig struct {
	SigningSecret string        `yaml:"signing_secret"` // At least 32 bytes; prefer the env override
	TokenTTL      string        `yaml:"token_ttl"`      // Duration string, e.g. "15m"
	MaxStreams    int           `yaml:"max_streams"`
	MaxPayload    bytesize.Size `yaml:"max_payload"` // e.g. "512MB"; 0 uses the built-in default
}

// Config is the engine's top-level configuration.
type Config struct {
	StorageRoot string        `yaml:"storage_root"`
	MetricsAddr string        `yaml:"metrics_addr"` // Prometheus listen address (empty disables)
	LogLevel    string        `yaml:"log_level"`
	Sweep       SweepConfig   `yaml:"sweep"`
	Monitor     MonitorConfig `yaml:"monitor"`
	Stream      StreamConfig  `yaml:"stream"`
}

// Load reads configuration from a YAML file, applies defaults, and applies
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Apply defaults
	if cfg.StorageRoot == "" {
		cfg.StorageRoot = "/var/lib/coldvault"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Sweep.Interval == "" {
		cfg.Sweep.Interval = "24h"
	}
	if cfg.Monitor.Interval == "" {
		cfg.Monitor.Interval = "60s"
	}
	if cfg.Monitor.MaxAlerts == 0 {
		cfg.Monitor.MaxAlerts = 100
	}
	if cfg.Stream.TokenTTL == "" {
		cfg.Stream.TokenTTL = "15m"
	}

	// Environment overrides
	if v := os.Getenv(EnvStorageRoot); v != "" {
		cfg.StorageRoot = v
	}
	if v := os.Getenv(EnvSigningSecret); v != "" {
		cfg.Stream.SigningSecret = v
	}

	// Expand home directory in storage root
	if strings.HasPrefix(cfg.StorageRoot, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			cfg.StorageRoot = filepath.Join(homeDir, cfg.StorageRoot[2:])
		}
	}

	return cfg, nil
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	if c.StorageRoot == "" {
		return fmt.Errorf("storage_root is required")
	}
	if _, err := time.ParseDuration(c.Sweep.Interval); err != nil {
		return fmt.Errorf("invalid sweep interval %q: %w", c.Sweep.Interval, err)
	}
	if _, err := time.ParseDuration(c.Monitor.Interval); err != nil {
		return fmt.Errorf("invalid monitor interval %q: %w", c.Monitor.Interval, err)
	}
	if _, err := time.ParseDuration(c.Stream.TokenTTL); err != nil {
		return fmt.Errorf("invalid token ttl %q: %w", c.Stream.TokenTTL, err)
	}
	if c.Stream.SigningSecret != "" && len(c.Stream.SigningSecret) < MinSecretLen {
		return fmt.Errorf("signing secret must be at least %d bytes, got %d",
			MinSecretLen, len(c.Stream.SigningSecret))
	}
	return nil
}

// SweepInterval returns the parsed sweep interval. Call Validate first.
func (c *Config) SweepInterval() time.Duration {
	d, _ := time.ParseDuration(c.Sweep.Interval)
	return d
}

// MonitorInterval returns the parsed monitor poll interval.
func (c *Config) MonitorInterval() time.Duration {
	d, _ := time.ParseDuration(c.Monitor.Interval)
	return d
}

// TokenTTL returns the parsed access-token lifetime.
func (c *Config) TokenTTL() time.Duration {
	d, _ := time.ParseDuration(c.Stream.TokenTTL)
	return d
}
