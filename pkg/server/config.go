package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML config file shape. Every field is optional;
// absent fields keep the value already in the Config (flag or default).
type fileConfig struct {
	Addr                  *string  `yaml:"addr"`
	MetricsAddr           *string  `yaml:"metrics_addr"`
	DBPath                *string  `yaml:"db_path"`
	StaticDir             *string  `yaml:"static_dir"`
	AllowedOrigins        []string `yaml:"allowed_origins"`
	PendingCallTTLSeconds *int     `yaml:"pending_call_ttl_seconds"`
	PingIntervalSeconds   *int     `yaml:"ping_interval_seconds"`
	WriteTimeoutSeconds   *int     `yaml:"write_timeout_seconds"`
}

// LoadConfigFile overlays a YAML config file onto cfg and returns the
// result.
func LoadConfigFile(path string, cfg Config) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return cfg, fmt.Errorf("server: read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("server: parse config: %w", err)
	}

	if fc.Addr != nil {
		cfg.Addr = *fc.Addr
	}
	if fc.MetricsAddr != nil {
		cfg.MetricsAddr = *fc.MetricsAddr
	}
	if fc.DBPath != nil {
		cfg.DBPath = *fc.DBPath
	}
	if fc.StaticDir != nil {
		cfg.StaticDir = *fc.StaticDir
	}
	if fc.AllowedOrigins != nil {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.PendingCallTTLSeconds != nil {
		cfg.PendingCallTTL = time.Duration(*fc.PendingCallTTLSeconds) * time.Second
	}
	if fc.PingIntervalSeconds != nil {
		cfg.PingInterval = time.Duration(*fc.PingIntervalSeconds) * time.Second
	}
	if fc.WriteTimeoutSeconds != nil {
		cfg.WriteTimeout = time.Duration(*fc.WriteTimeoutSeconds) * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the assembled configuration.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("server: addr must not be empty")
	}
	if c.PendingCallTTL < 0 {
		return fmt.Errorf("server: pending call TTL must not be negative")
	}
	if c.PingInterval < 0 {
		return fmt.Errorf("server: ping interval must not be negative")
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("server: write timeout must not be negative")
	}
	if c.StaticDir != "" {
		info, err := os.Stat(c.StaticDir)
		if err != nil {
			return fmt.Errorf("server: static dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("server: static dir %s is not a directory", c.StaticDir)
		}
	}
	return nil
}
