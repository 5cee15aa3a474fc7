// Package config loads the service configuration from YAML with
// built-in defaults, in the same shape the policy thresholds use.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig holds postgres settings. An empty DSN selects the
// in-memory repositories.
type DatabaseConfig struct {
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig holds the read-through cache settings
type RedisConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	TTL     time.Duration `yaml:"ttl"`
}

// AuditConfig selects the decision-audit failure policy. Hard-stop resets
// and version mutations are always fail-closed regardless of this flag.
type AuditConfig struct {
	FailOpenDecisions bool `yaml:"fail_open_decisions"`
}

// Config is the full service configuration
type Config struct {
	Server     ServerConfig   `yaml:"server"`
	Database   DatabaseConfig `yaml:"database"`
	Redis      RedisConfig    `yaml:"redis"`
	Audit      AuditConfig    `yaml:"audit"`
	PolicyPath string         `yaml:"policy_path"`
	LogLevel   string         `yaml:"log_level"`
}

// Default returns a runnable local configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Timeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "127.0.0.1:6379",
			TTL:     5 * time.Second,
		},
		Audit: AuditConfig{
			FailOpenDecisions: true,
		},
		PolicyPath: "config/policy.yaml",
		LogLevel:   "info",
	}
}

// Load reads a config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Database.Timeout <= 0 {
		cfg.Database.Timeout = 5 * time.Second
	}
	return cfg, nil
}
