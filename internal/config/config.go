// Package config loads chaind configuration from defaults, an optional YAML
// file and CHAIND_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level chaind configuration
type Config struct {
	// HTTPPort is the REST API port
	HTTPPort int `yaml:"http_port"`

	// StoreBackend selects the record store: postgres or memory
	StoreBackend string `yaml:"store_backend"`

	// PostgresDSN is the connection string for the postgres backend
	PostgresDSN string `yaml:"postgres_dsn"`

	// RedisAddr enables the distributed writer lease and redis alert sink
	// when non-empty
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// WriteToken / ReadToken secrets for the capability middleware
	AuthSecret   string `yaml:"auth_secret"`
	AuthDisabled bool   `yaml:"auth_disabled"`

	// VerifyInterval between scheduled integrity sweeps
	VerifyInterval time.Duration `yaml:"verify_interval"`

	// VerifyWorkers bounds parallel tenant verifications
	VerifyWorkers int `yaml:"verify_workers"`

	// AlertFile, when set, enables the rotating file alert sink
	AlertFile           string `yaml:"alert_file"`
	AlertFileMaxSizeMB  int    `yaml:"alert_file_max_size_mb"`
	AlertFileMaxAgeDays int    `yaml:"alert_file_max_age_days"`
	AlertFileMaxBackups int    `yaml:"alert_file_max_backups"`

	// LogLevel and LogFormat configure zap
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		HTTPPort:            8080,
		StoreBackend:        "postgres",
		PostgresDSN:         "postgres://localhost:5432/trustledger?sslmode=disable",
		VerifyInterval:      15 * time.Minute,
		VerifyWorkers:       4,
		AlertFileMaxSizeMB:  50,
		AlertFileMaxAgeDays: 30,
		AlertFileMaxBackups: 5,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// LoadFile merges a YAML config file over the receiver
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadEnv merges CHAIND_* environment variables over the receiver
func (c *Config) LoadEnv() {
	if v := os.Getenv("CHAIND_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTPPort = port
		}
	}
	if v := os.Getenv("CHAIND_STORE_BACKEND"); v != "" {
		c.StoreBackend = v
	}
	if v := os.Getenv("CHAIND_POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("CHAIND_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("CHAIND_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("CHAIND_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.RedisDB = db
		}
	}
	if v := os.Getenv("CHAIND_AUTH_SECRET"); v != "" {
		c.AuthSecret = v
	}
	if v := os.Getenv("CHAIND_AUTH_DISABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AuthDisabled = b
		}
	}
	if v := os.Getenv("CHAIND_VERIFY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.VerifyInterval = d
		}
	}
	if v := os.Getenv("CHAIND_VERIFY_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.VerifyWorkers = n
		}
	}
	if v := os.Getenv("CHAIND_ALERT_FILE"); v != "" {
		c.AlertFile = v
	}
	if v := os.Getenv("CHAIND_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CHAIND_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	switch c.StoreBackend {
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store_backend %q (want postgres or memory)", c.StoreBackend)
	}
	if !c.AuthDisabled && c.AuthSecret == "" {
		return fmt.Errorf("auth_secret is required unless auth_disabled is set")
	}
	if c.VerifyInterval <= 0 {
		return fmt.Errorf("verify_interval must be positive")
	}
	return nil
}

// Load builds the effective configuration: defaults, then the optional file,
// then environment variables
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.LoadEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
