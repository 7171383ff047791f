// Package config loads application configuration from a YAML file with
// environment-variable overrides. Secrets only ever come from the
// environment; the YAML file is safe to commit.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Tracking TrackingConfig `yaml:"tracking"`
	Sending  SendingConfig  `yaml:"sending"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis connection. Empty URL disables the
// operational counters.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// TrackingConfig holds the externally reachable tracking root.
type TrackingConfig struct {
	BaseURL string `yaml:"base_url"`
}

// SendingConfig holds bulk-send pacing.
type SendingConfig struct {
	BulkIntervalMS int `yaml:"bulk_interval_ms"`
}

// BulkInterval returns the inter-send delay for bulk dispatch.
func (c SendingConfig) BulkInterval() time.Duration {
	return time.Duration(c.BulkIntervalMS) * time.Millisecond
}

// SecurityConfig holds the credential encryption key. Environment only.
type SecurityConfig struct {
	EncryptionKey string `yaml:"-"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Tracking.BaseURL == "" {
		c.Tracking.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	if c.Sending.BulkIntervalMS == 0 {
		c.Sending.BulkIntervalMS = 100
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
}

// LoadFromEnv loads the YAML file then overrides from the environment.
// A .env file is honored when present.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if base := os.Getenv("TRACKING_BASE_URL"); base != "" {
		cfg.Tracking.BaseURL = base
	}
	if key := os.Getenv("CREDENTIAL_ENCRYPTION_KEY"); key != "" {
		cfg.Security.EncryptionKey = key
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if port := os.Getenv("PORT"); port != "" {
		fmt.Sscanf(port, "%d", &cfg.Server.Port)
	}

	return cfg, nil
}
