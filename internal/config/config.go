// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App        AppConfig        `yaml:"app"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Binance    BinanceConfig    `yaml:"binance"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Namespace string   `yaml:"namespace"` // allocation namespace, defaults to "default"
	Symbols   []string `yaml:"symbols"`   // symbol scope, empty means every symbol in the ledger
	LogLevel  string   `yaml:"log_level"`
}

// PostgresConfig contains the ledger and allocation store settings
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// ClickHouseConfig contains the P&L analytics store settings
type ClickHouseConfig struct {
	DSN     string `yaml:"dsn"`
	Enabled bool   `yaml:"enabled"`
}

// BinanceConfig contains exchange fill source settings
type BinanceConfig struct {
	APIKey           string  `yaml:"api_key"`
	SecretKey        string  `yaml:"secret_key"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps"`
	RateLimitBurst   int     `yaml:"rate_limit_burst"`
	RequestTimeoutMs int     `yaml:"request_timeout_ms"`
	MaxRetries       int     `yaml:"max_retries"`
	BackoffMinMs     int     `yaml:"backoff_min_ms"`
	BackoffMaxMs     int     `yaml:"backoff_max_ms"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if c.App.Namespace == "" {
		return ValidationError{
			Field:   "app.namespace",
			Message: "namespace is required",
		}
	}

	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	if !contains(validLevels, strings.ToLower(c.App.LogLevel)) {
		return ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}

	if c.Postgres.DSN == "" {
		return ValidationError{
			Field:   "postgres.dsn",
			Message: "postgres dsn is required",
		}
	}

	if c.ClickHouse.Enabled && c.ClickHouse.DSN == "" {
		return ValidationError{
			Field:   "clickhouse.dsn",
			Message: "clickhouse dsn is required when clickhouse is enabled",
		}
	}

	if c.Binance.RateLimitRPS <= 0 {
		return ValidationError{
			Field:   "binance.rate_limit_rps",
			Value:   c.Binance.RateLimitRPS,
			Message: "rate limit must be positive",
		}
	}
	if c.Binance.BackoffMinMs > c.Binance.BackoffMaxMs {
		return ValidationError{
			Field:   "binance.backoff_min_ms",
			Value:   c.Binance.BackoffMinMs,
			Message: "backoff minimum exceeds maximum",
		}
	}

	if c.Telemetry.EnableMetrics && (c.Telemetry.MetricsPort <= 0 || c.Telemetry.MetricsPort > 65535) {
		return ValidationError{
			Field:   "telemetry.metrics_port",
			Value:   c.Telemetry.MetricsPort,
			Message: "metrics port must be in 1..65535",
		}
	}

	return nil
}

// String returns a string representation of the configuration with
// credentials masked.
func (c *Config) String() string {
	copy := *c
	copy.Binance.APIKey = maskString(copy.Binance.APIKey)
	copy.Binance.SecretKey = maskString(copy.Binance.SecretKey)
	copy.Postgres.DSN = maskString(copy.Postgres.DSN)
	copy.ClickHouse.DSN = maskString(copy.ClickHouse.DSN)

	data, _ := yaml.Marshal(copy)
	return string(data)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns the configuration defaults applied before a
// file is loaded on top.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Namespace: "default",
			LogLevel:  "info",
		},
		ClickHouse: ClickHouseConfig{
			Enabled: false,
		},
		Binance: BinanceConfig{
			RateLimitRPS:     10,
			RateLimitBurst:   10,
			RequestTimeoutMs: 10000,
			MaxRetries:       3,
			BackoffMinMs:     250,
			BackoffMaxMs:     5000,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}
