package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	BLE       BLEConfig       `yaml:"ble"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	LogLevel  string          `yaml:"log_level"`
}

// BLEConfig holds peripheral connection settings.
type BLEConfig struct {
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`  // per connect or reconnect attempt
	DiscoverTimeout time.Duration `yaml:"discover_timeout"` // characteristic resolution
	NotifyBuffer    int           `yaml:"notify_buffer"`    // undelivered payloads before the monitor fails
}

// TelemetryConfig holds the Socket.IO telemetry channel settings.
type TelemetryConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Path        string        `yaml:"path"`
	Topic       string        `yaml:"topic"`
	FieldCount  int           `yaml:"field_count"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
	MaxRetries  int           `yaml:"max_retries"` // 0 = unbounded
	Retention   int           `yaml:"retention"`   // 0 = keep every sample
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9120"; empty disables
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "stepsense")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		BLE: BLEConfig{
			ConnectTimeout:  10 * time.Second,
			DiscoverTimeout: 10 * time.Second,
			NotifyBuffer:    64,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "http://localhost:8000",
			Path:        "/socket.io/",
			Topic:       "sensorData",
			FieldCount:  4,
			BackoffBase: time.Second,
			BackoffMax:  30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.BLE.ConnectTimeout <= 0 {
		return fmt.Errorf("ble.connect_timeout must be > 0")
	}
	if c.BLE.DiscoverTimeout <= 0 {
		return fmt.Errorf("ble.discover_timeout must be > 0")
	}
	if c.BLE.NotifyBuffer <= 0 {
		return fmt.Errorf("ble.notify_buffer must be > 0")
	}

	u, err := url.Parse(c.Telemetry.Endpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("telemetry.endpoint must be an absolute URL, got %q", c.Telemetry.Endpoint)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("telemetry.endpoint scheme must be http, https, ws, or wss, got %q", u.Scheme)
	}

	if c.Telemetry.Topic == "" {
		return fmt.Errorf("telemetry.topic must not be empty")
	}
	if c.Telemetry.FieldCount <= 0 {
		return fmt.Errorf("telemetry.field_count must be > 0")
	}
	if c.Telemetry.BackoffBase <= 0 {
		return fmt.Errorf("telemetry.backoff_base must be > 0")
	}
	if c.Telemetry.BackoffMax < c.Telemetry.BackoffBase {
		return fmt.Errorf("telemetry.backoff_max (%s) must be >= backoff_base (%s)", c.Telemetry.BackoffMax, c.Telemetry.BackoffBase)
	}
	if c.Telemetry.MaxRetries < 0 {
		return fmt.Errorf("telemetry.max_retries must be >= 0")
	}
	if c.Telemetry.Retention < 0 {
		return fmt.Errorf("telemetry.retention must be >= 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
