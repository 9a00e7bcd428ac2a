package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return cfgPath
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.BLE.ConnectTimeout != 10*time.Second {
		t.Errorf("BLE.ConnectTimeout = %v, want 10s", cfg.BLE.ConnectTimeout)
	}
	if cfg.BLE.NotifyBuffer != 64 {
		t.Errorf("BLE.NotifyBuffer = %d, want 64", cfg.BLE.NotifyBuffer)
	}
	if cfg.Telemetry.Endpoint != "http://localhost:8000" {
		t.Errorf("Telemetry.Endpoint = %q, want %q", cfg.Telemetry.Endpoint, "http://localhost:8000")
	}
	if cfg.Telemetry.Topic != "sensorData" {
		t.Errorf("Telemetry.Topic = %q, want %q", cfg.Telemetry.Topic, "sensorData")
	}
	if cfg.Telemetry.FieldCount != 4 {
		t.Errorf("Telemetry.FieldCount = %d, want 4", cfg.Telemetry.FieldCount)
	}
	if cfg.Telemetry.BackoffBase != time.Second || cfg.Telemetry.BackoffMax != 30*time.Second {
		t.Errorf("Telemetry backoff = %v..%v, want 1s..30s", cfg.Telemetry.BackoffBase, cfg.Telemetry.BackoffMax)
	}
	if cfg.Telemetry.MaxRetries != 0 {
		t.Errorf("Telemetry.MaxRetries = %d, want 0 (unbounded)", cfg.Telemetry.MaxRetries)
	}
	if cfg.Metrics.Listen != "" {
		t.Errorf("Metrics.Listen = %q, want empty", cfg.Metrics.Listen)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
ble:
  connect_timeout: 5s
  discover_timeout: 2500ms
  notify_buffer: 16
telemetry:
  endpoint: https://telemetry.example.com
  path: /io/
  topic: kneeData
  field_count: 6
  backoff_base: 500ms
  backoff_max: 1m
  max_retries: 10
  retention: 1000
metrics:
  listen: ":9120"
log_level: debug
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BLE.ConnectTimeout != 5*time.Second {
		t.Errorf("BLE.ConnectTimeout = %v, want 5s", cfg.BLE.ConnectTimeout)
	}
	if cfg.BLE.DiscoverTimeout != 2500*time.Millisecond {
		t.Errorf("BLE.DiscoverTimeout = %v, want 2.5s", cfg.BLE.DiscoverTimeout)
	}
	if cfg.BLE.NotifyBuffer != 16 {
		t.Errorf("BLE.NotifyBuffer = %d, want 16", cfg.BLE.NotifyBuffer)
	}
	if cfg.Telemetry.Endpoint != "https://telemetry.example.com" {
		t.Errorf("Telemetry.Endpoint = %q", cfg.Telemetry.Endpoint)
	}
	if cfg.Telemetry.Path != "/io/" || cfg.Telemetry.Topic != "kneeData" {
		t.Errorf("Telemetry path/topic = %q %q", cfg.Telemetry.Path, cfg.Telemetry.Topic)
	}
	if cfg.Telemetry.FieldCount != 6 {
		t.Errorf("Telemetry.FieldCount = %d, want 6", cfg.Telemetry.FieldCount)
	}
	if cfg.Telemetry.BackoffBase != 500*time.Millisecond || cfg.Telemetry.BackoffMax != time.Minute {
		t.Errorf("Telemetry backoff = %v..%v, want 500ms..1m", cfg.Telemetry.BackoffBase, cfg.Telemetry.BackoffMax)
	}
	if cfg.Telemetry.MaxRetries != 10 || cfg.Telemetry.Retention != 1000 {
		t.Errorf("Telemetry max_retries/retention = %d %d", cfg.Telemetry.MaxRetries, cfg.Telemetry.Retention)
	}
	if cfg.Metrics.Listen != ":9120" {
		t.Errorf("Metrics.Listen = %q, want %q", cfg.Metrics.Listen, ":9120")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
telemetry:
  endpoint: http://10.0.0.5:8000
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Telemetry.Endpoint != "http://10.0.0.5:8000" {
		t.Errorf("Telemetry.Endpoint = %q", cfg.Telemetry.Endpoint)
	}
	if cfg.Telemetry.Topic != "sensorData" {
		t.Errorf("Telemetry.Topic = %q, want default", cfg.Telemetry.Topic)
	}
	if cfg.BLE.ConnectTimeout != 10*time.Second {
		t.Errorf("BLE.ConnectTimeout = %v, want default", cfg.BLE.ConnectTimeout)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	if err := os.WriteFile(filepath.Join(tmpHome, "stepsense.yaml"), []byte("log_level: warn\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load("~/stepsense.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "ble: [unterminated\n"))
	if err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "ble:\n  connect_timeout: soon\n"))
	if err == nil {
		t.Error("Load() should return error for an unparseable duration")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	want := filepath.Join(tmpHome, ".config", "stepsense", "config.yaml")
	if got := DefaultConfigPath(); got != want {
		t.Errorf("DefaultConfigPath() = %q, want %q", got, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero connect timeout",
			modify:  func(c *Config) { c.BLE.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero discover timeout",
			modify:  func(c *Config) { c.BLE.DiscoverTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero notify buffer",
			modify:  func(c *Config) { c.BLE.NotifyBuffer = 0 },
			wantErr: true,
		},
		{
			name:    "empty endpoint",
			modify:  func(c *Config) { c.Telemetry.Endpoint = "" },
			wantErr: true,
		},
		{
			name:    "unsupported endpoint scheme",
			modify:  func(c *Config) { c.Telemetry.Endpoint = "ftp://localhost:8000" },
			wantErr: true,
		},
		{
			name:    "websocket endpoint",
			modify:  func(c *Config) { c.Telemetry.Endpoint = "ws://localhost:8000" },
			wantErr: false,
		},
		{
			name:    "empty topic",
			modify:  func(c *Config) { c.Telemetry.Topic = "" },
			wantErr: true,
		},
		{
			name:    "zero field count",
			modify:  func(c *Config) { c.Telemetry.FieldCount = 0 },
			wantErr: true,
		},
		{
			name:    "backoff max below base",
			modify:  func(c *Config) { c.Telemetry.BackoffMax = 100 * time.Millisecond },
			wantErr: true,
		},
		{
			name:    "negative max retries",
			modify:  func(c *Config) { c.Telemetry.MaxRetries = -1 },
			wantErr: true,
		},
		{
			name:    "negative retention",
			modify:  func(c *Config) { c.Telemetry.Retention = -1 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
