package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_ShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected server shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.Port != 12345 {
		t.Errorf("Expected default port 12345, got %d", cfg.Server.Port)
	}
	if cfg.Server.BindAddress != "0.0.0.0" {
		t.Errorf("Expected default bind address '0.0.0.0', got %q", cfg.Server.BindAddress)
	}
	if cfg.Server.AckMessage != "Thank you for connecting" {
		t.Errorf("Expected default ack message, got %q", cfg.Server.AckMessage)
	}
	// Unlimited unless configured.
	if cfg.Server.MaxConnections != 0 || cfg.Server.IdleTimeout != 0 || cfg.Server.MaxPayloadSize != 0 {
		t.Errorf("Expected no limits by default, got %+v", cfg.Server)
	}
}

func TestApplyDefaults_API(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if !cfg.API.IsEnabled() {
		t.Error("Expected API enabled by default")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("Expected default API port 8080, got %d", cfg.API.Port)
	}
	if cfg.API.ReadTimeout != 10*time.Second {
		t.Errorf("Expected default read timeout 10s, got %v", cfg.API.ReadTimeout)
	}
	if cfg.API.WriteTimeout != 10*time.Second {
		t.Errorf("Expected default write timeout 10s, got %v", cfg.API.WriteTimeout)
	}
	if cfg.API.IdleTimeout != 60*time.Second {
		t.Errorf("Expected default idle timeout 60s, got %v", cfg.API.IdleTimeout)
	}
}

func TestApplyDefaults_Telemetry(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Telemetry.Enabled {
		t.Error("Expected telemetry disabled by default")
	}
	if cfg.Telemetry.Endpoint != "localhost:4317" {
		t.Errorf("Expected default OTLP endpoint, got %q", cfg.Telemetry.Endpoint)
	}
	if cfg.Telemetry.SampleRate != 1.0 {
		t.Errorf("Expected default sample rate 1.0, got %v", cfg.Telemetry.SampleRate)
	}
	if len(cfg.Telemetry.Profiling.ProfileTypes) == 0 {
		t.Error("Expected default profile types")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	off := false
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "debug",
			Format: "json",
			Output: "/var/log/pebld.log",
		},
		ShutdownTimeout: 60 * time.Second,
		Storage:         StorageConfig{Root: "/srv/uploads"},
		Metrics:         MetricsConfig{Enabled: true, Port: 9100},
	}
	cfg.Server.Port = 2000
	cfg.Server.AckMessage = "bye"
	cfg.API.Enabled = &off

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level normalized to 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "/var/log/pebld.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 60*time.Second {
		t.Errorf("Expected explicit timeout 60s to be preserved, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Server.ShutdownTimeout != 60*time.Second {
		t.Errorf("Expected server to inherit 60s shutdown timeout, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.Port != 2000 || cfg.Server.AckMessage != "bye" {
		t.Errorf("Expected explicit server settings to be preserved, got %+v", cfg.Server)
	}
	if cfg.Storage.Root != "/srv/uploads" {
		t.Errorf("Expected explicit storage root, got %q", cfg.Storage.Root)
	}
	if cfg.Metrics.Port != 9100 {
		t.Errorf("Expected explicit metrics port 9100, got %d", cfg.Metrics.Port)
	}
	if cfg.API.IsEnabled() {
		t.Error("Expected explicit API disable to be preserved")
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}
