package config

import (
	"strings"
	"time"

	"github.com/marmos91/pebld/pkg/adapter/upload"
	"github.com/marmos91/pebld/pkg/api"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyServerDefaults(&cfg.Server, cfg.ShutdownTimeout)
	applyStorageDefaults(&cfg.Storage)
	applyCatalogDefaults(&cfg.Catalog)
	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(&cfg.API)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = upload.DefaultShutdownTimeout
	}
}

// applyServerDefaults sets upload listener defaults. The listener drains
// within the top-level shutdown timeout.
func applyServerDefaults(cfg *upload.Config, shutdown time.Duration) {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = upload.DefaultPort
	}
	if cfg.AckMessage == "" {
		cfg.AckMessage = upload.DefaultAckMessage
	}
	cfg.ShutdownTimeout = shutdown
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
}

func applyCatalogDefaults(cfg *CatalogConfig) {
	if cfg.StatsInterval == 0 {
		cfg.StatsInterval = time.Minute
	}
}

// applyMetricsDefaults sets metrics defaults. Metrics are opt-in.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyAPIDefaults sets status API defaults. The API is on unless
// explicitly disabled.
func applyAPIDefaults(cfg *api.APIConfig) {
	cfg.ApplyDefaults()
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
