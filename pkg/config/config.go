package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/pebld/internal/bytesize"
	"github.com/marmos91/pebld/pkg/adapter/upload"
	"github.com/marmos91/pebld/pkg/api"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "PEBLD"

// Config represents the pebld configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (PEBLD_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for in-flight uploads on shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Server configures the upload listener
	Server upload.Config `mapstructure:"server" yaml:"server" json:"server"`

	// Storage locates the subject directories
	Storage StorageConfig `mapstructure:"storage" yaml:"storage" json:"storage"`

	// Catalog configures the optional upload index
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog" json:"catalog"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`

	// API contains the HTTP status API configuration
	API api.APIConfig `mapstructure:"api" yaml:"api" json:"api"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level" json:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format" json:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output" json:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint" json:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure" json:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate" json:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling" json:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Endpoint is the Pyroscope server URL
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint" json:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types" json:"profile_types"`
}

// StorageConfig locates uploaded files on disk.
type StorageConfig struct {
	// Root is the directory under which subject directories are created.
	// Default: "." (the working directory)
	Root string `mapstructure:"root" validate:"required" yaml:"root" json:"root"`
}

// CatalogConfig configures the Badger upload catalog.
type CatalogConfig struct {
	// Enabled turns on indexing of every stored slot
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Path is the Badger directory. Empty means "<storage.root>/.catalog".
	Path string `mapstructure:"path" yaml:"path" json:"path"`

	// StatsInterval is how often the catalog publishes its size gauges
	// Default: 1m
	StatsInterval time.Duration `mapstructure:"stats_interval" validate:"min=0" yaml:"stats_interval" json:"stats_interval"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port" json:"port"`
}

// CatalogPath returns the catalog directory, derived from the storage root
// when not set explicitly.
func (c *Config) CatalogPath() string {
	if c.Catalog.Path != "" {
		return c.Catalog.Path
	}
	return filepath.Join(c.Storage.Root, ".catalog")
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PEBLD_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath searches the default location. A missing file is not
// an error: defaults plus environment overrides are used instead.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, failing with instructions when an explicitly
// named file does not exist. Without a path, defaults are used when no file
// is found at the default location.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  pebld config init --config %s",
				configPath, configPath)
		}
	} else if DefaultConfigExists() {
		configPath = GetDefaultConfigPath()
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: PEBLD_SERVER_PORT=2000
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about, so every
	// key gets a default. Unmarshal then sees environment-only settings too.
	bindDefaults(v, GetDefaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// bindDefaults registers every leaf key of cfg with viper.
func bindDefaults(v *viper.Viper, cfg *Config) {
	var tree map[string]any
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return
	}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	setLeaves(v, "", tree)
}

func setLeaves(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setLeaves(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize,
// so config files can say "16MiB", "500 MB" or a plain number.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			if v < 0 {
				return nil, fmt.Errorf("negative size %d", v)
			}
			return bytesize.ByteSize(v), nil
		case int64:
			if v < 0 {
				return nil, fmt.Errorf("negative size %d", v)
			}
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			if v < 0 {
				return nil, fmt.Errorf("negative size %v", v)
			}
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s", "5m" or "1h" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "pebld")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "pebld")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
