package api

import "time"

// APIConfig configures the HTTP status API.
type APIConfig struct {
	// Enabled controls whether the API server is started. nil means enabled,
	// so an omitted key keeps the default while an explicit false disables it.
	Enabled *bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Port is the HTTP port. Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port" json:"port"`

	// ReadTimeout bounds reading a whole request. Default: 10s
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0" yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout bounds writing a response. Default: 10s
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0" yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout bounds keep-alive waits. Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0" yaml:"idle_timeout" json:"idle_timeout"`
}

// IsEnabled reports whether the API server should run.
func (c *APIConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// ApplyDefaults fills zero values.
func (c *APIConfig) ApplyDefaults() {
	if c.Enabled == nil {
		on := true
		c.Enabled = &on
	}
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}
