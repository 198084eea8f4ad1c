package upload

import (
	"fmt"
	"net"
	"time"

	"github.com/marmos91/pebld/internal/bytesize"
)

const (
	// DefaultPort is the port the upload listener binds when none is configured.
	DefaultPort = 12345

	// DefaultAckMessage is sent after both slots are stored.
	DefaultAckMessage = "Thank you for connecting"

	// DefaultShutdownTimeout bounds the graceful drain when none is configured.
	DefaultShutdownTimeout = 30 * time.Second
)

// Config holds the upload listener settings (the "server" config section).
//
// The zero value of every field except Port is usable: no connection
// limit, no idle timeout and no payload limit, which matches a plain
// blocking server that waits on each client for as long as it takes.
type Config struct {
	// BindAddress is the IP to listen on. Empty or "0.0.0.0" means all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address" json:"bind_address" validate:"omitempty,ip"`

	// Port is the TCP port. 0 lets the kernel choose, which is mostly useful in tests.
	Port int `mapstructure:"port" yaml:"port" json:"port" validate:"min=0,max=65535"`

	// MaxConnections bounds concurrently served connections. 0 is unlimited
	// and 1 serves clients strictly one after another.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" json:"max_connections" validate:"min=0"`

	// IdleTimeout closes a connection whose peer sends nothing for this long.
	// 0 disables it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" json:"idle_timeout" validate:"min=0"`

	// AckMessage is written to the client once both slots are stored.
	AckMessage string `mapstructure:"ack_message" yaml:"ack_message" json:"ack_message"`

	// MaxPayloadSize rejects slots declaring more bytes than this. 0 is unlimited.
	MaxPayloadSize bytesize.ByteSize `mapstructure:"max_payload_size" yaml:"max_payload_size" json:"max_payload_size"`

	// MetricsLogInterval periodically logs the active connection count. 0 disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" yaml:"metrics_log_interval" json:"metrics_log_interval" validate:"min=0"`

	// ShutdownTimeout is copied from the top-level shutdown_timeout.
	ShutdownTimeout time.Duration `mapstructure:"-" yaml:"-" json:"-"`
}

func (c *Config) applyDefaults() {
	if c.AckMessage == "" {
		c.AckMessage = DefaultAckMessage
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func (c *Config) validate() error {
	if c.BindAddress != "" && net.ParseIP(c.BindAddress) == nil {
		return fmt.Errorf("invalid bind address %q", c.BindAddress)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid max_connections %d: must be >= 0", c.MaxConnections)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("invalid idle_timeout %v: must be >= 0", c.IdleTimeout)
	}
	return nil
}
