// Package bytesize parses human-readable sizes such as "16MiB" or "1.5G"
// in configuration files and flags.
package bytesize

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ByteSize is a size in bytes that decodes from text.
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
)

// Parse accepts a plain byte count or a number followed by a decimal
// (k, MB) or binary (Ki, MiB) unit, case-insensitively.
func Parse(s string) (ByteSize, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty byte size")
	}
	n, err := humanize.ParseBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// UnmarshalText lets mapstructure and flag decoding use Parse.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText renders the size in binary units, so saved configs round-trip.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// String formats the size with binary units, e.g. "16 MiB".
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Uint64 returns the size as a uint64.
func (b ByteSize) Uint64() uint64 {
	return uint64(b)
}
