package output

import (
	"time"

	"github.com/dustin/go-humanize"
)

// TimeFormat is used for absolute times in tables.
const TimeFormat = "2006-01-02 15:04:05"

// Bytes renders n in binary units ("1.5 MiB").
func Bytes[T ~int64 | ~uint64 | ~int](n T) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

// Count renders n with thousands separators.
func Count(n int) string {
	return humanize.Comma(int64(n))
}

// Timestamp renders t in local time, or "-" for the zero time.
func Timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(TimeFormat)
}

// Ago renders t relative to now ("3 minutes ago"), or "never" for the zero time.
func Ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
