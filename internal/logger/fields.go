package logger

import "log/slog"

// Standard field keys for structured logging. Use them consistently so
// upload logs can be aggregated and queried by subject or connection.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Connection
	KeyConnectionID = "conn_id"
	KeyClientIP     = "client_ip"
	KeyAddress      = "address"
	KeyActive       = "active"

	// Upload
	KeySubject    = "subject"
	KeyFilename   = "filename"
	KeyPath       = "path"
	KeySlot       = "slot"
	KeyDeclared   = "declared"
	KeyBytes      = "bytes"
	KeyTerminator = "terminator"
	KeyState      = "state"

	// Outcome
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorKind  = "error_kind"
)

// Subject returns a slog.Attr for a subject code
func Subject(code string) slog.Attr {
	return slog.String(KeySubject, code)
}

// Filename returns a slog.Attr for an upload filename
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// Path returns a slog.Attr for a filesystem path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Slot returns a slog.Attr for an upload slot index
func Slot(n int) slog.Attr {
	return slog.Int(KeySlot, n)
}

// Bytes returns a slog.Attr for a byte count
func Bytes(n uint64) slog.Attr {
	return slog.Uint64(KeyBytes, n)
}

// ClientIP returns a slog.Attr for the client address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// ConnectionID returns a slog.Attr for a connection identifier
func ConnectionID(id string) slog.Attr {
	return slog.String(KeyConnectionID, id)
}

// DurationMs returns a slog.Attr for an elapsed time in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error. A nil error yields an empty attr,
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
