package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds connection-scoped logging context
type LogContext struct {
	TraceID      string    // OpenTelemetry trace ID
	SpanID       string    // OpenTelemetry span ID
	ConnectionID string    // Per-connection identifier
	ClientIP     string    // Client IP address (without port)
	Subject      string    // Subject code, once the filename frame is parsed
	StartTime    time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a connection
func NewLogContext(connectionID, clientIP string) *LogContext {
	return &LogContext{
		ConnectionID: connectionID,
		ClientIP:     clientIP,
		StartTime:    time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithSubject returns a copy with the subject code set
func (lc *LogContext) WithSubject(subject string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Subject = subject
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}
