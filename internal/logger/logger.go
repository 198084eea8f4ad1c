package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents log levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	currentLevel  atomic.Int32
	currentFormat atomic.Value // "text" or "json"

	mu       sync.RWMutex
	slogger  *slog.Logger
	output   io.Writer = os.Stdout
	useColor bool      = true
	closer   io.Closer // non-nil when output is a file we opened
)

func init() {
	currentLevel.Store(int32(LevelInfo))
	currentFormat.Store("text")
	useColor = isTerminal(os.Stdout)
	reconfigure()
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a Level. Unknown names report false.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// reconfigure rebuilds the slog handler from the current settings
func reconfigure() {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: Level(currentLevel.Load()).slogLevel()}

	var h slog.Handler
	if format, _ := currentFormat.Load().(string); format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = NewColorTextHandler(output, opts, useColor)
	}
	slogger = slog.New(h)
}

// Init initializes the logger with the given configuration.
// Output can be "stdout", "stderr", or a file path.
func Init(cfg Config) error {
	if cfg.Output != "" {
		var (
			w     io.Writer
			color bool
			c     io.Closer
		)

		switch strings.ToLower(cfg.Output) {
		case "stdout":
			w, color = os.Stdout, isTerminal(os.Stdout)
		case "stderr":
			w, color = os.Stderr, isTerminal(os.Stderr)
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
			}
			w, c = f, f
		}

		mu.Lock()
		if closer != nil {
			_ = closer.Close()
		}
		output, useColor, closer = w, color, c
		mu.Unlock()
	}

	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	if cfg.Format != "" {
		SetFormat(cfg.Format)
	}

	reconfigure()
	return nil
}

// InitWithWriter initializes the logger with a custom io.Writer.
// This is primarily useful for testing.
func InitWithWriter(w io.Writer, level, format string, enableColor bool) {
	mu.Lock()
	output = w
	useColor = enableColor
	mu.Unlock()

	if level != "" {
		SetLevel(level)
	}
	if format != "" {
		SetFormat(format)
	}
	reconfigure()
}

// SetLevel sets the minimum log level. Invalid names are ignored.
func SetLevel(level string) {
	l, ok := ParseLevel(level)
	if !ok {
		return
	}
	currentLevel.Store(int32(l))
	reconfigure()
}

// SetFormat sets the output format (text or json)
func SetFormat(format string) {
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return
	}
	currentFormat.Store(format)
	reconfigure()
}

// IsDebugEnabled reports whether debug records are emitted.
// Use it to guard expensive argument construction.
func IsDebugEnabled() bool {
	return enabled(LevelDebug)
}

func enabled(l Level) bool {
	return l >= Level(currentLevel.Load())
}

func getLogger() *slog.Logger {
	mu.RLock()
	l := slogger
	mu.RUnlock()
	return l
}

func emit(ctx context.Context, l Level, msg string, args []any) {
	if !enabled(l) {
		return
	}
	args = appendContextFields(ctx, args)
	getLogger().Log(context.Background(), l.slogLevel(), msg, args...)
}

// Debug logs at debug level with structured fields
// Usage: Debug("message", "key1", value1, "key2", value2)
func Debug(msg string, args ...any) { emit(context.Background(), LevelDebug, msg, args) }

// Info logs at info level with structured fields
func Info(msg string, args ...any) { emit(context.Background(), LevelInfo, msg, args) }

// Warn logs at warn level with structured fields
func Warn(msg string, args ...any) { emit(context.Background(), LevelWarn, msg, args) }

// Error logs at error level with structured fields
func Error(msg string, args ...any) { emit(context.Background(), LevelError, msg, args) }

// DebugCtx logs at debug level, prepending the LogContext fields found in ctx
func DebugCtx(ctx context.Context, msg string, args ...any) { emit(ctx, LevelDebug, msg, args) }

// InfoCtx logs at info level with context
func InfoCtx(ctx context.Context, msg string, args ...any) { emit(ctx, LevelInfo, msg, args) }

// WarnCtx logs at warn level with context
func WarnCtx(ctx context.Context, msg string, args ...any) { emit(ctx, LevelWarn, msg, args) }

// ErrorCtx logs at error level with context
func ErrorCtx(ctx context.Context, msg string, args ...any) { emit(ctx, LevelError, msg, args) }

// appendContextFields prepends LogContext fields so they appear first in output
func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	out := make([]any, 0, 10+len(args))
	if lc.TraceID != "" {
		out = append(out, KeyTraceID, lc.TraceID)
	}
	if lc.SpanID != "" {
		out = append(out, KeySpanID, lc.SpanID)
	}
	if lc.ConnectionID != "" {
		out = append(out, KeyConnectionID, lc.ConnectionID)
	}
	if lc.ClientIP != "" {
		out = append(out, KeyClientIP, lc.ClientIP)
	}
	if lc.Subject != "" {
		out = append(out, KeySubject, lc.Subject)
	}
	return append(out, args...)
}

// With returns a new slog.Logger with additional attributes
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}

// Duration returns duration since start time in milliseconds
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// Infof logs at info level with printf-style formatting
func Infof(format string, v ...any) {
	if !enabled(LevelInfo) {
		return
	}
	getLogger().Info(fmt.Sprintf(format, v...))
}

// Errorf logs at error level with printf-style formatting
func Errorf(format string, v ...any) {
	getLogger().Error(fmt.Sprintf(format, v...))
}
