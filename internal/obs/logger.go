// Package obs holds the logging and metrics hooks used by the engine.
package obs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level. Unknown names fall back to Info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

func (l Level) slog() slog.Level {
	switch l {
	case Debug:
		return slog.LevelDebug
	case Warn:
		return slog.LevelWarn
	case Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger is a minimal logging interface for observability.
type Logger interface {
	Logf(level Level, format string, args ...interface{})
}

// NopLogger discards all logs.
type NopLogger struct{}

func (NopLogger) Logf(level Level, format string, args ...interface{}) {}

// SlogLogger adapts a slog.Logger. The zero value discards records.
type SlogLogger struct {
	L *slog.Logger
}

// NewSlogLogger writes text records at or above min to w
func NewSlogLogger(w io.Writer, min Level) SlogLogger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: min.slog()})
	return SlogLogger{L: slog.New(h)}
}

// With returns a logger that adds the given key/value pairs to each record
func (s SlogLogger) With(args ...any) SlogLogger {
	if s.L == nil {
		return s
	}
	return SlogLogger{L: s.L.With(args...)}
}

func (s SlogLogger) Logf(level Level, format string, args ...interface{}) {
	if s.L == nil {
		return
	}
	ctx := context.Background()
	if !s.L.Enabled(ctx, level.slog()) {
		return
	}
	s.L.Log(ctx, level.slog(), fmt.Sprintf(format, args...))
}

// OrNop returns l, or a NopLogger when l is nil
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}
