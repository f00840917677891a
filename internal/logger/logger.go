// Package logger wraps log/slog with level parsing and optional file output.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger so packages depend on one local type.
type Logger struct {
	*slog.Logger
}

type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

func parseLevel(level LogLevel) slog.Level {
	switch strings.ToUpper(string(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger writing text output to stderr.
func New(level LogLevel) *Logger {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter creates a logger writing to the given writer.
func NewWithWriter(level LogLevel, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return &Logger{Logger: slog.New(slog.NewTextHandler(w, opts))}
}

// Nop returns a logger that discards everything, for tests.
func Nop() *Logger {
	return NewWithWriter(LevelError, io.Discard)
}

// With returns a child logger with the given attributes attached.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
