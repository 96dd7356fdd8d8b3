package utils

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides structured, leveled logging throughout the application.
// It keeps a printf-style surface so call sites read like plain log lines,
// while every entry is emitted through zerolog with its bound fields.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger creates a Logger writing to stdout at the level named by LOG_LEVEL.
func NewLogger() *Logger {
	return NewLoggerTo(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.DateTime,
	}, os.Getenv("LOG_LEVEL"))
}

// NewLoggerTo creates a Logger writing to w. An empty or unknown level
// falls back to info.
func NewLoggerTo(w io.Writer, level string) *Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// NewNopLogger discards everything. Used by tests.
func NewNopLogger() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger carrying an extra field, e.g. With("worker", 2).
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithError returns a child logger carrying err.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

func (l *Logger) Info(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.zl.Error().Msgf(format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}

// ErrorFields logs msg at error level with structured key/value pairs attached.
func (l *Logger) ErrorFields(msg string, fields map[string]any) {
	l.zl.Error().Fields(fields).Msg(msg)
}
