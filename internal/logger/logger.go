// Package logger provides structured logging for the DPWH project tracker.
//
// It keeps a small Fields-based API on top of zerolog. Output goes to the
// console (human-readable or JSON) and, when a file is configured, to a log
// file rotated by lumberjack.
//
// Example usage:
//
//	logger.Info("Region scraped", logger.Fields{
//	    "region":   "Region I",
//	    "projects": 120,
//	})
//
//	logger.Error("Fetch failed", logger.Fields{
//	    "url": url,
//	}, err)
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel maps a level name such as "debug" or "WARN" to a Level.
// Unknown names give LevelInfo.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	}
	return LevelInfo
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// Fields represents structured log fields
type Fields map[string]interface{}

// Logger provides structured logging
type Logger struct {
	zl zerolog.Logger
}

var defaultLogger = New(LevelInfo, os.Stderr)

// New creates a logger writing JSON lines to output. Messages below level are
// discarded.
func New(level Level, output io.Writer) *Logger {
	zl := zerolog.New(output).Level(level.zerolog()).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// Config describes where and how logs are written.
type Config struct {
	Level string
	// Format is "console" for human-readable output or "json".
	Format string
	// File, when set, receives JSON logs rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig returns console logging at info level.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	}
}

// NewFromConfig builds a logger from cfg. Console output goes to stderr so
// that stdout stays free for command output.
func NewFromConfig(cfg Config) (*Logger, error) {
	var console io.Writer = os.Stderr
	if strings.EqualFold(cfg.Format, "console") {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{console}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}

	return New(ParseLevel(cfg.Level), zerolog.MultiLevelWriter(writers...)), nil
}

// SetDefault sets the default package-level logger used by the convenience functions
// (Debug, Info, Warn, Error).
func SetDefault(logger *Logger) {
	defaultLogger = logger
}

// Default returns the package-level logger.
func Default() *Logger {
	return defaultLogger
}

// log writes a structured log entry
func (l *Logger) log(level Level, message string, fields Fields, err error) {
	evt := l.zl.WithLevel(level.zerolog())
	if evt == nil {
		return
	}
	if len(fields) > 0 {
		evt = evt.Fields(map[string]interface{}(fields))
	}
	if err != nil {
		evt = evt.Err(err)
	}
	evt.Msg(message)
}

// Debug logs a debug message with optional structured fields.
func (l *Logger) Debug(message string, fields Fields) {
	l.log(LevelDebug, message, fields, nil)
}

// Info logs an informational message with optional structured fields.
func (l *Logger) Info(message string, fields Fields) {
	l.log(LevelInfo, message, fields, nil)
}

// Warn logs a warning message with optional structured fields.
func (l *Logger) Warn(message string, fields Fields) {
	l.log(LevelWarn, message, fields, nil)
}

// Error logs an error message with optional structured fields and an error object.
func (l *Logger) Error(message string, fields Fields, err error) {
	l.log(LevelError, message, fields, err)
}

// Package-level convenience functions using default logger

// Debug logs a debug message with the default logger
func Debug(message string, fields Fields) {
	defaultLogger.Debug(message, fields)
}

// Info logs an info message with the default logger
func Info(message string, fields Fields) {
	defaultLogger.Info(message, fields)
}

// Warn logs a warning message with the default logger
func Warn(message string, fields Fields) {
	defaultLogger.Warn(message, fields)
}

// Error logs an error message with the default logger
func Error(message string, fields Fields, err error) {
	defaultLogger.Error(message, fields, err)
}
