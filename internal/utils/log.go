// Package utils provides structured logging setup for hitl.
package utils

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultLogFile is the daemon.log_file value that selects DefaultServiceLogPath.
const DefaultLogFile = "default"

// LoggerOptions configures the logger.
type LoggerOptions struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string
	// Output is the writer for log output (default: os.Stderr)
	Output io.Writer
	// Prefix is the component name prefix
	Prefix          string
	TimeFormat      string
	ReportCaller    bool
	ReportTimestamp bool
}

// DefaultLoggerOptions returns stderr at info level with RFC3339 timestamps.
func DefaultLoggerOptions() LoggerOptions {
	return LoggerOptions{
		Level:           "info",
		Output:          os.Stderr,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
	}
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// InitLogger creates a new logger with the given options.
func InitLogger(opts LoggerOptions) *log.Logger {
	return log.NewWithOptions(opts.Output, log.Options{
		Level:           parseLevel(opts.Level),
		Prefix:          opts.Prefix,
		TimeFormat:      opts.TimeFormat,
		ReportCaller:    opts.ReportCaller,
		ReportTimestamp: opts.ReportTimestamp,
	})
}

// InitDefaultLogger creates a stderr logger, honouring HITL_LOG_LEVEL.
func InitDefaultLogger() *log.Logger {
	opts := DefaultLoggerOptions()
	if level := os.Getenv("HITL_LOG_LEVEL"); level != "" {
		opts.Level = level
	}
	return InitLogger(opts)
}

// InitFileLogger creates a logger appending to path, creating its directory.
func InitFileLogger(path string, opts LoggerOptions) (*log.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, err
	}
	opts.Output = f
	return InitLogger(opts), nil
}

// InitServiceLogger creates the logger for a framework process. An empty path logs to
// stderr, DefaultLogFile appends to DefaultServiceLogPath, anything else appends to path.
// HITL_LOG_LEVEL overrides level.
func InitServiceLogger(level, path string) (*log.Logger, error) {
	opts := DefaultLoggerOptions()
	opts.Level = level
	opts.Prefix = "hitl"
	if env := os.Getenv("HITL_LOG_LEVEL"); env != "" {
		opts.Level = env
	}
	if path == "" {
		return InitLogger(opts), nil
	}
	if path == DefaultLogFile {
		p, err := DefaultServiceLogPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	opts.ReportCaller = true
	return InitFileLogger(path, opts)
}

// DefaultServiceLogPath returns ~/.hitl/hitl.log.
func DefaultServiceLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hitl", "hitl.log"), nil
}

// NewDiscardLogger returns a logger that drops everything.
func NewDiscardLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

var defaultLogger atomic.Pointer[log.Logger]

func init() {
	defaultLogger.Store(InitDefaultLogger())
}

// SetDefaultLogger replaces the process-wide logger that components fall back to
// when constructed without one.
func SetDefaultLogger(logger *log.Logger) {
	if logger != nil {
		defaultLogger.Store(logger)
	}
}

// GetDefaultLogger returns the process-wide logger.
func GetDefaultLogger() *log.Logger {
	return defaultLogger.Load()
}

// WithPrefix returns the process-wide logger tagged with a component prefix.
func WithPrefix(prefix string) *log.Logger {
	return GetDefaultLogger().WithPrefix(prefix)
}
