// Package logger provides structured logging for the server runtime.
// It wraps logrus with a small surface so components depend on one logger
// type and configuration format.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`

	// Format is "json" or "text". Defaults to text.
	Format string `yaml:"format"`

	// Output is "stdout", "stderr" or "file". Defaults to stdout.
	Output string `yaml:"output"`

	// FilePrefix is the log file path prefix used when Output is "file".
	// A timestamp and .log extension are appended.
	FilePrefix string `yaml:"file_prefix"`
}

// Logger is the runtime logger handed to every component.
type Logger struct {
	entry *logrus.Entry
}

// New builds a logger from config, tagged with a component name.
func New(cfg LoggingConfig, component string) (*Logger, error) {
	base := logrus.New()

	level, err := logrus.ParseLevel(defaultString(cfg.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	base.SetLevel(level)

	switch strings.ToLower(defaultString(cfg.Format, "text")) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	out, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}
	base.SetOutput(out)

	return &Logger{entry: base.WithField("component", component)}, nil
}

// NewDefault returns a text logger at info level writing to stdout.
func NewDefault(component string) *Logger {
	base := logrus.New()
	base.SetLevel(logrus.InfoLevel)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	base.SetOutput(os.Stdout)
	return &Logger{entry: base.WithField("component", component)}
}

// NewNop returns a logger that discards everything. Intended for tests.
func NewNop() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(base)}
}

func openOutput(cfg LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(defaultString(cfg.Output, "stdout")) {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "file":
		prefix := defaultString(cfg.FilePrefix, "server")
		if dir := filepath.Dir(prefix); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		name := fmt.Sprintf("%s_%s.log", prefix, time.Now().Format("20060102_150405"))
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// Named returns a child logger tagged with a sub-component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{entry: l.entry.WithField("component", component)}
}

// WithField returns an entry with a single extra field attached.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.entry.WithField(key, value)
}

// WithFields returns an entry with extra fields attached.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		return l.entry.WithFields(logrus.Fields{})
	}
	return l.entry.WithFields(fields)
}

// WithError returns an entry with the error attached.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.entry.WithError(err)
}

// Debug logs at debug level.
func (l *Logger) Debug(args ...interface{}) { l.entry.Debug(args...) }

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

// Info logs at info level.
func (l *Logger) Info(args ...interface{}) { l.entry.Info(args...) }

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(args ...interface{}) { l.entry.Warn(args...) }

// Warnf logs a formatted message at warn level.
func (l *Logger) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

// Error logs at error level.
func (l *Logger) Error(args ...interface{}) { l.entry.Error(args...) }

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
