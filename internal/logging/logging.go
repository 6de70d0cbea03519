// Package logging configures the process logger and carries request-scoped
// log entries through contexts.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/brain/internal/config"
)

type ctxKey struct{}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger from cfg. The returned closer releases the log file,
// if one was configured.
func New(cfg config.LogConfig) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(lvl)

	switch cfg.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	if cfg.File == "" {
		return logger, nopCloser{}, nil
	}

	hook, err := NewFileHook(cfg.File, logger.Formatter)
	if err != nil {
		return nil, nil, err
	}
	logger.AddHook(hook)
	return logger, hook, nil
}

// FileHook appends every entry to a file and syncs it before returning.
type FileHook struct {
	mu        sync.Mutex
	file      *os.File
	formatter logrus.Formatter
}

// NewFileHook opens path for appending, creating parent directories.
func NewFileHook(path string, formatter logrus.Formatter) (*FileHook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &FileHook{file: f, formatter: formatter}, nil
}

// Levels implements logrus.Hook
func (h *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook
func (h *FileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return fmt.Errorf("failed to format log entry: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.file.Write(line); err != nil {
		return fmt.Errorf("failed to write to log file: %w", err)
	}
	return h.file.Sync()
}

// Close closes the log file
func (h *FileHook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}

// WithEntry returns a copy of ctx carrying entry.
func WithEntry(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry)
}

// FromContext returns the entry stored in ctx, or one bound to the standard
// logger when there is none.
func FromContext(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok && entry != nil {
		return entry
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
