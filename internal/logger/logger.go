// Package logger provides the structured slog logger and the rotating log
// writers used by the server. System logs are JSON.
//
// Log files are organized as:
//
//	<logDir>/system.log   application-level events
//	<logDir>/access.log   one line per HTTP request, when enabled
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig controls when a log file is rotated.
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// DefaultRotation returns the rotation policy used for all log files.
func DefaultRotation() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// NewRotatingWriter returns a lumberjack writer for path. The parent directory
// is created if it does not exist.
func NewRotatingWriter(path string, rc RotationConfig) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating log directory %q: %w", filepath.Dir(path), err)
	}
	if rc.MaxSizeMB <= 0 {
		rc.MaxSizeMB = 10
	}
	if rc.MaxBackups < 0 {
		rc.MaxBackups = 3
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rc.MaxSizeMB, // megabytes
		MaxBackups: rc.MaxBackups,
		Compress:   rc.Compress,
	}, nil
}

// NewSystemLogger creates a JSON slog.Logger writing to the rotated file at
// path. Records are also sent to every non-nil handler in extra, which is how
// the OpenTelemetry log bridge is attached. The returned closer releases the
// file.
func NewSystemLogger(path string, level slog.Level, extra ...slog.Handler) (*slog.Logger, io.Closer, error) {
	w, err := NewRotatingWriter(path, DefaultRotation())
	if err != nil {
		return nil, nil, err
	}

	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	handlers := []slog.Handler{handler}
	for _, h := range extra {
		if h != nil {
			handlers = append(handlers, h)
		}
	}
	if len(handlers) > 1 {
		handler = &multiHandler{handlers: handlers}
	}
	return slog.New(handler), w, nil
}

// multiHandler fans out log records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
