// Package observability sets up vidarr's structured logging.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmylchreest/vidarr/internal/config"
)

type loggerKey struct{}

// ParseLevel maps a configured level name to a slog level. "warning" is
// accepted for "warn" and an empty name means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q", name)
}

// NewLogger builds the logger described by cfg, writing to w.
func NewLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: replaceAttr(cfg.TimeFormat),
	}

	switch strings.ToLower(cfg.Format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", cfg.Format)
}

// replaceAttr applies the configured time layout and reports the source
// position relative to the module as "logpos".
func replaceAttr(timeFormat string) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.TimeKey:
			if t, ok := a.Value.Any().(time.Time); ok && timeFormat != "" {
				return slog.String(slog.TimeKey, t.Format(timeFormat))
			}
		case slog.SourceKey:
			if src, ok := a.Value.Any().(*slog.Source); ok && src != nil {
				return slog.String("logpos", fmt.Sprintf("%s:%d", trimSourcePath(src.File), src.Line))
			}
		}
		return a
	}
}

func trimSourcePath(file string) string {
	for _, root := range []string{"/internal/", "/cmd/"} {
		if i := strings.LastIndex(file, root); i >= 0 {
			return file[i+1:]
		}
	}
	return file
}

// WithSession tags the logger with a streaming session identifier.
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	return logger.With(slog.String("session_id", sessionID))
}

// WithComponent tags the logger with the emitting component.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithOperation scopes the logger to one long-running operation, such as a
// decoder search or a renderer swap.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String("operation", operation))
}

// WithError adds err to the logger. A nil error leaves it unchanged.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// LoggerFromContext returns the logger stored in ctx, or the default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ContextWithLogger returns a copy of ctx carrying logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Timed logs the start of operation and returns a function logging its end
// with the elapsed time. When errp is non-nil and points at an error by the
// time the function runs, the operation is logged as failed.
//
//	defer observability.Timed(ctx, logger, "decoder probe", &err)()
func Timed(ctx context.Context, logger *slog.Logger, operation string, errp *error) func() {
	logger = WithOperation(logger, operation)
	start := time.Now()
	logger.InfoContext(ctx, "operation started")

	return func() {
		elapsed := slog.Duration("duration", time.Since(start))
		if errp != nil && *errp != nil {
			logger.ErrorContext(ctx, "operation failed", elapsed, slog.String("error", (*errp).Error()))
			return
		}
		logger.InfoContext(ctx, "operation completed", elapsed)
	}
}
