package bloomgo

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with bloomgo-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithFilter adds the filter name to the logger.
func (l *Logger) WithFilter(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("filter", name),
	}
}

// LogAdd logs a single add operation.
func (l *Logger) LogAdd(ctx context.Context, name string, already bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add failed",
			"filter", name,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "add completed",
			"filter", name,
			"already_present", already,
		)
	}
}

// LogBulkAdd logs a bulk add operation.
func (l *Logger) LogBulkAdd(ctx context.Context, name string, total int, novel int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "bulk add failed",
			"filter", name,
			"total", total,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "bulk add completed",
			"filter", name,
			"total", total,
			"novel", novel,
		)
	}
}

// LogGrow logs the creation of a new generation in a scalable filter.
func (l *Logger) LogGrow(ctx context.Context, name string, generation int, capacity int64, errorRate float64) {
	l.InfoContext(ctx, "generation created",
		"filter", name,
		"generation", generation,
		"capacity", capacity,
		"error_rate", errorRate,
	)
}

// LogFlush logs a flush operation.
func (l *Logger) LogFlush(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"filter", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "flush completed",
			"filter", name,
		)
	}
}
