// Package log wraps log/slog with trace-id and structured-field propagation
// through context.Context.
package log

import (
	"context"
	"log/slog"
)

// WithContext returns a logger carrying the trace_id and any log fields
// stored in ctx.
func WithContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if id := TraceID(ctx); id != "" {
		logger = logger.With("trace_id", id)
	}
	for k, v := range GetFields(ctx) {
		logger = logger.With(k, v)
	}
	return logger
}

// Info logs at Info level with trace_id and fields extracted from ctx.
func Info(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

// Error logs at Error level with trace_id and fields extracted from ctx.
func Error(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}

// Warn logs at Warn level with trace_id and fields extracted from ctx.
func Warn(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Warn(msg, args...)
}

// Debug logs at Debug level with trace_id and fields extracted from ctx.
func Debug(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Debug(msg, args...)
}
