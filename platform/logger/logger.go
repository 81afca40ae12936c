// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Context key types for storing values in context
type contextKey string

const (
	// RunIDKey is the context key for the optimization run ID
	RunIDKey contextKey = "run_id"
	// TenantIDKey is the context key for tenant ID
	TenantIDKey contextKey = "tenant_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports run_id and tenant_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		newLogger = newLogger.WithRunID(runID)
	}

	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok && tenantID != "" {
		newLogger = newLogger.WithTenantID(tenantID)
	}

	return newLogger
}

// WithRunID returns a logger with the optimization run ID attached.
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("run_id", runID)),
	}
}

// WithTenantID returns a logger with the tenant ID attached.
func (l *Logger) WithTenantID(tenantID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("tenant_id", tenantID)),
	}
}

// RunEvent logs a lifecycle event of a tenant optimization run.
func (l *Logger) RunEvent(event, tenantID string, actions int, duration time.Duration) {
	l.Info("run_event",
		slog.String("event", event),
		slog.String("tenant_id", tenantID),
		slog.Int("actions", actions),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}

// RunError logs a failed tenant optimization run.
func (l *Logger) RunError(tenantID string, err error) {
	l.Error("run_error",
		slog.String("tenant_id", tenantID),
		slog.String("error", err.Error()),
	)
}

// DispatchRetry logs a retried dispatch attempt.
func (l *Logger) DispatchRetry(key string, attempt int, status int, err error) {
	attrs := []any{
		slog.String("idempotency_key", key),
		slog.Int("attempt", attempt),
		slog.Int("status", status),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.Warn("dispatch_retry", attrs...)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// LockContention logs a skipped tick because another instance holds the lease.
// Contention is a normal outcome, not an error.
func (l *Logger) LockContention(lockKey, owner string) {
	l.Info("lock_contention",
		slog.String("lock_key", lockKey),
		slog.String("held_by", owner),
	)
}
