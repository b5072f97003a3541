// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// OrganizationIDKey is the context key for organization ID
	OrganizationIDKey contextKey = "organization_id"
	// LeadIDKey is the context key for lead ID
	LeadIDKey contextKey = "lead_id"
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
// Supports request_id, organization_id, and lead_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{
			Logger: newLogger.With(slog.String("request_id", requestID)),
		}
	}

	if orgID, ok := ctx.Value(OrganizationIDKey).(string); ok && orgID != "" {
		newLogger = &Logger{
			Logger: newLogger.With(slog.String("organization_id", orgID)),
		}
	}

	if leadID, ok := ctx.Value(LeadIDKey).(string); ok && leadID != "" {
		newLogger = &Logger{
			Logger: newLogger.With(slog.String("lead_id", leadID)),
		}
	}

	return newLogger
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// IngestStage logs the outcome of a single stage of the ingestion pipeline.
// Degraded stages are logged at Warn level with the failure detail.
func (l *Logger) IngestStage(stage, organizationID, unitKey string, ok bool, detail string) {
	if ok {
		l.Debug("ingest_stage",
			slog.String("stage", stage),
			slog.String("organization_id", organizationID),
			slog.String("unit_key", unitKey),
		)
		return
	}
	l.Warn("ingest_stage_degraded",
		slog.String("stage", stage),
		slog.String("organization_id", organizationID),
		slog.String("unit_key", unitKey),
		slog.String("detail", detail),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}
