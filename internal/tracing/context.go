// Package tracing carries trace identity through contexts and OpenTelemetry spans.
package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// TraceIDKey is the context key for the trace ID
	TraceIDKey ContextKey = "trace_id"
	// ExecutionIDKey is the context key for the pipeline execution ID
	ExecutionIDKey ContextKey = "execution_id"
	// SessionIDKey is the context key for the caller session ID
	SessionIDKey ContextKey = "session_id"
)

// NewTraceID generates a new trace ID.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithExecutionID adds an execution ID to the context.
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, ExecutionIDKey, executionID)
}

// WithSessionID adds a session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetTraceID retrieves the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// GetExecutionID retrieves the execution ID from the context.
func GetExecutionID(ctx context.Context) string {
	if v, ok := ctx.Value(ExecutionIDKey).(string); ok {
		return v
	}
	return ""
}

// GetSessionID retrieves the session ID from the context.
func GetSessionID(ctx context.Context) string {
	if v, ok := ctx.Value(SessionIDKey).(string); ok {
		return v
	}
	return ""
}

// LoggerFromContext returns base enriched with whatever trace identity the
// context carries.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if id := GetTraceID(ctx); id != "" {
		base = base.With().Str("trace_id", id).Logger()
	}
	if id := GetExecutionID(ctx); id != "" {
		base = base.With().Str("execution_id", id).Logger()
	}
	if id := GetSessionID(ctx); id != "" {
		base = base.With().Str("session_id", id).Logger()
	}
	return base
}
