package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	TraceIDKey   ContextKey = "trace_id"
	SessionIDKey ContextKey = "session_id"
	RequestIDKey ContextKey = "request_id"
	AgentIDKey   ContextKey = "agent_id"
)

// Run holds the identifiers that follow one agent run through logs and spans.
type Run struct {
	TraceID   string
	SessionID string
	RequestID string
	AgentID   string
}

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, AgentIDKey, id)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string   { return stringValue(ctx, TraceIDKey) }
func GetSessionID(ctx context.Context) string { return stringValue(ctx, SessionIDKey) }
func GetRequestID(ctx context.Context) string { return stringValue(ctx, RequestIDKey) }
func GetAgentID(ctx context.Context) string   { return stringValue(ctx, AgentIDKey) }

// FromContext extracts all run identifiers from the context.
func FromContext(ctx context.Context) Run {
	return Run{
		TraceID:   GetTraceID(ctx),
		SessionID: GetSessionID(ctx),
		RequestID: GetRequestID(ctx),
		AgentID:   GetAgentID(ctx),
	}
}

// NewRunContext stamps a session and request onto ctx, creating a trace id
// when none is present.
func NewRunContext(ctx context.Context, sessionID, requestID, agentID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewID())
	}
	ctx = WithSessionID(ctx, sessionID)
	ctx = WithRequestID(ctx, requestID)
	if agentID != "" {
		ctx = WithAgentID(ctx, agentID)
	}
	return ctx
}

// LoggerFromContext adds the run identifiers found in ctx to logger.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	r := FromContext(ctx)
	c := logger.With()
	if r.TraceID != "" {
		c = c.Str("trace_id", r.TraceID)
	}
	if r.SessionID != "" {
		c = c.Str("session_id", r.SessionID)
	}
	if r.RequestID != "" {
		c = c.Str("request_id", r.RequestID)
	}
	if r.AgentID != "" {
		c = c.Str("agent_id", r.AgentID)
	}
	return c.Logger()
}
