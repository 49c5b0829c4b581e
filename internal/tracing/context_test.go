package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRunContext(t *testing.T) {
	ctx := NewRunContext(context.Background(), "sess-1", "req-1", "agent-1")

	r := FromContext(ctx)
	assert.NotEmpty(t, r.TraceID)
	assert.Equal(t, "sess-1", r.SessionID)
	assert.Equal(t, "req-1", r.RequestID)
	assert.Equal(t, "agent-1", r.AgentID)
}

func TestRunContextKeepsExistingTrace(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-x")
	ctx = NewRunContext(ctx, "s", "r", "")

	assert.Equal(t, "trace-x", GetTraceID(ctx))
	assert.Empty(t, GetAgentID(ctx))
}

func TestGettersOnEmptyContext(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
}

func TestLoggerFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	base := zerolog.New(buf)

	ctx := NewRunContext(context.Background(), "sess-9", "req-9", "")
	l := LoggerFromContext(ctx, base)
	l.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"session_id":"sess-9"`)
	assert.Contains(t, out, `"request_id":"req-9"`)
	assert.NotContains(t, out, "agent_id")
}
