package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSpan(t *testing.T) {
	require.NoError(t, Setup("autopilot-test"))
	require.NoError(t, Setup("autopilot-test"))
	t.Cleanup(func() { _ = Shutdown(context.Background()) })

	t.Run("should adopt the span trace id", func(t *testing.T) {
		ctx, span := StartSpan(WithSessionID(context.Background(), "sess-1"), "test", "op")
		defer EndSpan(span, nil)

		assert.True(t, span.SpanContext().IsValid())
		assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
		assert.Equal(t, "sess-1", GetSessionID(ctx))
	})

	t.Run("should keep an existing trace id", func(t *testing.T) {
		ctx, span := StartSpan(WithTraceID(context.Background(), "trace-x"), "test", "op")
		EndSpan(span, errors.New("failed"))
		assert.Equal(t, "trace-x", GetTraceID(ctx))
	})

	t.Run("should accept a nil context", func(t *testing.T) {
		//nolint:staticcheck
		ctx, span := StartSpan(nil, "test", "op")
		EndSpan(span, nil)
		assert.NotNil(t, ctx)
	})
}

func TestShutdownWithoutSetup(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background()))
}
