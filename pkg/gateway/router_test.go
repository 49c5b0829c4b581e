package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCRouter_RegisterMethod(t *testing.T) {
	router := NewRPCRouter()

	t.Run("should register method successfully", func(t *testing.T) {
		err := router.RegisterMethod("test.method", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			return "result", nil
		})
		assert.NoError(t, err)
		assert.True(t, router.HasMethod("test.method"))
		assert.Equal(t, []string{"test.method"}, router.Methods())
	})

	t.Run("should reject nil handler", func(t *testing.T) {
		err := router.RegisterMethod("test.nil", nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "handler cannot be nil")
	})

	t.Run("should unregister method", func(t *testing.T) {
		router.UnregisterMethod("test.method")
		assert.False(t, router.HasMethod("test.method"))
		router.UnregisterMethod("test.missing")
	})
}

func TestRPCRouter_ParseRequest(t *testing.T) {
	router := NewRPCRouter()

	t.Run("should parse a valid request", func(t *testing.T) {
		req, err := router.ParseRequest([]byte(`{"id":"1","method":"agent.list","params":{"a":1}}`))
		require.NoError(t, err)
		assert.Equal(t, "1", req.ID)
		assert.Equal(t, "agent.list", req.Method)
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.JSONEq(t, `{"a":1}`, string(req.Params))
	})

	t.Run("should reject malformed requests", func(t *testing.T) {
		cases := map[string]int{
			`{not json`:               ParseError,
			`{"method":"agent.list"}`: InvalidRequest,
			`{"id":"1"}`:              InvalidRequest,
		}
		for body, code := range cases {
			_, err := router.ParseRequest([]byte(body))
			var rpcErr *RPCError
			require.ErrorAs(t, err, &rpcErr, body)
			assert.Equal(t, code, rpcErr.Code, body)
		}
	})
}

func TestRPCRouter_RouteRequest(t *testing.T) {
	router := NewRPCRouter()
	calls := 0
	_ = router.RegisterMethod("echo", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		calls++
		var p struct {
			Value string `json:"value"`
		}
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return p.Value, nil
	})
	_ = router.RegisterMethod("typed", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, fmt.Errorf("wrapped: %w", &RPCError{Code: SessionNotFound, Message: "session not found: x"})
	})
	_ = router.RegisterMethod("plain", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, fmt.Errorf("boom")
	})
	_ = router.RegisterMethod("client", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		c, ok := callerFrom(ctx)
		if !ok {
			return "", nil
		}
		return c.ID, nil
	})

	t.Run("should return the handler result", func(t *testing.T) {
		resp := router.RouteRequest(context.Background(), &RPCRequest{ID: "1", Method: "echo", Params: rawJSON(map[string]string{"value": "hi"})})
		assert.Equal(t, "1", resp.ID)
		assert.Equal(t, "2.0", resp.JSONRPC)
		assert.Equal(t, "hi", resp.Result)
		assert.Nil(t, resp.Error)
	})

	t.Run("should report unknown methods", func(t *testing.T) {
		resp := router.RouteRequest(context.Background(), &RPCRequest{ID: "2", Method: "nope"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, MethodNotFound, resp.Error.Code)
	})

	t.Run("should keep typed error codes", func(t *testing.T) {
		resp := router.RouteRequest(context.Background(), &RPCRequest{ID: "3", Method: "typed"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, SessionNotFound, resp.Error.Code)
	})

	t.Run("should map other errors to internal error", func(t *testing.T) {
		resp := router.RouteRequest(context.Background(), &RPCRequest{ID: "4", Method: "plain"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, InternalError, resp.Error.Code)
		assert.Equal(t, "boom", resp.Error.Message)
	})

	t.Run("should pass the caller through the context", func(t *testing.T) {
		resp := router.RouteRequest(withCaller(context.Background(), &Client{ID: "client-7"}), &RPCRequest{ID: "5", Method: "client"})
		assert.Equal(t, "client-7", resp.Result)

		resp = router.RouteRequest(context.Background(), &RPCRequest{ID: "5", Method: "client"})
		assert.Equal(t, "", resp.Result)
	})

	t.Run("should reject params of the wrong shape", func(t *testing.T) {
		resp := router.RouteRequest(context.Background(), &RPCRequest{ID: "8", Method: "echo", Params: json.RawMessage(`{"value":5}`)})
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)
	})

	t.Run("should replay responses for a repeated idempotency key", func(t *testing.T) {
		calls = 0
		first := router.RouteRequest(context.Background(), &RPCRequest{ID: "6", Method: "echo", IdempotencyKey: "k", Params: rawJSON(map[string]string{"value": "a"})})
		second := router.RouteRequest(context.Background(), &RPCRequest{ID: "7", Method: "echo", IdempotencyKey: "k", Params: rawJSON(map[string]string{"value": "b"})})

		assert.Equal(t, 1, calls)
		assert.Equal(t, "a", first.Result)
		assert.Equal(t, "a", second.Result)
		assert.Equal(t, "7", second.ID)
	})
}

func TestSessionArgs(t *testing.T) {
	t.Run("should report the first missing field", func(t *testing.T) {
		_, err := sessionArgs(rawJSON(map[string]string{"sessionId": "s"}), "sessionId", "text")
		var rpcErr *RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, InvalidParams, rpcErr.Code)
		assert.Contains(t, rpcErr.Message, "text parameter is required")
	})

	t.Run("should treat absent params as empty", func(t *testing.T) {
		_, err := sessionArgs(nil, "input")
		assert.Error(t, err)

		p, err := sessionArgs(json.RawMessage(`null`))
		require.NoError(t, err)
		assert.Empty(t, p.SessionID)
	})

	t.Run("should reject blank values", func(t *testing.T) {
		_, err := sessionArgs(rawJSON(map[string]string{"input": "   "}), "input")
		assert.Error(t, err)
	})
}

func rawJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
