package toolexecutor

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/autopilot/internal/tracing"
	"github.com/harun/autopilot/pkg/eventstream"
	"github.com/harun/autopilot/pkg/mcp"
	"github.com/harun/autopilot/pkg/toolcall"
)

type fakeMCP struct {
	tools   []mcp.ToolDescriptor
	listErr error
	calls   []mcp.CallRequest
	result  toolcall.ToolResult
	callErr error
	onCall  func()
}

func (f *fakeMCP) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	return f.tools, f.listErr
}

func (f *fakeMCP) CallTool(ctx context.Context, req mcp.CallRequest) (toolcall.ToolResult, error) {
	f.calls = append(f.calls, req)
	if f.onCall != nil {
		f.onCall()
	}
	return f.result, f.callErr
}

func setupDispatcher(t *testing.T, source MCPSource) (*Dispatcher, *ToolExecutor, *eventstream.Stream) {
	t.Helper()
	te := New()
	require.NoError(t, te.RegisterTool(echoTool()))
	d, err := NewDispatcher(te, source, zerolog.Nop())
	require.NoError(t, err)
	return d, te, eventstream.New()
}

func eventTypes(events []eventstream.Event) []eventstream.Type {
	types := make([]eventstream.Type, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestDispatcher_Catalog(t *testing.T) {
	t.Run("should list control, mcp and custom tools", func(t *testing.T) {
		source := &fakeMCP{tools: []mcp.ToolDescriptor{
			{Server: "fs", Name: "read_file", Description: "Read"},
			{Server: "fs", Name: "echo", Description: "Shadowed by the custom tool"},
			{Server: "web", Name: "read_file", Description: "Duplicate"},
		}}
		d, _, _ := setupDispatcher(t, source)

		specs, err := d.Catalog(context.Background())
		require.NoError(t, err)

		names := make([]string, len(specs))
		for i, s := range specs {
			names[i] = s.Name
		}
		assert.Equal(t, []string{ToolIdle, ToolFinished, ToolChatMessage, "read_file", "echo"}, names)
		assert.Equal(t, "Echo tool", specs[3].Description)
	})

	t.Run("should degrade when mcp is unavailable", func(t *testing.T) {
		d, _, _ := setupDispatcher(t, &fakeMCP{listErr: errors.New("down")})

		specs, err := d.Catalog(context.Background())
		require.NoError(t, err)
		assert.Len(t, specs, 3)
	})
}

func TestDispatcher_Dispatch(t *testing.T) {
	t.Run("should record tool_used, tool_result and observation in order", func(t *testing.T) {
		d, _, stream := setupDispatcher(t, nil)

		out, err := d.Dispatch(context.Background(), stream, toolcall.ToolCall{ID: "call_1", Name: "echo", Arguments: `{"message":"hi"}`})
		require.NoError(t, err)
		assert.Equal(t, SourceCustom, out.Source)
		assert.False(t, out.Terminal)
		assert.Equal(t, []string{"hi"}, out.Result.Content)
		assert.Equal(t, "call_1", out.Result.ToolCallID)

		events := stream.GetAll()
		assert.Equal(t, []eventstream.Type{
			eventstream.TypeToolUsed,
			eventstream.TypeToolResult,
			eventstream.TypeObservation,
		}, eventTypes(events))

		used := events[0].Payload.(eventstream.ToolUsedPayload)
		assert.Equal(t, eventstream.ToolSuccess, used.Status)
		assert.Equal(t, "hi", used.Result)
		assert.JSONEq(t, `{"message":"hi"}`, string(used.Arguments))

		result := events[1].Payload.(eventstream.ToolResultPayload)
		assert.Equal(t, "call_1", result.ToolCallID)
		assert.False(t, result.IsError)
	})

	t.Run("should return a structured error for unknown tools", func(t *testing.T) {
		d, _, stream := setupDispatcher(t, &fakeMCP{})

		out, err := d.Dispatch(context.Background(), stream, toolcall.ToolCall{ID: "call_1", Name: "teleport"})
		require.NoError(t, err)
		assert.True(t, out.Result.IsError)
		assert.Equal(t, []string{"Tool not found: teleport"}, out.Result.Content)

		events := stream.GetAll()
		require.Len(t, events, 3)
		assert.Equal(t, eventstream.ToolError, events[0].Payload.(eventstream.ToolUsedPayload).Status)
		assert.True(t, events[1].Payload.(eventstream.ToolResultPayload).IsError)
	})

	t.Run("should run idle as a terminal control tool", func(t *testing.T) {
		d, _, stream := setupDispatcher(t, nil)

		out, err := d.Dispatch(context.Background(), stream, toolcall.ToolCall{ID: "call_1", Name: ToolIdle})
		require.NoError(t, err)
		assert.True(t, out.Terminal)
		assert.Equal(t, SourceControl, out.Source)
	})

	t.Run("should run finished as a terminal control tool", func(t *testing.T) {
		d, _, stream := setupDispatcher(t, nil)

		out, err := d.Dispatch(context.Background(), stream, toolcall.ToolCall{ID: "call_1", Name: ToolFinished, Arguments: `{"content":"booked"}`})
		require.NoError(t, err)
		assert.True(t, out.Terminal)
		assert.False(t, out.Result.IsError)
		assert.Equal(t, SourceControl, out.Source)
		assert.Equal(t, []string{"Finished: booked"}, out.Result.Content)
	})

	t.Run("should post chat messages to the stream", func(t *testing.T) {
		d, _, stream := setupDispatcher(t, nil)

		_, err := d.Dispatch(context.Background(), stream, toolcall.ToolCall{ID: "c", Name: ToolChatMessage, Arguments: `{"text":"working on it"}`})
		require.NoError(t, err)

		events := stream.GetAll()
		assert.Equal(t, []eventstream.Type{
			eventstream.TypeToolUsed,
			eventstream.TypeChatMessage,
			eventstream.TypeToolResult,
			eventstream.TypeObservation,
		}, eventTypes(events))
		assert.Equal(t, "working on it", events[1].Payload.(eventstream.MessagePayload).Content)
	})

	t.Run("should prefer control and custom tools over mcp tools", func(t *testing.T) {
		source := &fakeMCP{tools: []mcp.ToolDescriptor{{Server: "fs", Name: "echo"}, {Server: "fs", Name: ToolIdle}}}
		d, _, stream := setupDispatcher(t, source)

		_, err := d.Dispatch(context.Background(), stream, toolcall.ToolCall{ID: "a", Name: "echo", Arguments: `{"message":"x"}`})
		require.NoError(t, err)
		_, err = d.Dispatch(context.Background(), stream, toolcall.ToolCall{ID: "b", Name: ToolIdle})
		require.NoError(t, err)
		assert.Empty(t, source.calls)
	})

	t.Run("should route mcp tools to their server", func(t *testing.T) {
		source := &fakeMCP{
			tools:  []mcp.ToolDescriptor{{Server: "fs", Name: "read_file"}},
			result: toolcall.ToolResult{Content: []string{"contents"}, Images: []string{"aGk="}},
		}
		d, _, stream := setupDispatcher(t, source)

		out, err := d.Dispatch(context.Background(), stream, toolcall.ToolCall{ID: "c", Name: "read_file", Arguments: `{"path":"/a"}`})
		require.NoError(t, err)
		assert.Equal(t, SourceMCP, out.Source)
		assert.Equal(t, []string{"contents"}, out.Result.Content)
		require.Len(t, source.calls, 1)
		assert.Equal(t, mcp.CallRequest{Server: "fs", Name: "read_file", Arguments: map[string]interface{}{"path": "/a"}}, source.calls[0])

		types := eventTypes(stream.GetAll())
		assert.Equal(t, eventstream.TypeScreenshot, types[len(types)-1])
	})

	t.Run("should turn mcp transport errors into error results", func(t *testing.T) {
		source := &fakeMCP{tools: []mcp.ToolDescriptor{{Server: "fs", Name: "read_file"}}, callErr: mcp.ErrClosed}
		d, _, stream := setupDispatcher(t, source)

		out, err := d.Dispatch(context.Background(), stream, toolcall.ToolCall{ID: "c", Name: "read_file"})
		require.NoError(t, err)
		assert.True(t, out.Result.IsError)
	})

	t.Run("should report malformed arguments as an error result", func(t *testing.T) {
		d, _, stream := setupDispatcher(t, nil)

		out, err := d.Dispatch(context.Background(), stream, toolcall.ToolCall{ID: "c", Name: "echo", Arguments: `{"message":`})
		require.NoError(t, err)
		assert.True(t, out.Result.IsError)
		assert.Contains(t, out.Result.Text(), "invalid arguments")
	})

	t.Run("should record the result and return fatal errors", func(t *testing.T) {
		d, te, stream := setupDispatcher(t, nil)
		require.NoError(t, te.RegisterTool(ToolDefinition{
			Name:        "remote_click",
			Description: "Remote",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return nil, fatalErr{}
			},
		}))

		out, err := d.Dispatch(context.Background(), stream, toolcall.ToolCall{ID: "c", Name: "remote_click"})
		assert.True(t, IsFatal(err))
		assert.True(t, out.Result.IsError)
		assert.Len(t, stream.GetAll(), 3)
	})

	t.Run("should discard the result of a cancelled call", func(t *testing.T) {
		d, te, stream := setupDispatcher(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, te.RegisterTool(ToolDefinition{
			Name:        "slow",
			Description: "Cancels midway",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				cancel()
				<-ctx.Done()
				return "too late", nil
			},
		}))

		_, err := d.Dispatch(ctx, stream, toolcall.ToolCall{ID: "c", Name: "slow"})
		assert.ErrorIs(t, err, context.Canceled)

		events := stream.GetAll()
		require.Len(t, events, 1)
		assert.Equal(t, eventstream.ToolError, events[0].Payload.(eventstream.ToolUsedPayload).Status)
	})

	t.Run("should discard an mcp result that arrives after cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		source := &fakeMCP{
			tools:  []mcp.ToolDescriptor{{Server: "fs", Name: "read_file"}},
			result: toolcall.ToolResult{Content: []string{"contents"}},
			onCall: cancel,
		}
		d, _, stream := setupDispatcher(t, source)

		_, err := d.Dispatch(ctx, stream, toolcall.ToolCall{ID: "c", Name: "read_file"})
		assert.ErrorIs(t, err, context.Canceled)
		require.Len(t, source.calls, 1)

		events := stream.GetAll()
		require.Len(t, events, 1)
		payload := events[0].Payload.(eventstream.ToolUsedPayload)
		assert.Equal(t, eventstream.ToolError, payload.Status)
		assert.Equal(t, "cancelled", payload.Error)
	})

	t.Run("should expose the call to handlers", func(t *testing.T) {
		d, te, stream := setupDispatcher(t, nil)
		var (
			seen Call
			ok   bool
		)
		require.NoError(t, te.RegisterTool(ToolDefinition{
			Name:        "whoami",
			Description: "Reads the execution context",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				seen, ok = CallFromContext(ctx)
				return "ok", nil
			},
		}))

		ctx := tracing.WithSessionID(context.Background(), "sess-1")
		_, err := d.Dispatch(ctx, stream, toolcall.ToolCall{ID: "call_9", Name: "whoami"})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, Call{SessionID: "sess-1", ID: "call_9", Tool: "whoami"}, seen)

		_, ok = CallFromContext(context.Background())
		assert.False(t, ok)
	})
}
