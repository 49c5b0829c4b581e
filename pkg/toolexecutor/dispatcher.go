package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/autopilot/internal/observability"
	"github.com/harun/autopilot/internal/tracing"
	"github.com/harun/autopilot/pkg/eventstream"
	"github.com/harun/autopilot/pkg/mcp"
	"github.com/harun/autopilot/pkg/toolcall"
)

// Tool sources, in resolution order.
const (
	SourceControl = "control"
	SourceCustom  = "custom"
	SourceMCP     = "mcp"
	SourceNone    = "none"
)

// MCPSource is the live MCP tool surface, normally an *mcp.Hub.
type MCPSource interface {
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	CallTool(ctx context.Context, req mcp.CallRequest) (toolcall.ToolResult, error)
}

// Outcome is one dispatched call.
type Outcome struct {
	Result   toolcall.ToolResult
	Source   string
	Terminal bool
}

// Dispatcher resolves tool calls against control tools, then custom
// tools, then MCP tools, and records every execution on the session's
// event stream.
type Dispatcher struct {
	tools  *ToolExecutor
	mcp    MCPSource
	logger zerolog.Logger

	mu     sync.RWMutex
	routes map[string]string // MCP tool name -> server
}

// NewDispatcher creates a dispatcher. source may be nil when no MCP
// servers are configured.
func NewDispatcher(tools *ToolExecutor, source MCPSource, logger zerolog.Logger) (*Dispatcher, error) {
	if tools == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	return &Dispatcher{
		tools:  tools,
		mcp:    source,
		logger: logger.With().Str("component", "dispatcher").Logger(),
		routes: make(map[string]string),
	}, nil
}

// Catalog lists every callable tool: control tools, live MCP tools and
// custom tools. An MCP tool shadowed by a control or custom tool of the
// same name is left out. MCP failures degrade to an MCP-less catalog.
func (d *Dispatcher) Catalog(ctx context.Context) ([]toolcall.ToolSpec, error) {
	specs := ControlToolSpecs()

	mcpTools, err := d.refreshRoutes(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Warn().Err(err).Msg("MCP tools unavailable")
	}
	for _, t := range mcpTools {
		if IsControlTool(t.Name) || d.tools.GetTool(t.Name) != nil {
			continue
		}
		params := t.InputSchema
		if params == nil {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		specs = append(specs, toolcall.ToolSpec{Name: t.Name, Description: t.Description, Parameters: params})
	}

	return append(specs, d.tools.Specs()...), nil
}

// refreshRoutes reloads the MCP tool list and the name -> server routes.
// The first server advertising a name owns it.
func (d *Dispatcher) refreshRoutes(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	if d.mcp == nil {
		return nil, nil
	}
	tools, err := d.mcp.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	routes := make(map[string]string, len(tools))
	unique := tools[:0:0]
	for _, t := range tools {
		if owner, dup := routes[t.Name]; dup {
			d.logger.Warn().Str("tool", t.Name).Str("owner", owner).Str("server", t.Server).Msg("Duplicate MCP tool name ignored")
			continue
		}
		routes[t.Name] = t.Server
		unique = append(unique, t)
	}

	d.mu.Lock()
	d.routes = routes
	d.mu.Unlock()
	return unique, nil
}

func (d *Dispatcher) mcpServer(ctx context.Context, name string) (string, bool) {
	if d.mcp == nil {
		return "", false
	}
	d.mu.RLock()
	server, ok := d.routes[name]
	d.mu.RUnlock()
	if ok {
		return server, true
	}
	if _, err := d.refreshRoutes(ctx); err != nil {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	server, ok = d.routes[name]
	return server, ok
}

// Dispatch executes one call. It appends a loading tool_used event, runs
// exactly one handler, moves tool_used to success or error, then appends
// one tool_result and one observation. Tool failures become error results;
// the returned error is non-nil only for cancellation and fatal operator
// failures.
func (d *Dispatcher) Dispatch(ctx context.Context, stream *eventstream.Stream, call toolcall.ToolCall) (Outcome, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "autopilot.toolexecutor", "tool.dispatch",
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID))

	used := stream.Append(eventstream.TypeToolUsed, eventstream.ToolUsedPayload{
		ToolCallID: call.ID,
		Name:       call.Name,
		Arguments:  rawArguments(call.Arguments),
		Status:     eventstream.ToolLoading,
	})

	out, source, err := d.run(ctx, stream, call)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		// cancelled: the result, if any, is discarded
		if err == nil {
			err = ctx.Err()
		}
		stream.UpdateTool(used.ID, func(p *eventstream.ToolUsedPayload) {
			p.Status = eventstream.ToolError
			p.Error = "cancelled"
			p.Elapsed = elapsed
		})
		tracing.EndSpan(span, err)
		return Outcome{}, err
	}
	if err != nil {
		out = errorOutput(err.Error())
	}

	result := toolcall.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    out.Content,
		IsError:    out.IsError,
		Images:     out.Images,
	}
	text := result.Text()

	stream.UpdateTool(used.ID, func(p *eventstream.ToolUsedPayload) {
		p.Elapsed = elapsed
		if result.IsError {
			p.Status = eventstream.ToolError
			p.Error = text
			return
		}
		p.Status = eventstream.ToolSuccess
		p.Result = text
	})
	stream.Append(eventstream.TypeToolResult, eventstream.ToolResultPayload{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    result.Content,
		IsError:    result.IsError,
	})
	observation := text
	if result.IsError {
		observation = fmt.Sprintf("%s failed: %s", call.Name, text)
	}
	stream.Append(eventstream.TypeObservation, eventstream.MessagePayload{Content: observation})
	for _, img := range result.Images {
		stream.Append(eventstream.TypeScreenshot, eventstream.ScreenshotPayload{Base64: img})
	}

	status := "success"
	if result.IsError {
		status = "error"
	}
	observability.RecordToolExecution(call.Name, source, elapsed, !result.IsError)
	observability.Audit(ctx, observability.AuditEvent{
		Kind:    observability.AuditTool,
		Action:  call.Name,
		Status:  status,
		Backend: source,
		Fields:  map[string]interface{}{"duration_ms": elapsed.Milliseconds()},
	})
	d.logger.Debug().
		Str("tool", call.Name).
		Str("source", source).
		Str("status", status).
		Dur("duration", elapsed).
		Msg("Tool dispatched")

	tracing.EndSpan(span, err)
	return Outcome{Result: result, Source: source, Terminal: out.Terminal}, err
}

// run resolves the call and executes exactly one handler.
func (d *Dispatcher) run(ctx context.Context, stream *eventstream.Stream, call toolcall.ToolCall) (Output, string, error) {
	args, err := call.DecodeArguments()
	if err != nil {
		return errorOutput(fmt.Sprintf("invalid arguments for %s: %v", call.Name, err)), SourceNone, nil
	}

	if IsControlTool(call.Name) {
		return runControl(stream, call.Name, args), SourceControl, nil
	}

	if d.tools.GetTool(call.Name) != nil {
		ctx = WithCall(ctx, Call{SessionID: tracing.GetSessionID(ctx), ID: call.ID, Tool: call.Name})
		out, err := d.tools.Execute(ctx, call.Name, args)
		return out, SourceCustom, err
	}

	if server, ok := d.mcpServer(ctx, call.Name); ok {
		res, err := d.mcp.CallTool(ctx, mcp.CallRequest{Server: server, Name: call.Name, Arguments: args})
		if err != nil {
			if ctx.Err() != nil {
				return Output{}, SourceMCP, ctx.Err()
			}
			return errorOutput(fmt.Sprintf("mcp tool %s failed: %v", call.Name, err)), SourceMCP, nil
		}
		content := res.Content
		if content == nil {
			content = []string{}
		}
		return Output{Content: content, Images: res.Images, IsError: res.IsError}, SourceMCP, nil
	}

	return errorOutput(fmt.Sprintf("Tool not found: %s", call.Name)), SourceNone, nil
}

func rawArguments(args string) json.RawMessage {
	if args == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	data, _ := json.Marshal(args)
	return data
}
