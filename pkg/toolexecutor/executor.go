package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/autopilot/pkg/toolcall"
)

const (
	// DefaultTimeout bounds one custom tool call.
	DefaultTimeout = 60 * time.Second
	maxOutputSize  = 10 * 1024
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Enum        []string    `json:"enum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution. It may return
// an Output for full control over the result; any other value is rendered
// as text.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Output is a structured handler result.
type Output struct {
	Content []string
	Images  []string
	IsError bool
	// Terminal asks the orchestration loop to stop after this call.
	Terminal bool
}

// fatal is implemented by errors that must end the run, such as an
// exhausted remote operator.
type fatal interface {
	Fatal() bool
}

// IsFatal reports whether err must escape the dispatcher.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var f fatal
	return errors.As(err, &f) && f.Fatal()
}

// ToolExecutor manages and executes custom tools
type ToolExecutor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	timeout time.Duration
	mu      sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	te := &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: DefaultTimeout,
	}

	log.Debug().Msg("Tool executor initialized")

	return te
}

// SetTimeout changes the per-call timeout.
func (te *ToolExecutor) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	te.mu.Lock()
	defer te.mu.Unlock()
	te.timeout = d
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}
	if IsControlTool(def.Name) {
		return fmt.Errorf("tool name %q is reserved", def.Name)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(parametersSchema(def)))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
	delete(te.schemas, name)
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names, sorted
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)
	return tools
}

// Specs returns the catalog entries of every registered tool.
func (te *ToolExecutor) Specs() []toolcall.ToolSpec {
	names := te.ListTools()
	specs := make([]toolcall.ToolSpec, 0, len(names))
	for _, name := range names {
		if def := te.GetTool(name); def != nil {
			specs = append(specs, toolcall.ToolSpec{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  parametersSchema(*def),
			})
		}
	}
	return specs
}

// Execute runs a tool. Validation failures, handler errors, panics and
// timeouts come back as error outputs; only fatal errors and cancellation
// of ctx are returned as Go errors.
func (te *ToolExecutor) Execute(ctx context.Context, name string, params map[string]interface{}) (Output, error) {
	te.mu.RLock()
	tool, schema, timeout := te.tools[name], te.schemas[name], te.timeout
	te.mu.RUnlock()

	if tool == nil {
		return errorOutput("Tool not found: " + name), nil
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	logger := log.With().Str("tool", name).Logger()
	if c, ok := CallFromContext(ctx); ok {
		logger = logger.With().Str("session_id", c.SessionID).Str("tool_call_id", c.ID).Logger()
	}

	if err := validateParameters(schema, params); err != nil {
		logger.Warn().Err(err).Msg("Parameter validation failed")
		return errorOutput(fmt.Sprintf("parameter validation failed: %v", err)), nil
	}

	start := time.Now()
	result, err := invoke(ctx, tool.Handler, params, timeout)
	elapsed := time.Since(start)

	switch {
	case ctx.Err() != nil:
		return Output{}, ctx.Err()
	case errors.Is(err, errTimeout):
		logger.Warn().Dur("timeout", timeout).Msg("Tool execution timeout")
		return errorOutput(fmt.Sprintf("tool execution timeout after %v", timeout)), nil
	case IsFatal(err):
		return Output{}, err
	case err != nil:
		logger.Warn().Dur("duration", elapsed).Err(err).Msg("Tool execution failed")
		return errorOutput(err.Error()), nil
	}

	out, truncated := renderOutput(result)
	logger.Debug().Dur("duration", elapsed).Bool("truncated", truncated).Msg("Tool execution completed")
	return out, nil
}

var errTimeout = errors.New("tool execution timeout")

// invoke runs h under timeout. A handler that overruns is abandoned; its
// result is discarded when it eventually returns.
func invoke(ctx context.Context, h ToolHandler, params map[string]interface{}, timeout time.Duration) (interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value interface{}
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		v, err := h(callCtx, params)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, errTimeout
		}
		return r.value, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errTimeout
	}
}

func errorOutput(msg string) Output {
	return Output{Content: []string{msg}, IsError: true}
}

// renderOutput converts a handler result into an Output, truncating
// oversized text.
func renderOutput(result interface{}) (Output, bool) {
	var out Output
	switch v := result.(type) {
	case Output:
		out = v
	case *Output:
		if v != nil {
			out = *v
		}
	case nil:
		out = Output{}
	case string:
		out = Output{Content: []string{v}}
	case []byte:
		out = Output{Content: []string{string(v)}}
	default:
		data, err := json.Marshal(v)
		if err != nil {
			out = Output{Content: []string{fmt.Sprintf("%v", v)}}
		} else {
			out = Output{Content: []string{string(data)}}
		}
	}

	truncated := false
	for i, c := range out.Content {
		if len(c) > maxOutputSize {
			out.Content[i] = c[:maxOutputSize] + "\n... [output truncated]"
			truncated = true
		}
	}
	if out.Content == nil {
		out.Content = []string{}
	}
	return out, truncated
}
