// Package toolexecutor runs the tools a model asks for.
//
// A Dispatcher resolves each call in a fixed order: the control tools
// idle and chat-message, then custom tools registered on a ToolExecutor,
// then tools advertised by MCP servers. Exactly one handler runs per call
// and an unknown name yields a "Tool not found" error result. Every
// dispatch leaves a tool_used event (loading, then success or error), one
// tool_result and one observation on the session's event stream.
//
// Usage:
//
//	exec := toolexecutor.New()
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name: "echo",
//		Description: "Echo input",
//		Parameters: []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return params["text"], nil },
//	})
//	d, _ := toolexecutor.NewDispatcher(exec, hub, logger)
//	outcome, err := d.Dispatch(ctx, stream, call)
package toolexecutor
