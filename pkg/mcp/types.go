package mcp

import (
	"context"

	"github.com/harun/autopilot/pkg/toolcall"
)

// ServerConfig describes one stdio MCP server.
type ServerConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// ToolDescriptor is a tool advertised by a server.
type ToolDescriptor struct {
	Server      string                 `json:"server"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

// CallRequest routes a tool call to its owning server.
type CallRequest struct {
	Server    string
	Name      string
	Arguments map[string]interface{}
}

// Session is a live connection to one server.
type Session interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (toolcall.ToolResult, error)
	Close() error
}

// Connector opens a Session. Dial is the production connector.
type Connector func(ctx context.Context, server ServerConfig) (Session, error)
