package toolcall

import (
	"encoding/json"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Role of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolSpec advertises one callable tool. Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall is one invocation requested by the model. Arguments holds raw
// JSON text as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// DecodeArguments unmarshals the call's arguments. Empty arguments decode
// to an empty map.
func (c ToolCall) DecodeArguments() (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if strings.TrimSpace(c.Arguments) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// ToolResult is the outcome of one ToolCall.
type ToolResult struct {
	ToolCallID string   `json:"toolCallId"`
	Name       string   `json:"name"`
	Content    []string `json:"content"`
	IsError    bool     `json:"isError"`
	// Images holds base64 PNG data attached to the result, such as a
	// screenshot taken by the tool.
	Images []string `json:"images,omitempty"`
}

// Text joins the result content.
func (r ToolResult) Text() string {
	return strings.Join(r.Content, "\n")
}

// Message is one provider-neutral conversation turn.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	IsError    bool       `json:"isError,omitempty"`
	Images     []string   `json:"images,omitempty"`
}

// Context is what an engine turns into a Request.
type Context struct {
	Instructions string
	Messages     []Message
	Tools        []ToolSpec
}

// Request is what a provider sends. Tools is empty when the engine embeds
// the catalog in System instead.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolSpec
}

// Response is a provider reply before engine parsing.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Parsed is the engine's reading of a Response.
type Parsed struct {
	Content   string
	ToolCalls []ToolCall
}

// NewCallID returns a fresh tool-call id.
func NewCallID() string {
	return "call_" + gonanoid.Must(12)
}
