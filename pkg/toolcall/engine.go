package toolcall

import "fmt"

// Engine adapts tool calling to a model's capabilities. The orchestration
// loop only ever talks to this interface.
type Engine interface {
	Name() string
	PreparePrompt(instructions string, tools []ToolSpec) string
	PrepareRequest(c Context) Request
	// ParseResponse never fails. Output it cannot read yields zero calls
	// and the raw text as content.
	ParseResponse(resp Response) Parsed
	BuildHistoricalAssistantMessage(p Parsed) Message
	BuildHistoricalToolCallResultMessages(results []ToolResult) []Message
}

const (
	EngineNative = "native"
	EnginePrompt = "prompt"
)

// NewEngine returns the engine registered under name.
func NewEngine(name string) (Engine, error) {
	switch name {
	case EngineNative, "":
		return NewNativeEngine(), nil
	case EnginePrompt:
		return NewPromptEngine(), nil
	default:
		return nil, fmt.Errorf("unsupported tool-call engine: %s", name)
	}
}

// ensureIDs fills missing call ids and keeps ids unique within one reply.
func ensureIDs(calls []ToolCall) []ToolCall {
	seen := make(map[string]bool, len(calls))
	for i := range calls {
		if calls[i].ID == "" || seen[calls[i].ID] {
			calls[i].ID = NewCallID()
		}
		seen[calls[i].ID] = true
	}
	return calls
}
