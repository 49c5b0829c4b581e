package toolcall

import "strings"

// NativeEngine relies on the provider's function-calling API.
type NativeEngine struct{}

func NewNativeEngine() *NativeEngine { return &NativeEngine{} }

func (e *NativeEngine) Name() string { return EngineNative }

// PreparePrompt leaves instructions untouched: the catalog travels in the
// request's tool list.
func (e *NativeEngine) PreparePrompt(instructions string, _ []ToolSpec) string {
	return instructions
}

func (e *NativeEngine) PrepareRequest(c Context) Request {
	return Request{
		System:   e.PreparePrompt(c.Instructions, c.Tools),
		Messages: c.Messages,
		Tools:    c.Tools,
	}
}

func (e *NativeEngine) ParseResponse(resp Response) Parsed {
	calls := make([]ToolCall, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		if strings.TrimSpace(tc.Name) == "" {
			continue
		}
		// invalid argument JSON is kept so the dispatcher can report it
		args := strings.TrimSpace(tc.Arguments)
		if args == "" {
			args = "{}"
		}
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Name, Arguments: args})
	}
	return Parsed{Content: resp.Content, ToolCalls: ensureIDs(calls)}
}

func (e *NativeEngine) BuildHistoricalAssistantMessage(p Parsed) Message {
	return Message{
		Role:      RoleAssistant,
		Content:   p.Content,
		ToolCalls: p.ToolCalls,
	}
}

func (e *NativeEngine) BuildHistoricalToolCallResultMessages(results []ToolResult) []Message {
	msgs := make([]Message, 0, len(results))
	for _, r := range results {
		msgs = append(msgs, Message{
			Role:       RoleTool,
			Content:    r.Text(),
			ToolCallID: r.ToolCallID,
			IsError:    r.IsError,
			Images:     r.Images,
		})
	}
	return msgs
}
