package toolcall

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/harun/autopilot/internal/llmutil"
)

var (
	toolCallTagRegex = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>`)
	// \x60 is a backtick.
	fencedJSONRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\{.*?\\})\\s*\x60\x60\x60")
)

// PromptEngine embeds the tool catalog in the system prompt and reads tool
// calls back out of the reply text, for models without function calling.
type PromptEngine struct{}

func NewPromptEngine() *PromptEngine { return &PromptEngine{} }

func (e *PromptEngine) Name() string { return EnginePrompt }

func (e *PromptEngine) PreparePrompt(instructions string, tools []ToolSpec) string {
	if len(tools) == 0 {
		return instructions
	}

	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n## Tools\n\nYou can call the following tools:\n")
	for _, t := range tools {
		schema, err := json.Marshal(t.Parameters)
		if err != nil {
			schema = []byte("{}")
		}
		fmt.Fprintf(&b, "\n### %s\n%s\nParameters JSON schema: %s\n", t.Name, t.Description, schema)
	}
	b.WriteString("\n## Calling tools\n\n" +
		"To call a tool, reply with one block per call, in the order they must run:\n\n" +
		"<tool_call>\n{\"name\": \"tool_name\", \"arguments\": {\"param\": \"value\"}}\n</tool_call>\n\n" +
		"Write any explanation before the first block. You must call at least one tool in every reply.")
	return b.String()
}

// PrepareRequest flattens tool history into plain text turns, since the
// provider knows nothing about tool roles here.
func (e *PromptEngine) PrepareRequest(c Context) Request {
	msgs := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		switch m.Role {
		case RoleTool:
			msgs = append(msgs, Message{Role: RoleUser, Content: m.Content, Images: m.Images})
		case RoleAssistant:
			msgs = append(msgs, Message{Role: RoleAssistant, Content: m.Content})
		default:
			msgs = append(msgs, m)
		}
	}
	return Request{
		System:   e.PreparePrompt(c.Instructions, c.Tools),
		Messages: msgs,
	}
}

type embeddedCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	// some models use "parameters" instead of "arguments"
	Parameters json.RawMessage `json:"parameters"`
}

func (e *PromptEngine) ParseResponse(resp Response) Parsed {
	text := resp.Content

	blocks := toolCallTagRegex.FindAllStringSubmatchIndex(text, -1)
	re := toolCallTagRegex
	if len(blocks) == 0 {
		blocks = fencedJSONRegex.FindAllStringSubmatchIndex(text, -1)
		re = fencedJSONRegex
	}

	var calls []ToolCall
	for _, loc := range blocks {
		for _, obj := range llmutil.ScanObjects(text[loc[2]:loc[3]]) {
			if call, ok := decodeEmbedded(obj); ok {
				calls = append(calls, call)
			}
		}
	}

	if len(calls) == 0 {
		return Parsed{Content: text}
	}

	content := strings.TrimSpace(re.ReplaceAllString(text, ""))
	return Parsed{Content: content, ToolCalls: ensureIDs(calls)}
}

func decodeEmbedded(obj string) (ToolCall, bool) {
	var ec embeddedCall
	if err := json.Unmarshal([]byte(obj), &ec); err != nil {
		return ToolCall{}, false
	}
	name := strings.TrimSpace(ec.Name)
	if name == "" {
		return ToolCall{}, false
	}

	args := ec.Arguments
	if len(args) == 0 {
		args = ec.Parameters
	}
	return ToolCall{ID: ec.ID, Name: name, Arguments: normalizeArguments(args)}, true
}

// normalizeArguments returns an object's JSON text. Models sometimes send
// the arguments as a JSON-encoded string.
func normalizeArguments(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "{}"
	}
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal(raw, &inner); err == nil && json.Valid([]byte(inner)) {
			return inner
		}
	}
	return trimmed
}

// BuildHistoricalAssistantMessage re-embeds the calls so the model sees its
// own earlier replies in the format it is asked to use.
func (e *PromptEngine) BuildHistoricalAssistantMessage(p Parsed) Message {
	var b strings.Builder
	b.WriteString(p.Content)
	for _, tc := range p.ToolCalls {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "<tool_call>\n{\"id\": %q, \"name\": %q, \"arguments\": %s}\n</tool_call>", tc.ID, tc.Name, normalizeArguments(json.RawMessage(tc.Arguments)))
	}
	return Message{Role: RoleAssistant, Content: b.String(), ToolCalls: p.ToolCalls}
}

func (e *PromptEngine) BuildHistoricalToolCallResultMessages(results []ToolResult) []Message {
	if len(results) == 0 {
		return nil
	}

	var (
		b      strings.Builder
		images []string
	)
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		status := "ok"
		if r.IsError {
			status = "error"
		}
		fmt.Fprintf(&b, "<tool_result id=%q name=%q status=%q>\n%s\n</tool_result>", r.ToolCallID, r.Name, status, r.Text())
		images = append(images, r.Images...)
	}
	return []Message{{Role: RoleUser, Content: b.String(), Images: images}}
}
