package toolexecutor

import (
	"github.com/harun/autopilot/pkg/eventstream"
	"github.com/harun/autopilot/pkg/toolcall"
)

// Control tool names. They run in-process ahead of every other tool.
const (
	ToolIdle        = "idle"
	ToolFinished    = "finished"
	ToolChatMessage = "chat-message"
)

// IsControlTool reports whether name is reserved for a control tool.
func IsControlTool(name string) bool {
	switch name {
	case ToolIdle, ToolFinished, ToolChatMessage:
		return true
	}
	return false
}

// ControlToolSpecs is the control part of the catalog.
func ControlToolSpecs() []toolcall.ToolSpec {
	return []toolcall.ToolSpec{
		{
			Name:        ToolIdle,
			Description: "Call when the task is complete or nothing more can be done. Ends the run.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        ToolFinished,
			Description: "Call when the task has been accomplished. Ends the run.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"content": map[string]interface{}{
						"type":        "string",
						"description": "Short summary of the outcome",
					},
				},
			},
		},
		{
			Name:        ToolChatMessage,
			Description: "Send a message to the user.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"text": map[string]interface{}{
						"type":        "string",
						"description": "Message shown to the user",
					},
				},
				"required": []string{"text"},
			},
		},
	}
}

// runControl executes a control tool. The chat message is recorded on the
// stream before the result is returned.
func runControl(stream *eventstream.Stream, name string, args map[string]interface{}) Output {
	switch name {
	case ToolIdle:
		return Output{Content: []string{"Idle"}, Terminal: true}
	case ToolFinished:
		line := "Finished"
		if summary, _ := args["content"].(string); summary != "" {
			line += ": " + summary
		}
		return Output{Content: []string{line}, Terminal: true}
	case ToolChatMessage:
		text, _ := args["text"].(string)
		if text == "" {
			text, _ = args["content"].(string)
		}
		if text == "" {
			return errorOutput("chat-message requires text")
		}
		stream.Append(eventstream.TypeChatMessage, eventstream.MessagePayload{Content: text})
		return Output{Content: []string{"Message sent"}}
	}
	return errorOutput("Tool not found: " + name)
}
