package eventstream

import (
	"encoding/json"
	"time"
)

// Type tags an Event.
type Type string

const (
	TypeUserMessage      Type = "user_message"
	TypeUserInterruption Type = "user_interruption"
	TypeChatMessage      Type = "chat_message"
	TypePlanUpdate       Type = "plan_update"
	TypeAgentStatus      Type = "agent_status"
	TypeToolUsed         Type = "tool_used"
	TypeToolResult       Type = "tool_result"
	TypeObservation      Type = "observation"
	TypeScreenshot       Type = "screenshot"
	TypeComplete         Type = "complete"
	TypeError            Type = "error"
	TypeTerminate        Type = "terminate"
)

// IsTerminal reports whether t ends a run.
func (t Type) IsTerminal() bool {
	return t == TypeComplete || t == TypeError || t == TypeTerminate
}

// ToolStatus is the lifecycle of a tool_used event.
type ToolStatus string

const (
	ToolLoading ToolStatus = "loading"
	ToolSuccess ToolStatus = "success"
	ToolError   ToolStatus = "error"
)

// Event is one entry of a session's log. Payload holds one of the payload
// structs below, or a decoded map after a JSON round trip.
type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

type MessagePayload struct {
	Content string `json:"content"`
}

type StatusPayload struct {
	Status string `json:"status"`
}

type PlanStep struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type PlanPayload struct {
	Plan        []PlanStep `json:"plan"`
	CurrentStep int        `json:"currentStep"`
	Reflection  string     `json:"reflection,omitempty"`
}

type ToolUsedPayload struct {
	ToolCallID  string          `json:"toolCallId"`
	Name        string          `json:"name"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	Status      ToolStatus      `json:"status"`
	Description string          `json:"description,omitempty"`
	Result      string          `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Elapsed     time.Duration   `json:"elapsed,omitempty"`
}

type ToolResultPayload struct {
	ToolCallID string   `json:"toolCallId"`
	Name       string   `json:"name"`
	Content    []string `json:"content"`
	IsError    bool     `json:"isError"`
}

type ScreenshotPayload struct {
	Base64      string  `json:"base64"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	ScaleFactor float64 `json:"scaleFactor"`
}

// TerminalPayload closes a run. Reason is "completed", "aborted",
// "max_iterations" or "error"; Message carries the error text.
type TerminalPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// Subscriber receives every appended or updated event synchronously.
type Subscriber func(Event)
