package eventstream

import (
	"encoding/json"
	"fmt"
)

// UnmarshalJSON decodes the payload into the struct matching the event
// type, so a restored stream renders the same prompt transcript as the
// live one. Unknown types keep a generic map.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Type      Type            `json:"type"`
		Timestamp json.RawMessage `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.ID = raw.ID
	e.Type = raw.Type
	if len(raw.Timestamp) > 0 {
		if err := json.Unmarshal(raw.Timestamp, &e.Timestamp); err != nil {
			return fmt.Errorf("event %s: bad timestamp: %w", raw.ID, err)
		}
	}
	e.Payload = nil
	if len(raw.Payload) == 0 || string(raw.Payload) == "null" {
		return nil
	}

	payload, err := decodePayload(raw.Type, raw.Payload)
	if err != nil {
		return fmt.Errorf("event %s: bad %s payload: %w", raw.ID, raw.Type, err)
	}
	e.Payload = payload
	return nil
}

func decodePayload(t Type, data json.RawMessage) (interface{}, error) {
	switch t {
	case TypeUserMessage, TypeUserInterruption, TypeChatMessage, TypeObservation:
		return decodeAs[MessagePayload](data)
	case TypeAgentStatus:
		return decodeAs[StatusPayload](data)
	case TypePlanUpdate:
		return decodeAs[PlanPayload](data)
	case TypeToolUsed:
		return decodeAs[ToolUsedPayload](data)
	case TypeToolResult:
		return decodeAs[ToolResultPayload](data)
	case TypeScreenshot:
		return decodeAs[ScreenshotPayload](data)
	case TypeComplete, TypeError, TypeTerminate:
		return decodeAs[TerminalPayload](data)
	}
	var generic map[string]interface{}
	err := json.Unmarshal(data, &generic)
	return generic, err
}

func decodeAs[T any](data json.RawMessage) (interface{}, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
