package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/autopilot/pkg/toolcall"
)

func TestAnthropicMessagesGroupToolResults(t *testing.T) {
	msgs := anthropicMessages([]toolcall.Message{
		{Role: toolcall.RoleUser, Content: "open settings"},
		{Role: toolcall.RoleAssistant, ToolCalls: []toolcall.ToolCall{
			{ID: "a", Name: "computer_action", Arguments: `{"action":"click"}`},
			{ID: "b", Name: "computer_screenshot", Arguments: `not json`},
		}},
		{Role: toolcall.RoleTool, ToolCallID: "a", Content: "clicked"},
		{Role: toolcall.RoleTool, ToolCallID: "b", Content: "captured", Images: []string{"aGk="}},
		{Role: toolcall.RoleUser, Content: "continue"},
	})

	require.Len(t, msgs, 4)
	assert.Len(t, msgs[1].Content, 2)
	// two results plus one image in a single user turn
	assert.Len(t, msgs[2].Content, 3)
}

func TestAnthropicToolsRequiredForms(t *testing.T) {
	tools := anthropicTools([]toolcall.ToolSpec{
		{Name: "a", Parameters: map[string]interface{}{"properties": map[string]interface{}{}, "required": []string{"x"}}},
		{Name: "b", Parameters: map[string]interface{}{"properties": map[string]interface{}{}, "required": []interface{}{"y", 3}}},
	})
	require.Len(t, tools, 2)
	assert.Equal(t, []string{"x"}, tools[0].OfTool.InputSchema.Required)
	assert.Equal(t, []string{"y"}, tools[1].OfTool.InputSchema.Required)
}

func TestOpenAIMessagesAttachImagesAfterToolTurns(t *testing.T) {
	msgs := openaiMessages("system", []toolcall.Message{
		{Role: toolcall.RoleAssistant, ToolCalls: []toolcall.ToolCall{{ID: "a", Name: "computer_screenshot", Arguments: "{}"}}},
		{Role: toolcall.RoleTool, ToolCallID: "a", Content: "captured", Images: []string{"aGk="}},
	})

	// system, assistant, tool, synthetic user turn with the image
	require.Len(t, msgs, 4)
	raw, err := json.Marshal(msgs[3])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "data:image/png;base64,aGk=")

	raw, err = json.Marshal(msgs[2])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"tool_call_id":"a"`)
}
