package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harun/autopilot/pkg/eventstream"
)

func TestPrintEvent(t *testing.T) {
	render := func(ev eventstream.Event) string {
		var buf bytes.Buffer
		printEvent(&buf, ev)
		return buf.String()
	}

	t.Run("should render messages by type", func(t *testing.T) {
		assert.Equal(t, "> open settings\n", render(eventstream.Event{Type: eventstream.TypeUserMessage, Payload: eventstream.MessagePayload{Content: "open settings"}}))
		assert.Equal(t, "assistant: on it\n", render(eventstream.Event{Type: eventstream.TypeChatMessage, Payload: eventstream.MessagePayload{Content: "on it"}}))
		assert.Equal(t, "observation: a b\n", render(eventstream.Event{Type: eventstream.TypeObservation, Payload: eventstream.MessagePayload{Content: "a\nb"}}))
	})

	t.Run("should mark plan progress", func(t *testing.T) {
		out := render(eventstream.Event{Type: eventstream.TypePlanUpdate, Payload: eventstream.PlanPayload{
			Plan:        []eventstream.PlanStep{{Title: "open menu"}, {Title: "click settings"}, {Title: "verify"}},
			CurrentStep: 1,
		}})
		assert.Equal(t, "plan:\n  [x] open menu\n  [*] click settings\n  [ ] verify\n", out)
	})

	t.Run("should print settled tool calls only", func(t *testing.T) {
		assert.Empty(t, render(eventstream.Event{Type: eventstream.TypeToolUsed, Payload: eventstream.ToolUsedPayload{Name: "computer_action", Status: eventstream.ToolLoading}}))
		assert.Equal(t, "tool computer_action: clicked\n", render(eventstream.Event{Type: eventstream.TypeToolUsed, Payload: eventstream.ToolUsedPayload{Name: "computer_action", Status: eventstream.ToolSuccess, Result: "clicked"}}))
		assert.Equal(t, "tool computer_action error: boom\n", render(eventstream.Event{Type: eventstream.TypeToolUsed, Payload: eventstream.ToolUsedPayload{Name: "computer_action", Status: eventstream.ToolError, Error: "boom"}}))
	})

	t.Run("should summarize screenshots and terminals", func(t *testing.T) {
		assert.Equal(t, "[screenshot 1280x800]\n", render(eventstream.Event{Type: eventstream.TypeScreenshot, Payload: eventstream.ScreenshotPayload{Base64: "xxx", Width: 1280, Height: 800}}))
		assert.Equal(t, "complete: completed\n", render(eventstream.Event{Type: eventstream.TypeComplete, Payload: eventstream.TerminalPayload{Reason: "completed"}}))
		assert.Equal(t, "error: error (model down)\n", render(eventstream.Event{Type: eventstream.TypeError, Payload: eventstream.TerminalPayload{Reason: "error", Message: "model down"}}))
	})

	t.Run("should clip long text", func(t *testing.T) {
		out := render(eventstream.Event{Type: eventstream.TypeObservation, Payload: eventstream.MessagePayload{Content: strings.Repeat("x", 1000)}})
		assert.True(t, strings.HasSuffix(out, "...\n"))
		assert.Less(t, len(out), 400)
	})
}
