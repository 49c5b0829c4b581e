package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/harun/autopilot/pkg/eventstream"
)

const maxConsoleText = 300

// printEvent renders one stream event as a console line. Screenshots are
// summarized; tool calls are printed once they settle.
func printEvent(w io.Writer, ev eventstream.Event) {
	switch p := ev.Payload.(type) {
	case eventstream.MessagePayload:
		switch ev.Type {
		case eventstream.TypeUserMessage:
			fmt.Fprintf(w, "> %s\n", p.Content)
		case eventstream.TypeUserInterruption:
			fmt.Fprintf(w, "> (interrupt) %s\n", p.Content)
		case eventstream.TypeChatMessage:
			fmt.Fprintf(w, "assistant: %s\n", p.Content)
		case eventstream.TypeObservation:
			fmt.Fprintf(w, "observation: %s\n", clip(p.Content))
		}
	case eventstream.StatusPayload:
		fmt.Fprintf(w, "status: %s\n", p.Status)
	case eventstream.PlanPayload:
		fmt.Fprintln(w, "plan:")
		for i, step := range p.Plan {
			marker := " "
			if i == p.CurrentStep {
				marker = "*"
			} else if i < p.CurrentStep {
				marker = "x"
			}
			fmt.Fprintf(w, "  [%s] %s\n", marker, step.Title)
		}
		if p.Reflection != "" {
			fmt.Fprintf(w, "  reflection: %s\n", clip(p.Reflection))
		}
	case eventstream.ToolUsedPayload:
		switch p.Status {
		case eventstream.ToolLoading:
			return
		case eventstream.ToolSuccess:
			fmt.Fprintf(w, "tool %s: %s\n", p.Name, clip(p.Result))
		default:
			fmt.Fprintf(w, "tool %s %s: %s\n", p.Name, p.Status, clip(p.Error))
		}
	case eventstream.ScreenshotPayload:
		fmt.Fprintf(w, "[screenshot %dx%d]\n", p.Width, p.Height)
	case eventstream.TerminalPayload:
		if p.Message != "" {
			fmt.Fprintf(w, "%s: %s (%s)\n", ev.Type, p.Reason, p.Message)
		} else {
			fmt.Fprintf(w, "%s: %s\n", ev.Type, p.Reason)
		}
	}
}

func clip(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if len(s) > maxConsoleText {
		return s[:maxConsoleText] + "..."
	}
	return s
}
