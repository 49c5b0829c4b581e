package operator

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/autopilot/pkg/toolexecutor"
)

const (
	ToolScreenshot = "computer_screenshot"
	ToolAction     = "computer_action"
)

const actionHelp = `GUI action to perform, one per line. Coordinates are boxes in a 1000x1000 space.
click(start_box='[x1,y1,x2,y2]') | left_double(start_box=...) | right_single(start_box=...)
middle_click(start_box=...) | hover(start_box=...) | drag(start_box=..., end_box=...)
type(content='text\n') | hotkey(key='ctrl c') | scroll(start_box=..., direction='down')
wait() | finished(content='summary') | call_user() | error_env()`

// actions that do not need the current screen resolution
var screenless = map[string]bool{
	"type": true, "hotkey": true, "press_home": true, "press_back": true,
	"wait": true, "finished": true, "call_user": true, "error_env": true,
}

// RegisterTools exposes op as the custom tools computer_screenshot and
// computer_action. A terminal action produces a terminal tool output.
func RegisterTools(te *toolexecutor.ToolExecutor, op Operator) error {
	if te == nil || op == nil {
		return fmt.Errorf("tool executor and operator are required")
	}

	if err := te.RegisterTool(toolexecutor.ToolDefinition{
		Name:        ToolScreenshot,
		Description: "Capture the current screen.",
		Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			shot, err := op.Screenshot(ctx)
			if err != nil {
				return nil, err
			}
			return toolexecutor.Output{
				Content: []string{fmt.Sprintf("Screenshot captured (%dx%d, scale %.2f)", shot.Width, shot.Height, shot.ScaleFactor)},
				Images:  []string{shot.Base64},
			}, nil
		},
	}); err != nil {
		return err
	}

	return te.RegisterTool(toolexecutor.ToolDefinition{
		Name:        ToolAction,
		Description: "Perform GUI actions on the screen.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "action", Type: "string", Description: actionHelp, Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			text, _ := params["action"].(string)
			return runActions(ctx, op, text)
		},
	})
}

// runActions executes the parsed actions in order, stopping at the first
// terminal one. The screen is captured at most once.
func runActions(ctx context.Context, op Operator, text string) (toolexecutor.Output, error) {
	actions, err := ParseAction(text)
	if err != nil {
		return toolexecutor.Output{}, fmt.Errorf("invalid action: %w", err)
	}

	var screen *ScreenshotOutput
	lines := make([]string, 0, len(actions))
	for _, a := range actions {
		params := ExecuteParams{Action: a}
		if !screenless[actionAliases[a.Type]] {
			if screen == nil {
				shot, err := op.Screenshot(ctx)
				if err != nil {
					return toolexecutor.Output{}, err
				}
				screen = &shot
			}
			params.ScreenWidth = screen.Width
			params.ScreenHeight = screen.Height
			params.ScaleFactor = screen.ScaleFactor
		}

		out, err := op.Execute(ctx, params)
		if err != nil {
			return toolexecutor.Output{}, err
		}

		switch {
		case out.Status.Terminal():
			line := string(out.Status)
			if out.Message != "" {
				line += ": " + out.Message
			}
			return toolexecutor.Output{Content: append(lines, line), Terminal: true}, nil
		case out.Skipped:
			lines = append(lines, fmt.Sprintf("%s skipped: %s", a.Type, out.Message))
		default:
			lines = append(lines, fmt.Sprintf("%s done", a.Type))
		}
	}
	return toolexecutor.Output{Content: []string{strings.Join(lines, "\n")}}, nil
}
