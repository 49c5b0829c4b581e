package operator

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"strconv"

	"github.com/harun/autopilot/pkg/sandbox"
)

// xdotool key names
var xdotoolKeys = map[string]string{
	"ctrl":      "ctrl",
	"cmd":       "super",
	"alt":       "alt",
	"shift":     "shift",
	"enter":     "Return",
	"escape":    "Escape",
	"tab":       "Tab",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"space":     "space",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"home":      "Home",
	"end":       "End",
	"pageup":    "Prior",
	"pagedown":  "Next",
	"back":      "XF86Back",
}

var xdotoolButtons = map[MouseButton]string{
	ButtonLeft:   "1",
	ButtonMiddle: "2",
	ButtonRight:  "3",
}

var xdotoolScrollButtons = map[string]string{
	"up":    "4",
	"down":  "5",
	"left":  "6",
	"right": "7",
}

// DesktopConfig configures the local X11 backend.
type DesktopConfig struct {
	Display     string
	ScaleFactor float64
}

// DesktopBackend simulates input with xdotool and captures the screen
// with ImageMagick's import. xdotool addresses physical pixels.
type DesktopBackend struct {
	runner sandbox.Runner
	config DesktopConfig
}

func NewDesktopBackend(runner sandbox.Runner, config DesktopConfig) (*DesktopBackend, error) {
	if runner == nil {
		return nil, fmt.Errorf("command runner is required")
	}
	if config.ScaleFactor <= 0 {
		config.ScaleFactor = 1
	}
	return &DesktopBackend{runner: runner, config: config}, nil
}

func (b *DesktopBackend) Kind() Kind     { return KindDesktop }
func (b *DesktopBackend) Physical() bool { return true }

func (b *DesktopBackend) run(ctx context.Context, name string, args ...string) (sandbox.Result, error) {
	cmd := sandbox.Command{Name: name, Args: args}
	if b.config.Display != "" {
		cmd.Env = map[string]string{"DISPLAY": b.config.Display}
	}
	return b.runner.Run(ctx, cmd)
}

func (b *DesktopBackend) Screenshot(ctx context.Context) (ScreenshotOutput, error) {
	res, err := b.run(ctx, "import", "-window", "root", "png:-")
	if err != nil {
		return ScreenshotOutput{}, err
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(res.Stdout))
	if err != nil {
		return ScreenshotOutput{}, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return ScreenshotOutput{
		Base64:      base64.StdEncoding.EncodeToString(res.Stdout),
		Width:       cfg.Width,
		Height:      cfg.Height,
		ScaleFactor: b.config.ScaleFactor,
	}, nil
}

func coord(v float64) string {
	return strconv.Itoa(int(v))
}

func (b *DesktopBackend) MoveTo(ctx context.Context, p Point) error {
	_, err := b.run(ctx, "xdotool", "mousemove", coord(p.X), coord(p.Y))
	return err
}

func (b *DesktopBackend) Click(ctx context.Context, p Point, button MouseButton, count int) error {
	if count < 1 {
		count = 1
	}
	_, err := b.run(ctx, "xdotool",
		"mousemove", coord(p.X), coord(p.Y),
		"click", "--repeat", strconv.Itoa(count), xdotoolButtons[button])
	return err
}

func (b *DesktopBackend) Drag(ctx context.Context, from, to Point) error {
	_, err := b.run(ctx, "xdotool",
		"mousemove", coord(from.X), coord(from.Y),
		"mousedown", "1",
		"mousemove", coord(to.X), coord(to.Y),
		"mouseup", "1")
	return err
}

func (b *DesktopBackend) Type(ctx context.Context, text string) error {
	_, err := b.run(ctx, "xdotool", "type", "--delay", "12", "--", text)
	return err
}

func (b *DesktopBackend) Hotkey(ctx context.Context, keys []string) error {
	combo := ""
	for i, k := range keys {
		if mapped, ok := xdotoolKeys[k]; ok {
			k = mapped
		}
		if i > 0 {
			combo += "+"
		}
		combo += k
	}
	_, err := b.run(ctx, "xdotool", "key", combo)
	return err
}

func (b *DesktopBackend) Scroll(ctx context.Context, p Point, direction string, amount int) error {
	button, ok := xdotoolScrollButtons[direction]
	if !ok {
		return fmt.Errorf("unknown scroll direction %q", direction)
	}
	_, err := b.run(ctx, "xdotool",
		"mousemove", coord(p.X), coord(p.Y),
		"click", "--repeat", strconv.Itoa(amount), button)
	return err
}
