package operator

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

var rodKeys = map[string]input.Key{
	"ctrl":      input.ControlLeft,
	"cmd":       input.MetaLeft,
	"alt":       input.AltLeft,
	"shift":     input.ShiftLeft,
	"enter":     input.Enter,
	"escape":    input.Escape,
	"tab":       input.Tab,
	"backspace": input.Backspace,
	"delete":    input.Delete,
	"space":     input.Space,
	"up":        input.ArrowUp,
	"down":      input.ArrowDown,
	"left":      input.ArrowLeft,
	"right":     input.ArrowRight,
	"home":      input.Home,
	"end":       input.End,
	"pageup":    input.PageUp,
	"pagedown":  input.PageDown,
}

var rodButtons = map[MouseButton]proto.InputMouseButton{
	ButtonLeft:   proto.InputMouseButtonLeft,
	ButtonRight:  proto.InputMouseButtonRight,
	ButtonMiddle: proto.InputMouseButtonMiddle,
}

const scrollStepCSSPixels = 100

// BrowserConfig configures the CDP backend. An empty ControlURL launches a
// local Chrome.
type BrowserConfig struct {
	ControlURL string
	Headless   bool
	StartURL   string
}

// BrowserBackend drives one Chrome page through CDP input events, which
// take CSS pixels.
type BrowserBackend struct {
	browser *rod.Browser
	page    *rod.Page
}

// NewBrowserBackend connects to (or launches) Chrome and opens the start
// page.
func NewBrowserBackend(ctx context.Context, config BrowserConfig) (*BrowserBackend, error) {
	controlURL := config.ControlURL
	if controlURL == "" {
		u, err := launcher.New().Headless(config.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	startURL := config.StartURL
	if startURL == "" {
		startURL = "about:blank"
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: startURL})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to load %s: %w", startURL, err)
	}
	return NewBrowserBackendFromPage(browser, page), nil
}

// NewBrowserBackendFromPage wraps an already open page.
func NewBrowserBackendFromPage(browser *rod.Browser, page *rod.Page) *BrowserBackend {
	return &BrowserBackend{browser: browser, page: page}
}

func (b *BrowserBackend) Kind() Kind     { return KindBrowser }
func (b *BrowserBackend) Physical() bool { return false }

// Close closes the browser connection.
func (b *BrowserBackend) Close() error {
	if b.browser == nil {
		return nil
	}
	return b.browser.Close()
}

func (b *BrowserBackend) Screenshot(ctx context.Context) (ScreenshotOutput, error) {
	page := b.page.Context(ctx)
	data, err := page.Screenshot(false, nil)
	if err != nil {
		return ScreenshotOutput{}, err
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ScreenshotOutput{}, fmt.Errorf("failed to decode screenshot: %w", err)
	}

	scale := 1.0
	if res, err := page.Eval(`() => window.devicePixelRatio`); err == nil {
		if v := res.Value.Num(); v > 0 {
			scale = v
		}
	}
	return ScreenshotOutput{
		Base64:      base64.StdEncoding.EncodeToString(data),
		Width:       cfg.Width,
		Height:      cfg.Height,
		ScaleFactor: scale,
	}, nil
}

func (b *BrowserBackend) MoveTo(ctx context.Context, p Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.page.Mouse.MoveTo(proto.NewPoint(p.X, p.Y))
}

func (b *BrowserBackend) Click(ctx context.Context, p Point, button MouseButton, count int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mouse := b.page.Mouse
	if err := mouse.MoveTo(proto.NewPoint(p.X, p.Y)); err != nil {
		return err
	}
	if count < 1 {
		count = 1
	}
	return mouse.Click(rodButtons[button], count)
}

func (b *BrowserBackend) Drag(ctx context.Context, from, to Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mouse := b.page.Mouse
	if err := mouse.MoveTo(proto.NewPoint(from.X, from.Y)); err != nil {
		return err
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	if err := mouse.MoveLinear(proto.NewPoint(to.X, to.Y), 10); err != nil {
		return err
	}
	return mouse.Up(proto.InputMouseButtonLeft, 1)
}

func (b *BrowserBackend) Type(ctx context.Context, text string) error {
	return b.page.Context(ctx).InsertText(text)
}

// Hotkey presses the keys in order and releases them in reverse.
func (b *BrowserBackend) Hotkey(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kb := b.page.Keyboard
	pressed := make([]input.Key, 0, len(keys))
	defer func() {
		for i := len(pressed) - 1; i >= 0; i-- {
			_ = kb.Release(pressed[i])
		}
	}()

	for _, k := range keys {
		key, ok := rodKeys[k]
		if !ok {
			r := []rune(k)
			if len(r) != 1 {
				return fmt.Errorf("unsupported key %q", k)
			}
			key = input.Key(r[0])
		}
		if err := kb.Press(key); err != nil {
			return err
		}
		pressed = append(pressed, key)
	}
	return nil
}

func (b *BrowserBackend) Scroll(ctx context.Context, p Point, direction string, amount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mouse := b.page.Mouse
	if err := mouse.MoveTo(proto.NewPoint(p.X, p.Y)); err != nil {
		return err
	}
	dist := float64(amount * scrollStepCSSPixels)
	var dx, dy float64
	switch direction {
	case "down":
		dy = dist
	case "up":
		dy = -dist
	case "right":
		dx = dist
	case "left":
		dx = -dist
	default:
		return fmt.Errorf("unknown scroll direction %q", direction)
	}
	return mouse.Scroll(dx, dy, amount)
}
