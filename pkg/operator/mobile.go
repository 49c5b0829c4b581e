package operator

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"strconv"
	"strings"
	"unicode"

	"github.com/harun/autopilot/pkg/sandbox"
)

const (
	adbKeyboardIME   = "com.android.adbkeyboard/.AdbIME"
	scrollStepPixels = 100
	longPressMillis  = 800
	dragMillis       = 300
)

// Android key event codes
var adbKeyCodes = map[string]int{
	"home":      3,
	"back":      4,
	"up":        19,
	"down":      20,
	"left":      21,
	"right":     22,
	"power":     26,
	"alt":       57,
	"shift":     59,
	"tab":       61,
	"space":     62,
	"enter":     66,
	"backspace": 67,
	"menu":      82,
	"pageup":    92,
	"pagedown":  93,
	"escape":    111,
	"delete":    112,
	"ctrl":      113,
	"cmd":       117,
	"end":       123,
}

// MobileConfig configures the adb backend.
type MobileConfig struct {
	ADBPath  string
	DeviceID string
}

// MobileBackend drives an Android device through adb shell. adb input
// coordinates are physical pixels.
type MobileBackend struct {
	runner sandbox.Runner
	config MobileConfig
}

func NewMobileBackend(runner sandbox.Runner, config MobileConfig) (*MobileBackend, error) {
	if runner == nil {
		return nil, fmt.Errorf("command runner is required")
	}
	if config.ADBPath == "" {
		config.ADBPath = "adb"
	}
	return &MobileBackend{runner: runner, config: config}, nil
}

func (b *MobileBackend) Kind() Kind     { return KindMobile }
func (b *MobileBackend) Physical() bool { return true }

func (b *MobileBackend) adb(ctx context.Context, args ...string) (sandbox.Result, error) {
	full := make([]string, 0, len(args)+2)
	if b.config.DeviceID != "" {
		full = append(full, "-s", b.config.DeviceID)
	}
	full = append(full, args...)
	return b.runner.Run(ctx, sandbox.Command{Name: b.config.ADBPath, Args: full})
}

func (b *MobileBackend) shell(ctx context.Context, args ...string) (sandbox.Result, error) {
	return b.adb(ctx, append([]string{"shell"}, args...)...)
}

func (b *MobileBackend) Screenshot(ctx context.Context) (ScreenshotOutput, error) {
	res, err := b.adb(ctx, "exec-out", "screencap", "-p")
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
		ScaleFactor: 1,
	}, nil
}

// MoveTo is a no-op: touch screens have no hover.
func (b *MobileBackend) MoveTo(ctx context.Context, p Point) error {
	return nil
}

func (b *MobileBackend) Click(ctx context.Context, p Point, button MouseButton, count int) error {
	x, y := coord(p.X), coord(p.Y)
	if button == ButtonRight {
		_, err := b.shell(ctx, "input", "swipe", x, y, x, y, strconv.Itoa(longPressMillis))
		return err
	}
	if count < 1 {
		count = 1
	}
	for i := 0; i < count; i++ {
		if _, err := b.shell(ctx, "input", "tap", x, y); err != nil {
			return err
		}
	}
	return nil
}

func (b *MobileBackend) Drag(ctx context.Context, from, to Point) error {
	_, err := b.shell(ctx, "input", "swipe",
		coord(from.X), coord(from.Y), coord(to.X), coord(to.Y), strconv.Itoa(dragMillis))
	return err
}

// Type sends ASCII text with input text. Anything else goes through the
// ADB keyboard IME, which is enabled for the duration of the call and the
// previous input method restored afterwards.
func (b *MobileBackend) Type(ctx context.Context, text string) error {
	if isASCII(text) {
		_, err := b.shell(ctx, "input", "text", escapeInputText(text))
		return err
	}

	res, err := b.shell(ctx, "settings", "get", "secure", "default_input_method")
	if err != nil {
		return fmt.Errorf("failed to read input method: %w", err)
	}
	previous := strings.TrimSpace(string(res.Stdout))

	if _, err := b.shell(ctx, "ime", "enable", adbKeyboardIME); err != nil {
		return fmt.Errorf("failed to enable adb keyboard: %w", err)
	}
	if _, err := b.shell(ctx, "ime", "set", adbKeyboardIME); err != nil {
		return fmt.Errorf("failed to switch to adb keyboard: %w", err)
	}
	defer func() {
		if previous != "" && previous != "null" && previous != adbKeyboardIME {
			_, _ = b.shell(context.WithoutCancel(ctx), "ime", "set", previous)
		}
	}()

	msg := base64.StdEncoding.EncodeToString([]byte(text))
	_, err = b.shell(ctx, "am", "broadcast", "-a", "ADB_INPUT_B64", "--es", "msg", msg)
	return err
}

func (b *MobileBackend) Hotkey(ctx context.Context, keys []string) error {
	codes := make([]string, 0, len(keys))
	for _, k := range keys {
		code, ok := adbKeyCodes[k]
		if !ok {
			if len(k) == 1 && unicode.IsLetter(rune(k[0])) {
				// KEYCODE_A is 29
				code = 29 + int(unicode.ToLower(rune(k[0]))-'a')
			} else {
				return fmt.Errorf("unsupported key %q", k)
			}
		}
		codes = append(codes, strconv.Itoa(code))
	}
	if len(codes) == 1 {
		_, err := b.shell(ctx, "input", "keyevent", codes[0])
		return err
	}
	_, err := b.shell(ctx, append([]string{"input", "keycombination"}, codes...)...)
	return err
}

// Scroll swipes against the scroll direction, amount steps long.
func (b *MobileBackend) Scroll(ctx context.Context, p Point, direction string, amount int) error {
	dist := float64(amount * scrollStepPixels)
	to := p
	switch direction {
	case "down":
		to.Y -= dist
	case "up":
		to.Y += dist
	case "right":
		to.X -= dist
	case "left":
		to.X += dist
	default:
		return fmt.Errorf("unknown scroll direction %q", direction)
	}
	if to.X < 0 {
		to.X = 0
	}
	if to.Y < 0 {
		to.Y = 0
	}
	return b.Drag(ctx, p, to)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// escapeInputText prepares text for `input text`, which treats %s as a
// space and is parsed by the device shell.
func escapeInputText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == ' ':
			b.WriteString("%s")
		case strings.ContainsRune(`\'"&|;<>()$`+"`"+`*?~#!%`, r):
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
