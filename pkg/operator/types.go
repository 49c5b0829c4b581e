package operator

import (
	"context"
	"time"
)

// Kind names a backend variant.
type Kind string

const (
	KindDesktop Kind = "desktop"
	KindRemote  Kind = "remote"
	KindMobile  Kind = "mobile"
	KindBrowser Kind = "browser"
)

// Status is what an executed action asks of the orchestration loop.
type Status string

const (
	StatusNone     Status = ""
	StatusFinished Status = "finished"
	StatusCallUser Status = "call_user"
	StatusErrorEnv Status = "error_env"
)

// Terminal reports whether the loop must stop after this status.
func (s Status) Terminal() bool {
	return s != StatusNone
}

// Action is one parsed GUI action. Boxes are bounding-box strings in the
// model's virtual coordinate space.
type Action struct {
	Type   string       `json:"type"`
	Inputs ActionInputs `json:"inputs"`
}

type ActionInputs struct {
	StartBox  string `json:"start_box,omitempty"`
	EndBox    string `json:"end_box,omitempty"`
	Content   string `json:"content,omitempty"`
	Key       string `json:"key,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// ScreenshotOutput is a captured frame. Width and Height are physical
// pixels.
type ScreenshotOutput struct {
	Base64      string  `json:"base64"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	ScaleFactor float64 `json:"scale_factor"`
}

// ExecuteParams carries one action plus the screen it was decided on. A
// zero ScreenWidth makes the device capture a fresh screenshot to learn
// the resolution.
type ExecuteParams struct {
	Action       Action
	ScreenWidth  int
	ScreenHeight int
	ScaleFactor  float64
}

// ExecuteOutput reports a terminal status. Skipped is set when the action
// was logged and ignored, such as an unparsable box.
type ExecuteOutput struct {
	Status  Status `json:"status"`
	Skipped bool   `json:"skipped,omitempty"`
	Message string `json:"message,omitempty"`
}

// Operator is the capability every GUI backend offers.
type Operator interface {
	Screenshot(ctx context.Context) (ScreenshotOutput, error)
	Execute(ctx context.Context, params ExecuteParams) (ExecuteOutput, error)
}

// Point is a backend coordinate.
type Point struct {
	X float64
	Y float64
}

type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// Backend is the primitive input surface of one target. Device turns
// parsed actions into these calls.
type Backend interface {
	Kind() Kind
	// Physical reports whether the backend addresses physical pixels
	// rather than logical points.
	Physical() bool
	Screenshot(ctx context.Context) (ScreenshotOutput, error)
	MoveTo(ctx context.Context, p Point) error
	Click(ctx context.Context, p Point, button MouseButton, count int) error
	Drag(ctx context.Context, from, to Point) error
	Type(ctx context.Context, text string) error
	Hotkey(ctx context.Context, keys []string) error
	Scroll(ctx context.Context, p Point, direction string, amount int) error
}

// Options tune a Device.
type Options struct {
	FactorX   int
	FactorY   int
	ScrollMax int
	Wait      time.Duration
	// Platform drives hotkey remapping: darwin maps ctrl to cmd, other
	// platforms map cmd to ctrl.
	Platform string
}

// DefaultOptions uses the 1000x1000 virtual space.
func DefaultOptions() Options {
	return Options{
		FactorX:   1000,
		FactorY:   1000,
		ScrollMax: 10,
		Wait:      5 * time.Second,
		Platform:  "linux",
	}
}
