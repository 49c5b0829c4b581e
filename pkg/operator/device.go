package operator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/autopilot/internal/observability"
	"github.com/harun/autopilot/internal/tracing"
)

const defaultScrollAmount = 5

// action names the model may use, folded onto the ones Device executes
var actionAliases = map[string]string{
	"click":        "click",
	"left_single":  "click",
	"left_click":   "click",
	"tap":          "click",
	"left_double":  "double_click",
	"double_click": "double_click",
	"right_single": "right_click",
	"right_click":  "right_click",
	"middle":       "middle_click",
	"middle_click": "middle_click",
	"hover":        "move",
	"mouse_move":   "move",
	"move":         "move",
	"drag":         "drag",
	"select":       "drag",
	"left_drag":    "drag",
	"swipe":        "drag",
	"type":         "type",
	"hotkey":       "hotkey",
	"press":        "hotkey",
	"key":          "hotkey",
	"press_home":   "press_home",
	"press_back":   "press_back",
	"scroll":       "scroll",
	"wait":         "wait",
	"finished":     "finished",
	"call_user":    "call_user",
	"error_env":    "error_env",
}

// Device executes parsed actions on a Backend. It owns coordinate
// resolution, clamping and terminal statuses so backends only implement
// primitive input.
type Device struct {
	backend Backend
	opts    Options
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewDevice wraps a backend.
func NewDevice(backend Backend, opts Options, logger zerolog.Logger) (*Device, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	def := DefaultOptions()
	if opts.FactorX <= 0 {
		opts.FactorX = def.FactorX
	}
	if opts.FactorY <= 0 {
		opts.FactorY = def.FactorY
	}
	if opts.ScrollMax <= 0 {
		opts.ScrollMax = def.ScrollMax
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}
	if opts.Platform == "" {
		opts.Platform = def.Platform
	}
	return &Device{
		backend: backend,
		opts:    opts,
		logger:  logger.With().Str("component", "operator").Str("backend", string(backend.Kind())).Logger(),
		sleep:   sleepContext,
	}, nil
}

// Kind reports the backend variant.
func (d *Device) Kind() Kind { return d.backend.Kind() }

// Close releases the backend when it holds a connection.
func (d *Device) Close() error {
	if c, ok := d.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (d *Device) Screenshot(ctx context.Context) (ScreenshotOutput, error) {
	out, err := d.backend.Screenshot(ctx)
	observability.RecordOperatorAction(string(d.backend.Kind()), "screenshot", err == nil)
	if err != nil {
		return ScreenshotOutput{}, d.wrap("screenshot", err)
	}
	if out.ScaleFactor <= 0 {
		out.ScaleFactor = 1
	}
	return out, nil
}

func (d *Device) Execute(ctx context.Context, params ExecuteParams) (ExecuteOutput, error) {
	raw := strings.ToLower(strings.TrimSpace(params.Action.Type))
	name, known := actionAliases[raw]
	logger := tracing.LoggerFromContext(ctx, d.logger).With().Str("action", raw).Logger()

	if !known {
		logger.Warn().Msg("Unsupported action ignored")
		return ExecuteOutput{Skipped: true, Message: fmt.Sprintf("unsupported action %q", raw)}, nil
	}

	switch name {
	case "finished":
		return d.finish(ctx, name, ExecuteOutput{Status: StatusFinished, Message: params.Action.Inputs.Content}), nil
	case "call_user":
		return d.finish(ctx, name, ExecuteOutput{Status: StatusCallUser}), nil
	case "error_env":
		return d.finish(ctx, name, ExecuteOutput{Status: StatusErrorEnv}), nil
	case "wait":
		if err := d.sleep(ctx, d.opts.Wait); err != nil {
			return ExecuteOutput{}, err
		}
		return d.finish(ctx, name, ExecuteOutput{}), nil
	}

	screen := Screen{Width: params.ScreenWidth, Height: params.ScreenHeight, ScaleFactor: params.ScaleFactor}
	if !screenless[name] && (screen.Width <= 0 || screen.Height <= 0) {
		shot, err := d.Screenshot(ctx)
		if err != nil {
			return ExecuteOutput{}, err
		}
		screen = Screen{Width: shot.Width, Height: shot.Height, ScaleFactor: shot.ScaleFactor}
	}

	out, err := d.perform(ctx, logger, name, params.Action.Inputs, screen)
	if err != nil {
		observability.RecordOperatorAction(string(d.backend.Kind()), name, false)
		d.audit(ctx, name, "error", map[string]interface{}{"error": err.Error()})
		return ExecuteOutput{}, d.wrap(name, err)
	}
	return d.finish(ctx, name, out), nil
}

func (d *Device) perform(ctx context.Context, logger zerolog.Logger, name string, in ActionInputs, screen Screen) (ExecuteOutput, error) {
	resolve := func(box string) (Point, bool) {
		if strings.TrimSpace(box) == "" {
			logger.Warn().Msg("Action has no box, skipping")
			return Point{}, false
		}
		p, err := ResolveBox(box, screen, d.opts.FactorX, d.opts.FactorY, d.backend.Physical())
		if err != nil {
			logger.Warn().Err(err).Str("box", box).Msg("Unparsable box, skipping")
			return Point{}, false
		}
		return p, true
	}
	skipped := ExecuteOutput{Skipped: true, Message: "missing or invalid box"}

	switch name {
	case "click", "double_click", "right_click", "middle_click":
		p, ok := resolve(in.StartBox)
		if !ok {
			return skipped, nil
		}
		button, count := ButtonLeft, 1
		switch name {
		case "double_click":
			count = 2
		case "right_click":
			button = ButtonRight
		case "middle_click":
			button = ButtonMiddle
		}
		return ExecuteOutput{}, d.backend.Click(ctx, p, button, count)

	case "move":
		p, ok := resolve(in.StartBox)
		if !ok {
			return skipped, nil
		}
		return ExecuteOutput{}, d.backend.MoveTo(ctx, p)

	case "drag":
		from, ok := resolve(in.StartBox)
		if !ok {
			return skipped, nil
		}
		to, ok := resolve(in.EndBox)
		if !ok {
			return skipped, nil
		}
		return ExecuteOutput{}, d.backend.Drag(ctx, from, to)

	case "type":
		text := in.Content
		submit := strings.HasSuffix(text, "\n")
		text = strings.TrimRight(text, "\n")
		if text != "" {
			if err := d.backend.Type(ctx, text); err != nil {
				return ExecuteOutput{}, err
			}
		}
		if submit {
			return ExecuteOutput{}, d.backend.Hotkey(ctx, []string{"enter"})
		}
		return ExecuteOutput{}, nil

	case "hotkey":
		key := in.Key
		if key == "" {
			key = in.Content
		}
		keys := NormalizeKeys(key, d.opts.Platform)
		if len(keys) == 0 {
			logger.Warn().Msg("Hotkey has no keys, skipping")
			return ExecuteOutput{Skipped: true, Message: "no keys"}, nil
		}
		return ExecuteOutput{}, d.backend.Hotkey(ctx, keys)

	case "press_home":
		return ExecuteOutput{}, d.backend.Hotkey(ctx, []string{"home"})

	case "press_back":
		return ExecuteOutput{}, d.backend.Hotkey(ctx, []string{"back"})

	case "scroll":
		var p Point
		if strings.TrimSpace(in.StartBox) == "" {
			p = ToScreen(Point{X: float64(d.opts.FactorX) / 2, Y: float64(d.opts.FactorY) / 2},
				screen, d.opts.FactorX, d.opts.FactorY, d.backend.Physical())
		} else {
			var ok bool
			if p, ok = resolve(in.StartBox); !ok {
				return skipped, nil
			}
		}
		direction := strings.ToLower(strings.TrimSpace(in.Direction))
		switch direction {
		case "up", "down", "left", "right":
		case "":
			direction = "down"
		default:
			logger.Warn().Str("direction", direction).Msg("Unknown scroll direction, skipping")
			return ExecuteOutput{Skipped: true, Message: "unknown direction"}, nil
		}
		return ExecuteOutput{}, d.backend.Scroll(ctx, p, direction, d.scrollAmount(in.Content))
	}

	return ExecuteOutput{Skipped: true}, nil
}

// scrollAmount reads an optional magnitude and clamps it to the backend
// maximum.
func (d *Device) scrollAmount(s string) int {
	amount := defaultScrollAmount
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n > 0 {
		amount = n
	}
	if amount > d.opts.ScrollMax {
		amount = d.opts.ScrollMax
	}
	return amount
}

func (d *Device) finish(ctx context.Context, name string, out ExecuteOutput) ExecuteOutput {
	status := "success"
	if out.Skipped {
		status = "skipped"
	}
	observability.RecordOperatorAction(string(d.backend.Kind()), name, true)
	d.audit(ctx, name, status, nil)
	return out
}

func (d *Device) audit(ctx context.Context, action, status string, fields map[string]interface{}) {
	observability.Audit(ctx, observability.AuditEvent{
		Kind:    observability.AuditOperator,
		Action:  action,
		Status:  status,
		Backend: string(d.backend.Kind()),
		Fields:  fields,
	})
}

// wrap classifies a backend error. Cancellation and remote exhaustion pass
// through untouched.
func (d *Device) wrap(action string, err error) error {
	if errors.Is(err, ErrRemoteUnavailable) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrActionFailed, action, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
