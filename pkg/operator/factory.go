package operator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/autopilot/internal/config"
	"github.com/harun/autopilot/pkg/sandbox"
)

// New builds the configured backend and wraps it in a Device. It returns
// nil without error when the operator kind is "none" or empty. runner is
// used by the desktop and mobile backends.
func New(ctx context.Context, cfg config.OperatorConfig, runner sandbox.Runner, logger zerolog.Logger) (*Device, error) {
	opts := Options{
		FactorX:   cfg.FactorX,
		FactorY:   cfg.FactorY,
		ScrollMax: cfg.ScrollMax,
		Wait:      time.Duration(cfg.WaitMillis) * time.Millisecond,
		Platform:  cfg.Desktop.Platform,
	}

	var backend Backend
	var err error
	switch Kind(cfg.Kind) {
	case "", "none":
		return nil, nil
	case KindDesktop:
		backend, err = NewDesktopBackend(runner, DesktopConfig{
			Display:     cfg.Desktop.Display,
			ScaleFactor: cfg.Desktop.ScaleFactor,
		})
	case KindMobile:
		// touch input has no platform modifiers
		opts.Platform = "android"
		backend, err = NewMobileBackend(runner, MobileConfig{
			ADBPath:  cfg.Mobile.ADBPath,
			DeviceID: cfg.Mobile.DeviceID,
		})
	case KindRemote:
		backend, err = NewRemoteBackend(RemoteConfig{
			BaseURL:   cfg.Remote.BaseURL,
			AccessKey: cfg.Remote.AccessKey,
			SecretKey: cfg.Remote.SecretKey,
			SandboxID: cfg.Remote.SandboxID,
			Retry: RetryPolicy{
				MaxAttempts: cfg.Remote.MaxAttempts,
				Backoff:     time.Duration(cfg.Remote.BackoffMillis) * time.Millisecond,
			},
			RequestsPerSec: cfg.Remote.RequestsPerSec,
			Timeout:        time.Duration(cfg.Remote.TimeoutSeconds) * time.Second,
		}, logger)
	case KindBrowser:
		backend, err = NewBrowserBackend(ctx, BrowserConfig{
			ControlURL: cfg.Browser.ControlURL,
			Headless:   cfg.Browser.Headless,
			StartURL:   cfg.Browser.StartURL,
		})
	default:
		return nil, fmt.Errorf("unknown operator kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s operator: %w", cfg.Kind, err)
	}
	return NewDevice(backend, opts, logger)
}
