package operator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RetryPolicy bounds attempts against the remote sandbox. Every attempt
// authenticates again.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy is one retry without backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2}
}

// RemoteConfig configures the cloud sandbox backend.
type RemoteConfig struct {
	BaseURL        string
	AccessKey      string
	SecretKey      string
	SandboxID      string
	Retry          RetryPolicy
	RequestsPerSec float64
	Timeout        time.Duration
}

type remoteAction struct {
	Type      string   `json:"type"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	ToX       float64  `json:"to_x,omitempty"`
	ToY       float64  `json:"to_y,omitempty"`
	Button    string   `json:"button,omitempty"`
	Count     int      `json:"count,omitempty"`
	Text      string   `json:"text,omitempty"`
	Keys      []string `json:"keys,omitempty"`
	Direction string   `json:"direction,omitempty"`
	Amount    int      `json:"amount,omitempty"`
}

type remoteScreenshot struct {
	Base64      string  `json:"base64"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	ScaleFactor float64 `json:"scale_factor"`
}

// RemoteBackend proxies actions to a cloud desktop over HTTP. The sandbox
// API takes logical coordinates.
type RemoteBackend struct {
	config  RemoteConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewRemoteBackend(config RemoteConfig, logger zerolog.Logger) (*RemoteBackend, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}
	if config.SandboxID == "" {
		return nil, fmt.Errorf("sandbox id is required")
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultRetryPolicy()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if config.RequestsPerSec > 0 {
		limit = rate.Limit(config.RequestsPerSec)
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &RemoteBackend{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Str("component", "operator.remote").Logger(),
		sleep:   sleepContext,
	}, nil
}

func (b *RemoteBackend) Kind() Kind     { return KindRemote }
func (b *RemoteBackend) Physical() bool { return false }

// withRetry runs fn under the retry policy. Exhaustion returns
// ErrRemoteUnavailable wrapping the last failure.
func (b *RemoteBackend) withRetry(ctx context.Context, op string, fn func(token string) error) error {
	var lastErr error
	for attempt := 1; attempt <= b.config.Retry.MaxAttempts; attempt++ {
		if attempt > 1 && b.config.Retry.Backoff > 0 {
			if err := b.sleep(ctx, b.config.Retry.Backoff); err != nil {
				return err
			}
		}
		if err := b.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		token, err := b.authenticate(ctx)
		if err == nil {
			err = fn(token)
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		b.logger.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", b.config.Retry.MaxAttempts).
			Msg("Remote sandbox call failed")
	}
	return fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, op, lastErr)
}

func (b *RemoteBackend) authenticate(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"access_key": b.config.AccessKey,
		"secret_key": b.config.SecretKey,
	})
	var out struct {
		Token string `json:"token"`
	}
	if err := b.do(ctx, http.MethodPost, "/auth", "", body, &out); err != nil {
		return "", fmt.Errorf("authentication failed: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("authentication returned no token")
	}
	return out.Token, nil
}

func (b *RemoteBackend) do(ctx context.Context, method, path, token string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.config.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return nil
}

func (b *RemoteBackend) sandboxPath(suffix string) string {
	return "/sandboxes/" + url.PathEscape(b.config.SandboxID) + suffix
}

func (b *RemoteBackend) Screenshot(ctx context.Context) (ScreenshotOutput, error) {
	var shot remoteScreenshot
	err := b.withRetry(ctx, "screenshot", func(token string) error {
		return b.do(ctx, http.MethodGet, b.sandboxPath("/screenshot"), token, nil, &shot)
	})
	if err != nil {
		return ScreenshotOutput{}, err
	}
	if shot.ScaleFactor <= 0 {
		shot.ScaleFactor = 1
	}
	return ScreenshotOutput(shot), nil
}

func (b *RemoteBackend) send(ctx context.Context, action remoteAction) error {
	body, err := json.Marshal(action)
	if err != nil {
		return err
	}
	return b.withRetry(ctx, action.Type, func(token string) error {
		return b.do(ctx, http.MethodPost, b.sandboxPath("/actions"), token, body, nil)
	})
}

func (b *RemoteBackend) MoveTo(ctx context.Context, p Point) error {
	return b.send(ctx, remoteAction{Type: "move", X: p.X, Y: p.Y})
}

func (b *RemoteBackend) Click(ctx context.Context, p Point, button MouseButton, count int) error {
	return b.send(ctx, remoteAction{Type: "click", X: p.X, Y: p.Y, Button: string(button), Count: count})
}

func (b *RemoteBackend) Drag(ctx context.Context, from, to Point) error {
	return b.send(ctx, remoteAction{Type: "drag", X: from.X, Y: from.Y, ToX: to.X, ToY: to.Y})
}

func (b *RemoteBackend) Type(ctx context.Context, text string) error {
	return b.send(ctx, remoteAction{Type: "type", Text: text})
}

func (b *RemoteBackend) Hotkey(ctx context.Context, keys []string) error {
	return b.send(ctx, remoteAction{Type: "hotkey", Keys: keys})
}

func (b *RemoteBackend) Scroll(ctx context.Context, p Point, direction string, amount int) error {
	return b.send(ctx, remoteAction{Type: "scroll", X: p.X, Y: p.Y, Direction: direction, Amount: amount})
}
