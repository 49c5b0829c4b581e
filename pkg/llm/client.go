package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/autopilot/internal/observability"
	"github.com/harun/autopilot/internal/tracing"
	"github.com/harun/autopilot/pkg/toolcall"
)

// TextRequest asks for a plain text reply.
type TextRequest struct {
	System    string
	Messages  []toolcall.Message
	RequestID string
}

// ToolsRequest asks for a reply that calls tools.
type ToolsRequest struct {
	System    string
	Messages  []toolcall.Message
	Tools     []toolcall.ToolSpec
	RequestID string
}

// ToolsResponse is the parsed reply to a ToolsRequest. Assistant is the
// message to append to history before the tool results.
type ToolsResponse struct {
	Content   string
	ToolCalls []toolcall.ToolCall
	Assistant toolcall.Message
}

// Config configures a Client.
type Config struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	MaxRetries     int
	InitialBackoff time.Duration
}

// Client is the model collaborator used by agent sessions. It owns the
// tool-call engine, so callers never see provider tool formats.
type Client struct {
	provider Provider
	engine   toolcall.Engine
	cfg      Config
	logger   zerolog.Logger
}

// NewClient creates a model client.
func NewClient(provider Provider, engine toolcall.Engine, cfg Config, logger zerolog.Logger) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	return &Client{
		provider: provider,
		engine:   engine,
		cfg:      cfg,
		logger:   logger.With().Str("component", "llm").Str("provider", provider.Name()).Logger(),
	}, nil
}

// Engine returns the active tool-call engine.
func (c *Client) Engine() toolcall.Engine { return c.engine }

// AskText returns the model's text reply.
func (c *Client) AskText(ctx context.Context, req TextRequest) (string, error) {
	resp, err := c.complete(ctx, "text", req.RequestID, CompletionRequest{
		Request: toolcall.Request{System: req.System, Messages: req.Messages},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// AskWithTools offers the tool catalog and returns the calls the model made.
func (c *Client) AskWithTools(ctx context.Context, req ToolsRequest) (*ToolsResponse, error) {
	prepared := c.engine.PrepareRequest(toolcall.Context{
		Instructions: req.System,
		Messages:     req.Messages,
		Tools:        req.Tools,
	})

	resp, err := c.complete(ctx, "tools", req.RequestID, CompletionRequest{Request: prepared})
	if err != nil {
		return nil, err
	}

	parsed := c.engine.ParseResponse(*resp)
	return &ToolsResponse{
		Content:   parsed.Content,
		ToolCalls: parsed.ToolCalls,
		Assistant: c.engine.BuildHistoricalAssistantMessage(parsed),
	}, nil
}

// ToolResultMessages renders tool results as history for the next turn.
func (c *Client) ToolResultMessages(results []toolcall.ToolResult) []toolcall.Message {
	return c.engine.BuildHistoricalToolCallResultMessages(results)
}

func (c *Client) complete(ctx context.Context, kind, requestID string, req CompletionRequest) (*toolcall.Response, error) {
	ctx, span := tracing.StartSpan(ctx, "autopilot.llm", "llm."+kind,
		attribute.String("provider", c.provider.Name()),
		attribute.String("model", c.cfg.Model),
		attribute.String("engine", c.engine.Name()),
	)

	req.Model = c.cfg.Model
	req.Temperature = c.cfg.Temperature
	req.MaxTokens = c.cfg.MaxTokens

	logger := tracing.LoggerFromContext(ctx, c.logger)
	if requestID != "" {
		logger = logger.With().Str("request_id", requestID).Logger()
	}

	start := time.Now()
	resp, err := c.withRetry(ctx, logger, req)
	observability.RecordModelCall(c.provider.Name(), kind, time.Since(start), err == nil)
	tracing.EndSpan(span, err)

	if err != nil {
		return nil, err
	}
	logger.Debug().
		Str("kind", kind).
		Int("tool_calls", len(resp.ToolCalls)).
		Dur("duration", time.Since(start)).
		Msg("Model call completed")
	return resp, nil
}

func (c *Client) withRetry(ctx context.Context, logger zerolog.Logger, req CompletionRequest) (*toolcall.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.InitialBackoff * time.Duration(1<<uint(attempt-1))
			logger.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying model call")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
		if !IsRetryableError(err) {
			break
		}
	}
	return nil, fmt.Errorf("model call failed: %w", lastErr)
}
