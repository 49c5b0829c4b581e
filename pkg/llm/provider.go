package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/autopilot/pkg/toolcall"
)

// Provider sends one completion to a model API.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*toolcall.Response, error)
	Name() string
}

// CompletionRequest is an engine-prepared request plus sampling settings.
type CompletionRequest struct {
	toolcall.Request
	Model       string
	Temperature float64
	MaxTokens   int
}

// ProviderConfig selects and authenticates a provider.
type ProviderConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
}

// NewProvider creates the provider named in cfg.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL), nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// IsRetryableError reports whether a provider error is worth another try.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"ECONNRESET", "ETIMEDOUT", "connection reset", "timeout",
		"429", "rate limit", "overloaded",
		"500", "502", "503", "504", "529",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
