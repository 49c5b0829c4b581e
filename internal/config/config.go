package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/autopilot/internal/logger"
)

// Config is the autopilot configuration file.
type Config struct {
	Model    ModelConfig    `json:"model" mapstructure:"model"`
	Agent    AgentConfig    `json:"agent" mapstructure:"agent"`
	Operator OperatorConfig `json:"operator" mapstructure:"operator"`
	MCP      MCPConfig      `json:"mcp" mapstructure:"mcp"`
	Logging  logger.Config  `json:"logging" mapstructure:"logging"`
	Gateway  GatewayConfig  `json:"gateway" mapstructure:"gateway"`
	Store    StoreConfig    `json:"store" mapstructure:"store"`
	DataDir  string         `json:"data_dir" mapstructure:"data_dir"`
}

// ModelConfig selects the model provider and tool-calling engine.
type ModelConfig struct {
	Provider       string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model          string  `json:"model" mapstructure:"model"`
	APIKey         string  `json:"api_key" mapstructure:"api_key"`
	BaseURL        string  `json:"base_url" mapstructure:"base_url"`
	Engine         string  `json:"engine" mapstructure:"engine"` // native, prompt
	Temperature    float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens      int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries     int     `json:"max_retries" mapstructure:"max_retries"`
	InitialBackoff int     `json:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
}

// AgentConfig bounds the orchestration loop.
type AgentConfig struct {
	MaxIterations   int    `json:"max_iterations" mapstructure:"max_iterations"`
	GreetingTimeout int    `json:"greeting_timeout_ms" mapstructure:"greeting_timeout_ms"`
	PromptCharLimit int    `json:"prompt_char_limit" mapstructure:"prompt_char_limit"`
	ToolTimeout     int    `json:"tool_timeout_seconds" mapstructure:"tool_timeout_seconds"`
	SystemPrompt    string `json:"system_prompt" mapstructure:"system_prompt"`
	Language        string `json:"language" mapstructure:"language"`
}

// OperatorConfig selects and tunes the GUI backend.
type OperatorConfig struct {
	Kind       string        `json:"kind" mapstructure:"kind"` // desktop, remote, mobile, browser, none
	FactorX    int           `json:"factor_x" mapstructure:"factor_x"`
	FactorY    int           `json:"factor_y" mapstructure:"factor_y"`
	ScrollMax  int           `json:"scroll_max" mapstructure:"scroll_max"`
	WaitMillis int           `json:"wait_ms" mapstructure:"wait_ms"`
	Desktop    DesktopConfig `json:"desktop" mapstructure:"desktop"`
	Remote     RemoteConfig  `json:"remote" mapstructure:"remote"`
	Mobile     MobileConfig  `json:"mobile" mapstructure:"mobile"`
	Browser    BrowserConfig `json:"browser" mapstructure:"browser"`
}

type DesktopConfig struct {
	Display     string  `json:"display" mapstructure:"display"`
	ScaleFactor float64 `json:"scale_factor" mapstructure:"scale_factor"`
	Platform    string  `json:"platform" mapstructure:"platform"` // linux, darwin, windows
}

type RemoteConfig struct {
	BaseURL        string  `json:"base_url" mapstructure:"base_url"`
	AccessKey      string  `json:"access_key" mapstructure:"access_key"`
	SecretKey      string  `json:"secret_key" mapstructure:"secret_key"`
	SandboxID      string  `json:"sandbox_id" mapstructure:"sandbox_id"`
	MaxAttempts    int     `json:"max_attempts" mapstructure:"max_attempts"`
	BackoffMillis  int     `json:"backoff_ms" mapstructure:"backoff_ms"`
	RequestsPerSec float64 `json:"requests_per_second" mapstructure:"requests_per_second"`
	TimeoutSeconds int     `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

type MobileConfig struct {
	ADBPath  string `json:"adb_path" mapstructure:"adb_path"`
	DeviceID string `json:"device_id" mapstructure:"device_id"`
}

type BrowserConfig struct {
	ControlURL string `json:"control_url" mapstructure:"control_url"`
	Headless   bool   `json:"headless" mapstructure:"headless"`
	StartURL   string `json:"start_url" mapstructure:"start_url"`
}

// MCPConfig lists the MCP servers whose tools join the catalog.
type MCPConfig struct {
	Servers []MCPServerConfig `json:"servers" mapstructure:"servers"`
}

type MCPServerConfig struct {
	Name    string            `json:"name" mapstructure:"name"`
	Command string            `json:"command" mapstructure:"command"`
	Args    []string          `json:"args" mapstructure:"args"`
	Env     map[string]string `json:"env" mapstructure:"env"`
}

type GatewayConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

type StoreConfig struct {
	Kind string `json:"kind" mapstructure:"kind"` // none, file, sqlite
	Path string `json:"path" mapstructure:"path"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:       "anthropic",
			Model:          "claude-sonnet-4-20250514",
			Engine:         "native",
			Temperature:    0,
			MaxTokens:      4096,
			MaxRetries:     2,
			InitialBackoff: 500,
		},
		Agent: AgentConfig{
			MaxIterations:   100,
			GreetingTimeout: 3000,
			PromptCharLimit: 12000,
			ToolTimeout:     60,
			Language:        "en",
		},
		Operator: OperatorConfig{
			Kind:       "desktop",
			FactorX:    1000,
			FactorY:    1000,
			ScrollMax:  10,
			WaitMillis: 5000,
			Desktop: DesktopConfig{
				Display:     ":0",
				ScaleFactor: 1,
				Platform:    "linux",
			},
			Remote: RemoteConfig{
				MaxAttempts:    2,
				RequestsPerSec: 5,
				TimeoutSeconds: 30,
			},
			Mobile: MobileConfig{
				ADBPath: "adb",
			},
			Browser: BrowserConfig{
				Headless: true,
			},
		},
		Logging: logger.DefaultConfig(),
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		Store: StoreConfig{
			Kind: "file",
		},
	}
}

// GreetingTimeoutDuration returns the greeting race timeout.
func (a AgentConfig) GreetingTimeoutDuration() time.Duration {
	return time.Duration(a.GreetingTimeout) * time.Millisecond
}

// ToolTimeoutDuration returns the per-tool-call timeout.
func (a AgentConfig) ToolTimeoutDuration() time.Duration {
	return time.Duration(a.ToolTimeout) * time.Second
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks the values the engine cannot run without.
func (c *Config) Validate() error {
	if c.Model.Provider == "" {
		return fmt.Errorf("model.provider is required")
	}
	if c.Model.Model == "" {
		return fmt.Errorf("model.model is required")
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be > 0")
	}
	if c.Agent.PromptCharLimit <= 0 {
		return fmt.Errorf("agent.prompt_char_limit must be > 0")
	}
	if c.Operator.FactorX <= 0 || c.Operator.FactorY <= 0 {
		return fmt.Errorf("operator factors must be > 0")
	}
	seen := make(map[string]bool)
	for i, srv := range c.MCP.Servers {
		if srv.Name == "" {
			return fmt.Errorf("mcp server %d: name is required", i)
		}
		if srv.Command == "" {
			return fmt.Errorf("mcp server %s: command is required", srv.Name)
		}
		if seen[srv.Name] {
			return fmt.Errorf("mcp server %s: duplicate name", srv.Name)
		}
		seen[srv.Name] = true
	}
	return nil
}
