package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/autopilot/internal/config"
	"github.com/harun/autopilot/pkg/eventstream"
	"github.com/harun/autopilot/pkg/llm"
	"github.com/harun/autopilot/pkg/planner"
	"github.com/harun/autopilot/pkg/toolcall"
	"github.com/harun/autopilot/pkg/toolexecutor"
)

// Phase is the position of a session in its loop.
type Phase string

const (
	PhaseInit      Phase = "init"
	PhaseGreeting  Phase = "greeting"
	PhasePlanning  Phase = "planning"
	PhaseActing    Phase = "acting"
	PhaseAwareness Phase = "awareness"
	PhaseDone      Phase = "done"
	PhaseAborted   Phase = "aborted"
	PhaseErrored   Phase = "errored"
)

// Model is the language model collaborator.
type Model interface {
	AskText(ctx context.Context, req llm.TextRequest) (string, error)
	AskWithTools(ctx context.Context, req llm.ToolsRequest) (*llm.ToolsResponse, error)
	ToolResultMessages(results []toolcall.ToolResult) []toolcall.Message
}

// Dispatcher resolves and runs tool calls, recording them on the stream.
type Dispatcher interface {
	Catalog(ctx context.Context) ([]toolcall.ToolSpec, error)
	Dispatch(ctx context.Context, stream *eventstream.Stream, call toolcall.ToolCall) (toolexecutor.Outcome, error)
}

// Recorder persists events as they are appended. It is called
// synchronously and must not block for long.
type Recorder interface {
	Record(sessionID string, ev eventstream.Event)
}

// Dependencies are the collaborators shared by sessions. They are passed
// in explicitly so sessions stay independently testable.
type Dependencies struct {
	Model      Model
	Dispatcher Dispatcher
	// Observer and Recorder are optional.
	Observer Observer
	Recorder Recorder
	Logger   zerolog.Logger
}

func (d Dependencies) validate() error {
	if d.Model == nil {
		return fmt.Errorf("model is required")
	}
	if d.Dispatcher == nil {
		return fmt.Errorf("dispatcher is required")
	}
	return nil
}

// Options bound one session.
type Options struct {
	AgentID         string
	MaxIterations   int
	GreetingTimeout time.Duration
	// SkipGreeting disables the greeting phase.
	SkipGreeting    bool
	PromptCharLimit int
	SystemPrompt    string
	Language        string
}

// DefaultOptions returns the loop defaults.
func DefaultOptions() Options {
	return Options{
		AgentID:         "autopilot",
		MaxIterations:   100,
		GreetingTimeout: 3 * time.Second,
		PromptCharLimit: eventstream.DefaultPromptCharLimit,
		Language:        "en",
	}
}

// OptionsFromConfig maps the agent section of the config file.
func OptionsFromConfig(cfg config.AgentConfig) Options {
	opts := DefaultOptions()
	if cfg.MaxIterations > 0 {
		opts.MaxIterations = cfg.MaxIterations
	}
	if d := cfg.GreetingTimeoutDuration(); d > 0 {
		opts.GreetingTimeout = d
	}
	if cfg.PromptCharLimit > 0 {
		opts.PromptCharLimit = cfg.PromptCharLimit
	}
	if cfg.Language != "" {
		opts.Language = cfg.Language
	}
	opts.SystemPrompt = cfg.SystemPrompt
	return opts
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.AgentID == "" {
		o.AgentID = def.AgentID
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = def.MaxIterations
	}
	if o.GreetingTimeout <= 0 {
		o.GreetingTimeout = def.GreetingTimeout
	}
	if o.PromptCharLimit <= 0 {
		o.PromptCharLimit = def.PromptCharLimit
	}
	if o.Language == "" {
		o.Language = def.Language
	}
	return o
}

// Snapshot is a point-in-time copy of a session's state.
type Snapshot struct {
	ID          string              `json:"id"`
	Status      planner.RunStatus   `json:"status"`
	Phase       Phase               `json:"phase"`
	Plan        []planner.Step      `json:"plan,omitempty"`
	CurrentStep int                 `json:"currentStep"`
	Iterations  int                 `json:"iterations"`
	Error       string              `json:"error,omitempty"`
	StartedAt   time.Time           `json:"startedAt"`
	Events      []eventstream.Event `json:"events,omitempty"`
}
