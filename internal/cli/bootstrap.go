package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/autopilot/internal/config"
	"github.com/harun/autopilot/internal/logger"
	"github.com/harun/autopilot/internal/observability"
	"github.com/harun/autopilot/internal/tracing"
	"github.com/harun/autopilot/pkg/agent"
	"github.com/harun/autopilot/pkg/llm"
	"github.com/harun/autopilot/pkg/mcp"
	"github.com/harun/autopilot/pkg/operator"
	"github.com/harun/autopilot/pkg/sandbox"
	"github.com/harun/autopilot/pkg/session"
	"github.com/harun/autopilot/pkg/toolcall"
	"github.com/harun/autopilot/pkg/toolexecutor"
)

// bootstrap loads the config and installs the process logger, tracer and
// audit sink.
func bootstrap() (*config.Loader, *config.Config, *logger.Logger, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	if err := tracing.Setup("autopilot"); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}
	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		log.Warn().Err(err).Msg("Audit log disabled")
	}
	observability.EnsureRegistered()
	return loader, cfg, log, nil
}

// runtime holds the collaborators shared by every session of a process.
type runtime struct {
	logger     zerolog.Logger
	model      *llm.Client
	device     *operator.Device
	mcpCache   *mcp.Cache
	dispatcher *toolexecutor.Dispatcher
	store      session.Store
	sink       *session.Sink
}

func newRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	rt := &runtime{logger: logger}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	provider, err := llm.NewProvider(llm.ProviderConfig{
		Provider: cfg.Model.Provider,
		APIKey:   cfg.Model.APIKey,
		BaseURL:  cfg.Model.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	engine, err := toolcall.NewEngine(cfg.Model.Engine)
	if err != nil {
		return nil, err
	}
	rt.model, err = llm.NewClient(provider, engine, llm.Config{
		Model:          cfg.Model.Model,
		Temperature:    cfg.Model.Temperature,
		MaxTokens:      cfg.Model.MaxTokens,
		MaxRetries:     cfg.Model.MaxRetries,
		InitialBackoff: time.Duration(cfg.Model.InitialBackoff) * time.Millisecond,
	}, logger)
	if err != nil {
		return nil, err
	}

	tools := toolexecutor.New()
	if d := cfg.Agent.ToolTimeoutDuration(); d > 0 {
		tools.SetTimeout(d)
	}

	runner, err := sandbox.NewHostRunner(sandbox.DefaultConfig())
	if err != nil {
		return nil, err
	}
	rt.device, err = operator.New(ctx, cfg.Operator, runner, logger)
	if err != nil {
		return nil, err
	}
	if rt.device != nil {
		if err := operator.RegisterTools(tools, rt.device); err != nil {
			return nil, err
		}
	}

	var source toolexecutor.MCPSource
	if len(cfg.MCP.Servers) > 0 {
		servers := make([]mcp.ServerConfig, 0, len(cfg.MCP.Servers))
		for _, s := range cfg.MCP.Servers {
			servers = append(servers, mcp.ServerConfig{Name: s.Name, Command: s.Command, Args: s.Args, Env: s.Env})
		}
		rt.mcpCache = mcp.NewCache(nil, logger)
		hub, err := mcp.NewHub(rt.mcpCache, servers, logger)
		if err != nil {
			return nil, err
		}
		source = hub
	}
	rt.dispatcher, err = toolexecutor.NewDispatcher(tools, source, logger)
	if err != nil {
		return nil, err
	}

	rt.store, err = session.Open(cfg.Store)
	if err != nil {
		return nil, err
	}
	if rt.store != nil {
		rt.sink, err = session.NewSink(rt.store, logger)
		if err != nil {
			return nil, err
		}
	}

	ok = true
	return rt, nil
}

// deps builds session dependencies. observer may be nil.
func (rt *runtime) deps(observer agent.Observer) agent.Dependencies {
	d := agent.Dependencies{
		Model:      rt.model,
		Dispatcher: rt.dispatcher,
		Observer:   observer,
		Logger:     rt.logger,
	}
	if rt.sink != nil {
		d.Recorder = rt.sink
	}
	return d
}

// Close flushes the sink before closing the store it writes to.
func (rt *runtime) Close() {
	if rt.sink != nil {
		if n := rt.sink.Backlog(); n > 0 {
			rt.logger.Info().Int("pending", n).Msg("Flushing session events")
		}
		rt.sink.Close()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("Failed to close session store")
		}
	}
	if rt.mcpCache != nil {
		if err := rt.mcpCache.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("Failed to close MCP connections")
		}
	}
	if rt.device != nil {
		if err := rt.device.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("Failed to close operator")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.Shutdown(ctx); err != nil {
		rt.logger.Warn().Err(err).Msg("Failed to flush traces")
	}
}
