package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Command is one program invocation on the host.
type Command struct {
	Name    string
	Args    []string
	Env     map[string]string
	Stdin   []byte
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Runner executes host commands. Operators drive input-simulation tools
// through it so tests can substitute a recorder.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Config restricts what a HostRunner may execute.
type Config struct {
	// AllowedCommands lists program base names that may run. Empty allows
	// any program.
	AllowedCommands []string
	// PassEnv names host environment variables copied into every command,
	// such as DISPLAY or XAUTHORITY.
	PassEnv        []string
	DefaultTimeout time.Duration
}

// DefaultConfig returns the configuration used by the GUI operators.
func DefaultConfig() Config {
	return Config{
		AllowedCommands: []string{"xdotool", "import", "xrandr", "adb"},
		PassEnv:         []string{"DISPLAY", "XAUTHORITY", "HOME", "ANDROID_SERIAL"},
		DefaultTimeout:  30 * time.Second,
	}
}

// HostRunner runs allowlisted programs directly on the host.
type HostRunner struct {
	mu      sync.RWMutex
	config  Config
	allowed map[string]bool
	logger  zerolog.Logger
}

// NewHostRunner creates a runner.
func NewHostRunner(config Config) (*HostRunner, error) {
	if config.DefaultTimeout < 0 {
		return nil, ErrInvalidTimeout
	}
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	h := &HostRunner{logger: log.With().Str("component", "sandbox").Logger()}
	h.setConfig(config)
	return h, nil
}

func (h *HostRunner) setConfig(config Config) {
	allowed := make(map[string]bool, len(config.AllowedCommands))
	for _, c := range config.AllowedCommands {
		allowed[c] = true
	}
	h.mu.Lock()
	h.config = config
	h.allowed = allowed
	h.mu.Unlock()
}

// Run executes cmd and waits for it. A non-zero exit is returned as
// ErrNonZeroExit together with the captured output.
func (h *HostRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	h.mu.RLock()
	config, allowed := h.config, h.allowed
	h.mu.RUnlock()

	if cmd.Name == "" {
		return Result{}, ErrEmptyCommand
	}
	if len(allowed) > 0 && !allowed[filepath.Base(cmd.Name)] {
		return Result{}, fmt.Errorf("%w: %s", ErrCommandNotAllowed, cmd.Name)
	}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = config.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(execCtx, cmd.Name, cmd.Args...)
	c.Env = buildEnvironment(config.PassEnv, cmd.Env)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if len(cmd.Stdin) > 0 {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	start := time.Now()
	err := c.Run()
	result := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	switch {
	case ctx.Err() != nil:
		return result, ctx.Err()
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		result.ExitCode = -1
		return result, fmt.Errorf("%w: %s", ErrExecutionTimeout, cmd)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, fmt.Errorf("%w: %s exited %d: %s", ErrNonZeroExit, cmd.Name, result.ExitCode, strings.TrimSpace(stderr.String()))
	}
	if err != nil {
		return result, fmt.Errorf("failed to run %s: %w", cmd.Name, err)
	}

	h.logger.Debug().
		Str("command", cmd.Name).
		Strs("args", cmd.Args).
		Dur("duration", result.Duration).
		Msg("Command executed")
	return result, nil
}

func buildEnvironment(pass []string, extra map[string]string) []string {
	env := []string{"PATH=" + os.Getenv("PATH")}
	for _, key := range pass {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
