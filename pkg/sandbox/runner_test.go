package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRunner(t *testing.T, allowed ...string) *HostRunner {
	t.Helper()
	r, err := NewHostRunner(Config{AllowedCommands: allowed, DefaultTimeout: 5 * time.Second})
	require.NoError(t, err)
	return r
}

func TestHostRunnerRun(t *testing.T) {
	t.Run("should capture stdout", func(t *testing.T) {
		r := setupRunner(t, "echo")
		res, err := r.Run(context.Background(), Command{Name: "echo", Args: []string{"hello"}})
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(res.Stdout))
		assert.Zero(t, res.ExitCode)
	})

	t.Run("should feed stdin and pass env", func(t *testing.T) {
		r := setupRunner(t)
		res, err := r.Run(context.Background(), Command{
			Name:  "sh",
			Args:  []string{"-c", "cat; printf \"$GREETING\""},
			Env:   map[string]string{"GREETING": "!"},
			Stdin: []byte("in"),
		})
		require.NoError(t, err)
		assert.Equal(t, "in!", string(res.Stdout))
	})

	t.Run("should reject commands outside the allowlist", func(t *testing.T) {
		r := setupRunner(t, "xdotool")
		_, err := r.Run(context.Background(), Command{Name: "/bin/rm", Args: []string{"-rf", "/"}})
		assert.ErrorIs(t, err, ErrCommandNotAllowed)
	})

	t.Run("should report non-zero exit", func(t *testing.T) {
		r := setupRunner(t)
		res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo bad >&2; exit 3"}})
		require.ErrorIs(t, err, ErrNonZeroExit)
		assert.Equal(t, 3, res.ExitCode)
		assert.Contains(t, err.Error(), "bad")
	})

	t.Run("should time out", func(t *testing.T) {
		r := setupRunner(t)
		_, err := r.Run(context.Background(), Command{Name: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond})
		assert.ErrorIs(t, err, ErrExecutionTimeout)
	})

	t.Run("should surface caller cancellation", func(t *testing.T) {
		r := setupRunner(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := r.Run(ctx, Command{Name: "sleep", Args: []string{"1"}})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("should reject empty command", func(t *testing.T) {
		_, err := setupRunner(t).Run(context.Background(), Command{})
		assert.ErrorIs(t, err, ErrEmptyCommand)
	})
}

func TestNewHostRunnerValidation(t *testing.T) {
	_, err := NewHostRunner(Config{DefaultTimeout: -1})
	assert.ErrorIs(t, err, ErrInvalidTimeout)

	r, err := NewHostRunner(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, r.config.DefaultTimeout)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "xdotool mousemove 1 2", Command{Name: "xdotool", Args: []string{"mousemove", "1", "2"}}.String())
}
