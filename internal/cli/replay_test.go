package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/autopilot/pkg/eventstream"
	"github.com/harun/autopilot/pkg/session"
)

func writeConfig(t *testing.T, store map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := map[string]interface{}{
		"data_dir": dir,
		"store":    store,
		"logging":  map[string]interface{}{"level": "error", "console": false, "file": filepath.Join(dir, "test.log")},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "autopilot.json")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func executeReplay(t *testing.T, args ...string) (string, error) {
	t.Helper()
	replayEvents = false
	cmd := GetRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReplayCommand(t *testing.T) {
	storeDir := t.TempDir()
	fs, err := session.NewFileStore(storeDir)
	require.NoError(t, err)

	stream := eventstream.New()
	stream.Subscribe(func(ev eventstream.Event) {
		require.NoError(t, fs.Put(context.Background(), "run-1", ev))
	})
	stream.Append(eventstream.TypeUserMessage, eventstream.MessagePayload{Content: "open settings"})
	stream.Append(eventstream.TypeObservation, eventstream.MessagePayload{Content: "settings opened"})
	stream.Append(eventstream.TypeComplete, eventstream.TerminalPayload{Reason: "completed"})

	configPath := writeConfig(t, map[string]string{"kind": "file", "path": storeDir})

	t.Run("should list stored sessions", func(t *testing.T) {
		out, err := executeReplay(t, "--config", configPath, "replay")
		require.NoError(t, err)
		assert.Equal(t, "run-1\n", out)
	})

	t.Run("should print the prompt transcript", func(t *testing.T) {
		out, err := executeReplay(t, "--config", configPath, "replay", "run-1")
		require.NoError(t, err)
		assert.Contains(t, out, stream.NormalizeForPrompt())
	})

	t.Run("should print raw events", func(t *testing.T) {
		out, err := executeReplay(t, "--config", configPath, "replay", "--events", "run-1")
		require.NoError(t, err)
		var events []eventstream.Event
		require.NoError(t, json.Unmarshal([]byte(out), &events))
		require.Len(t, events, 3)
		assert.Equal(t, eventstream.TypeComplete, events[2].Type)
	})

	t.Run("should fail for unknown sessions", func(t *testing.T) {
		_, err := executeReplay(t, "--config", configPath, "replay", "missing")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("should fail when persistence is disabled", func(t *testing.T) {
		path := writeConfig(t, map[string]string{"kind": "none"})
		_, err := executeReplay(t, "--config", path, "replay", "run-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "persistence is disabled")
	})
}
