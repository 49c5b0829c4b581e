package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := GetRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(out)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	t.Run("should print the version", func(t *testing.T) {
		out, err := execRoot(t, "--version")
		require.NoError(t, err)
		assert.Equal(t, "autopilot version "+GetVersion()+"\n", out)
	})

	t.Run("should describe itself in help", func(t *testing.T) {
		out, err := execRoot(t, "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "GUI agent orchestration engine")
		assert.Contains(t, out, "websocket gateway")
	})

	t.Run("should expose persistent flags with defaults", func(t *testing.T) {
		flags := GetRootCmd().PersistentFlags()
		for name, def := range map[string]string{"config": "", "log-level": "info"} {
			f := flags.Lookup(name)
			require.NotNil(t, f, name)
			assert.Equal(t, def, f.DefValue, name)
		}
	})

	t.Run("should register subcommands with their flags", func(t *testing.T) {
		want := map[string][]string{
			"run":    {"no-greeting", "max-iterations"},
			"serve":  {"host", "port"},
			"replay": {"events"},
		}
		for name, flags := range want {
			cmd, _, err := GetRootCmd().Find([]string{name})
			require.NoError(t, err, name)
			require.Equal(t, name, cmd.Name())
			for _, f := range flags {
				assert.NotNil(t, cmd.Flags().Lookup(f), "%s --%s", name, f)
			}
		}
	})

	t.Run("should validate positional arguments", func(t *testing.T) {
		cases := map[string][]string{
			"run without instruction": {"run"},
			"serve with arguments":    {"serve", "extra"},
			"replay with two ids":     {"replay", "a", "b"},
		}
		for name, args := range cases {
			_, err := execRoot(t, args...)
			assert.Error(t, err, name)
		}
	})
}

func TestGetVersion(t *testing.T) {
	assert.Regexp(t, `^\d+\.\d+\.\d+$`, GetVersion())
	assert.IsType(t, &cobra.Command{}, GetRootCmd())
}
