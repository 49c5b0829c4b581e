package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/autopilot/pkg/session"
)

var replayEvents bool

var replayCmd = &cobra.Command{
	Use:   "replay [session-id]",
	Short: "Print a persisted session",
	Long: `Print the prompt transcript of a persisted session, or its raw events
with --events. Without a session id, list the stored sessions.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayEvents, "events", false, "print the raw events as JSON")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	_, cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Close()

	store, err := session.Open(cfg.Store)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("session persistence is disabled (store.kind is %q)", cfg.Store.Kind)
	}
	defer store.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		ids, err := store.List(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	stream, err := session.Restore(ctx, store, args[0])
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", args[0], err)
	}
	if replayEvents {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stream.GetAll())
	}
	fmt.Fprintln(out, stream.NormalizeForPrompt())
	if !stream.Terminal() {
		fmt.Fprintf(cmd.ErrOrStderr(), "session %s has no terminal event; it was interrupted or is still running\n", args[0])
	}
	return nil
}
