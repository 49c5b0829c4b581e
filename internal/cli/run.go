package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/autopilot/pkg/agent"
	"github.com/harun/autopilot/pkg/eventstream"
)

var (
	runNoGreeting    bool
	runMaxIterations int
)

var runCmd = &cobra.Command{
	Use:   `run "<instruction>"`,
	Short: "Run one instruction and print its events",
	Long: `Run one instruction against the configured operator and print the
session's events as they happen. Ctrl-C stops the run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runNoGreeting, "no-greeting", false, "skip the greeting phase")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "override agent.max_iterations")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	input := strings.TrimSpace(strings.Join(args, " "))
	if input == "" {
		return fmt.Errorf("instruction is required")
	}

	_, cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, log.Component("run"))
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := agent.OptionsFromConfig(cfg.Agent)
	opts.SkipGreeting = runNoGreeting
	if runMaxIterations > 0 {
		opts.MaxIterations = runMaxIterations
	}
	sess, err := agent.NewSession(rt.deps(nil), opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	unsubscribe := sess.Stream().Subscribe(func(ev eventstream.Event) { printEvent(out, ev) })
	defer unsubscribe()

	fmt.Fprintf(out, "session %s\n", sess.ID())
	if _, err := sess.Start(context.Background(), input); err != nil {
		return err
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		sess.Stop()
		<-sess.Done()
	}
	return sess.Err()
}
