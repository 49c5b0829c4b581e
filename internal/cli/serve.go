package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/autopilot/internal/config"
	"github.com/harun/autopilot/internal/logger"
	"github.com/harun/autopilot/pkg/agent"
	"github.com/harun/autopilot/pkg/gateway"
)

const shutdownTimeout = 10 * time.Second

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve sessions over the websocket gateway",
	Long: `Start the gateway server. Remote UIs start, steer and follow sessions
over /ws or /rpc; /metrics exposes Prometheus metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "override gateway.host")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override gateway.port")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader, cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Close()

	if serveHost != "" {
		cfg.Gateway.Host = serveHost
	}
	if servePort > 0 {
		cfg.Gateway.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, log.Component("runtime"))
	if err != nil {
		return err
	}
	defer rt.Close()

	// The hub observes every session, so it exists before the registry.
	hub := gateway.NewHub(log.Component("gateway"))
	registry, err := agent.NewRegistry(rt.deps(hub), agent.OptionsFromConfig(cfg.Agent))
	if err != nil {
		return err
	}

	server, err := gateway.NewServer(gateway.Config{
		Host:         cfg.Gateway.Host,
		Port:         cfg.Gateway.Port,
		SharedSecret: cfg.Gateway.SharedSecret,
		Agents:       registry,
		Hub:          hub,
		Store:        rt.store,
		Logger:       log.GetZerolog(),
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "gateway listening on %s\n", server.Addr())

	watcher, err := config.NewWatcher(loader, 0)
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher disabled")
	} else {
		watcher.OnReload(applyReload(log.GetZerolog()))
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Config watcher disabled")
		} else {
			defer watcher.Stop()
		}
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Gateway shutdown failed")
	}
	if err := registry.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Sessions did not stop in time")
	}
	return nil
}

// applyReload applies the settings that can change without a restart.
// Everything else is logged and picked up on the next start.
func applyReload(zl zerolog.Logger) config.ReloadFunc {
	return func(cfg *config.Config) {
		level := logger.SetLevel(cfg.Logging.Level)
		zl.Info().Str("level", level.String()).Msg("Config reloaded; log level applied, other changes take effect on restart")
	}
}
