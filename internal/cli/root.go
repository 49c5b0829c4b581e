package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// Persistent flags shared by every subcommand.
var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:     "autopilot",
	Short:   "Autopilot - GUI agent orchestration engine",
	Version: version,
	Long: `Autopilot is a GUI agent orchestration engine. It drives a
vision-language model through a plan, act and reflect loop against a
desktop, remote sandbox, mobile device or browser.
Runs can be started from the command line or served to remote UIs over a
websocket gateway.`,
	// Errors are printed once by main.
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.autopilot/autopilot.json)")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return rootCmd.Execute()
}

func GetRootCmd() *cobra.Command { return rootCmd }

func GetVersion() string { return version }
