package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for webpilot
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webpilot",
		Short: "Natural-language browser automation agent",
		Long: `Webpilot turns natural-language commands into browser automation.

Each command is classified against the task catalog, rendered into
step-by-step instructions and carried out by a model-driven agent loop
against a Chrome instance reachable over the DevTools protocol. Every run
is recorded in the execution ledger, which adaptive mode mines for failure
patterns to improve later instructions.

Configuration is loaded from $WEBPILOT_HOME/config.yaml (default
./.webpilot/config.yaml). CLI flags override configuration file settings.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default $WEBPILOT_HOME/config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().String("ledger-backend", "", "Ledger backend: sqlite or json")

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewShellCommand())
	cmd.AddCommand(NewGenerateCommand())
	cmd.AddCommand(NewAnalyzeCommand())
	cmd.AddCommand(NewLedgerCommand())
	cmd.AddCommand(NewTasksCommand())

	return cmd
}
