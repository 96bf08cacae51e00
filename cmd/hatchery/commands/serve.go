package commands

import (
	"github.com/spf13/cobra"

	"github.com/hatchery-sh/hatchery/cmd/hatchery/handlers"
)

// Serve returns the command that runs the orchestrator server.
//
// Optional flags:
//
//	--config, -c: Path to configuration YAML file (default: hatchery.yaml)
//
// Operational timeouts are tuned through HATCHERY_TIMEOUT_* environment
// variables; see the config package for the full list.
func Serve() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator",
		Long: `Run the hatchery orchestrator.

This starts the HTTP API, the machine lifecycle tracker, and the image
sync scheduler, and keeps them running until interrupted.

Examples:
  # Run with hatchery.yaml in the current directory
  hatchery serve

  # Run with a specific config file
  hatchery serve -c /etc/hatchery/production.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Serve(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "hatchery.yaml", "Path to configuration file")

	return cmd
}
