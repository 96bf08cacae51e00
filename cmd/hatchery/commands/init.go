package commands

import (
	"github.com/spf13/cobra"

	"github.com/hatchery-sh/hatchery/cmd/hatchery/handlers"
)

// Init returns the command that writes a starter configuration file.
func Init() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter hatchery.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			return handlers.Init("hatchery.yaml", force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")

	return cmd
}
