package main

import (
	"os"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	verbose bool
}

func newRootCmd(app *AppContext) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "agentdag",
		Short:         "agentdag drives manifest-declared DAG workflows of deterministic and agent nodes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(newRunCmd(app))
	cmd.AddCommand(newValidateCmd(app))
	cmd.AddCommand(newInspectCmd(app))
	cmd.AddCommand(newDrainCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func anthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}
