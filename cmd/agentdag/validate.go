package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentdag/agentdag/internal/infrastructure/config"
)

type validateOptions struct {
	ManifestPath string
}

func newValidateCmd(app *AppContext) *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse a manifest, validate it, and build its DAG without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, app, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ManifestPath, "manifest", "m", "", "Path to the workflow manifest")
	cmd.MarkFlagRequired("manifest") //nolint:errcheck

	return cmd
}

func runValidate(cmd *cobra.Command, app *AppContext, opts *validateOptions) error {
	ctx, logger := app.CommandContext(cmd, "cli.validate")

	loader := config.NewYAMLLoader(logger)
	if err := loader.Validate(ctx, opts.ManifestPath); err != nil {
		return err
	}

	m, err := loader.Load(ctx, opts.ManifestPath)
	if err != nil {
		return err
	}
	g, err := m.Build()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "manifest %q is valid: %d node(s), default start %q\n",
		opts.ManifestPath, len(m.Nodes), g.DefaultStart())
	return nil
}
