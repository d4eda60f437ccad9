package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type inspectOptions struct {
	ManifestPath   string
	CheckpointPath string
}

func newInspectCmd(app *AppContext) *cobra.Command {
	opts := &inspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Restore a checkpointed task and print its state plus recorded events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, app, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ManifestPath, "manifest", "m", "", "Path to the workflow manifest the checkpoint was taken under")
	cmd.Flags().StringVarP(&opts.CheckpointPath, "checkpoint", "c", "", "Path to a checkpoint file written by 'run --checkpoint-out'")
	cmd.MarkFlagRequired("manifest")    //nolint:errcheck
	cmd.MarkFlagRequired("checkpoint") //nolint:errcheck

	return cmd
}

func runInspect(cmd *cobra.Command, app *AppContext, opts *inspectOptions) error {
	ctx, logger := app.CommandContext(cmd, "cli.inspect")

	e, err := loadEngine(ctx, opts.ManifestPath, logger)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(opts.CheckpointPath)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	t, err := e.Restore(data)
	if err != nil {
		return fmt.Errorf("restore checkpoint: %w", err)
	}

	inspection, err := e.Inspect(t.TaskID)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(inspection)
}
