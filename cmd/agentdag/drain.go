package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentdag/agentdag/internal/task"
)

type drainOptions struct {
	ManifestPath string
	InputsPath   string
	Mode         string
	JSONOutput   bool
}

func newDrainCmd(app *AppContext) *cobra.Command {
	opts := &drainOptions{}

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Enqueue a batch of inputs and run every queued task to completion, FIFO",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(cmd, app, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ManifestPath, "manifest", "m", "", "Path to the workflow manifest")
	cmd.Flags().StringVarP(&opts.InputsPath, "inputs", "i", "", "Path to a JSON file containing an array of input objects")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "Task mode, forwarded to every enqueued task")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "Print the drained tasks as JSON")
	cmd.MarkFlagRequired("manifest") //nolint:errcheck
	cmd.MarkFlagRequired("inputs")   //nolint:errcheck

	return cmd
}

func runDrain(cmd *cobra.Command, app *AppContext, opts *drainOptions) error {
	ctx, logger := app.CommandContext(cmd, "cli.drain")

	raw, err := os.ReadFile(opts.InputsPath)
	if err != nil {
		return fmt.Errorf("read --inputs: %w", err)
	}
	var inputs []map[string]interface{}
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return fmt.Errorf("parse --inputs: %w", err)
	}

	e, err := loadEngine(ctx, opts.ManifestPath, logger)
	if err != nil {
		return err
	}

	for _, input := range inputs {
		if _, err := e.Enqueue(task.Spec{Input: input, Mode: opts.Mode}); err != nil {
			return err
		}
	}

	tasks, err := e.Drain(ctx)
	if err != nil {
		return err
	}

	if opts.JSONOutput {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(tasks); err != nil {
			return err
		}
	} else {
		for _, t := range tasks {
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", t.TaskID, t.Status)
		}
	}

	for _, t := range tasks {
		if t.Status != task.StatusSucceeded {
			return fmt.Errorf("%d task(s) drained, at least one did not succeed", len(tasks))
		}
	}
	return nil
}
