package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentdag/agentdag/internal/task"
)

type runOptions struct {
	ManifestPath   string
	InputJSON      string
	Mode           string
	JSONOutput     bool
	CheckpointPath string
}

func newRunCmd(app *AppContext) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a manifest, run one task synchronously, and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, app, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ManifestPath, "manifest", "m", "", "Path to the workflow manifest")
	cmd.Flags().StringVarP(&opts.InputJSON, "input", "i", "{}", "JSON object to use as the task's initial input")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "Task mode, forwarded to clones and subtasks")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "Print the task result as JSON")
	cmd.Flags().StringVar(&opts.CheckpointPath, "checkpoint-out", "", "Write the finished task's checkpoint to this path")
	cmd.MarkFlagRequired("manifest") //nolint:errcheck

	return cmd
}

func runRun(cmd *cobra.Command, app *AppContext, opts *runOptions) error {
	ctx, logger := app.CommandContext(cmd, "cli.run")

	var input map[string]interface{}
	if err := json.Unmarshal([]byte(opts.InputJSON), &input); err != nil {
		return fmt.Errorf("parse --input: %w", err)
	}

	e, err := loadEngine(ctx, opts.ManifestPath, logger)
	if err != nil {
		return err
	}

	t, err := e.Run(ctx, task.Spec{Input: input, Mode: opts.Mode})
	if err != nil {
		return err
	}

	if opts.CheckpointPath != "" {
		data, err := e.Checkpoint(t.TaskID)
		if err != nil {
			return fmt.Errorf("write checkpoint: %w", err)
		}
		if err := os.WriteFile(opts.CheckpointPath, data, 0o644); err != nil {
			return fmt.Errorf("write checkpoint: %w", err)
		}
	}

	if opts.JSONOutput {
		return renderRunJSON(cmd, t)
	}
	renderRunTable(cmd, t)
	if t.Status != task.StatusSucceeded {
		return fmt.Errorf("task %s finished with status %s", t.TaskID, t.Status)
	}
	return nil
}

func renderRunTable(cmd *cobra.Command, t *task.Task) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Task:   %s\n", t.TaskID)
	fmt.Fprintf(w, "Status: %s\n", t.Status)
	fmt.Fprintf(w, "Nodes visited: %d\n", len(t.History))
	for _, rec := range t.History {
		fmt.Fprintf(w, "  - %-20s %s\n", rec.NodeID, rec.Status)
	}
	output, err := json.MarshalIndent(t.CurrentOutput, "", "  ")
	if err == nil {
		fmt.Fprintf(w, "Output:\n%s\n", output)
	}
}

type runJSONPayload struct {
	TaskID  string                     `json:"task_id"`
	Status  string                     `json:"status"`
	Output  map[string]interface{}     `json:"output"`
	History []task.NodeExecutionRecord `json:"history"`
}

func renderRunJSON(cmd *cobra.Command, t *task.Task) error {
	payload := runJSONPayload{
		TaskID:  t.TaskID,
		Status:  string(t.Status),
		Output:  t.CurrentOutput,
		History: t.History,
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		return err
	}
	if t.Status != task.StatusSucceeded {
		return fmt.Errorf("task %s finished with status %s", t.TaskID, t.Status)
	}
	return nil
}
