package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	domain "github.com/agentdag/agentdag/internal/domain/engine"
	"github.com/agentdag/agentdag/internal/ports"
)

// AppContext bundles the long-lived services every subcommand needs.
type AppContext struct {
	Logger ports.Logger
}

// CommandContext returns the command's context (falling back to Background)
// together with a component-scoped logger.
func (a *AppContext) CommandContext(cmd *cobra.Command, component string) (context.Context, ports.Logger) {
	ctx := context.Background()
	if cmd != nil && cmd.Context() != nil {
		ctx = cmd.Context()
	}
	return ctx, a.LoggerFor(component)
}

// LoggerFor derives a child logger scoped to component.
func (a *AppContext) LoggerFor(component string) ports.Logger {
	if a == nil || a.Logger == nil {
		return nil
	}
	return a.Logger.With("component", component)
}

// Exit codes: 0 success, 1 task failed, 2 manifest invalid, 3 queue
// overflow, 4 cancelled.
const (
	exitSuccess          = 0
	exitTaskFailed       = 1
	exitManifestInvalid  = 2
	exitQueueOverflow    = 3
	exitCancelled        = 4
)

// exitCodeFor maps a command's returned error to the CLI's exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}
	if errors.Is(err, context.Canceled) {
		return exitCancelled
	}
	switch domain.KindOf(err) {
	case domain.ErrQueueFull:
		return exitQueueOverflow
	case domain.ErrValidation:
		return exitManifestInvalid
	default:
		return exitTaskFailed
	}
}
