package main

import (
	"context"
	"fmt"
	"os"

	logginginfra "github.com/agentdag/agentdag/internal/infrastructure/logging"
	"github.com/agentdag/agentdag/internal/ports"
)

func main() {
	appLogger, err := logginginfra.New(logginginfra.Options{
		Level:     "info",
		Component: "cli",
		Layer:     "infrastructure",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create application logger: %v\n", err)
		os.Exit(exitTaskFailed)
	}

	correlationID := ports.GenerateCorrelationID()
	ctx := ports.WithCorrelationID(context.Background(), correlationID)

	app := &AppContext{Logger: appLogger}
	rootCmd := newRootCmd(app)
	appLogger.Info(ctx, "starting agentdag command", "pid", os.Getpid())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
