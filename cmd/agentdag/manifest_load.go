package main

import (
	"context"

	econtext "github.com/agentdag/agentdag/internal/context"
	"github.com/agentdag/agentdag/internal/engine"
	"github.com/agentdag/agentdag/internal/executor"
	"github.com/agentdag/agentdag/internal/infrastructure/config"
	infraevents "github.com/agentdag/agentdag/internal/infrastructure/events"
	"github.com/agentdag/agentdag/internal/llm"
	"github.com/agentdag/agentdag/internal/llm/anthropic"
	"github.com/agentdag/agentdag/internal/ports"
	"github.com/agentdag/agentdag/internal/tool"
	"github.com/agentdag/agentdag/internal/tool/exec"
)

// loadEngine loads the manifest at path through config.YAMLLoader (so a bad
// path or invalid manifest comes back as a domain.Error tagged ErrValidation,
// the same way every other engine failure does) and wires it to the
// reference adapters: internal/tool/exec for shell tools, internal/llm/anthropic
// for agent nodes, and passes logger through to the engine unchanged.
func loadEngine(ctx context.Context, path string, logger ports.Logger) (*engine.Engine, error) {
	m, err := config.NewYAMLLoader(logger).Load(ctx, path)
	if err != nil {
		return nil, err
	}

	tools := make(tool.MapRegistry, len(m.Tools))
	for _, t := range m.Tools {
		tools[t.ID] = exec.New(tool.Permissions{
			AllowNetwork: t.AllowNetwork,
			AllowShell:   t.AllowShell,
			RootPath:     t.RootPath,
		})
	}

	llms := make(llm.MapRegistry, len(m.Agents))
	if apiKey := anthropicAPIKey(); apiKey != "" {
		adapter := anthropic.New(apiKey)
		for _, a := range m.Agents {
			llms[a.Model] = adapter
		}
	}

	e, err := engine.Load(m, engine.Config{
		Tools:          tools,
		LLMs:           llms,
		Deterministics: passthroughRegistry{},
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	if logger != nil {
		if _, err := infraevents.AttachLoggingSink(e.Bus, logger.With("component", "events")); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// passthroughRegistry binds every deterministic node id to an identity
// function. The manifest format has no way to declare deterministic node
// business logic (unlike tools and agents, which name an id the CLI can
// bind an adapter to) — that logic belongs to whatever application embeds
// internal/engine as a library and supplies its own DeterministicRegistry.
// The reference CLI only runs manifests whose deterministic nodes are
// pass-through routing scaffolding around agent nodes.
type passthroughRegistry struct{}

func (passthroughRegistry) Func(string) (executor.DeterministicFunc, bool) {
	return func(_ context.Context, input map[string]interface{}, _ *econtext.Package, _ executor.NodeConfig) (map[string]interface{}, error) {
		return input, nil
	}, true
}
