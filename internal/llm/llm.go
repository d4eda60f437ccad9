// Package llm defines the narrow interface agent nodes use to call a
// language model. The core treats model identifiers as opaque
// "provider/model" strings; authentication, transport, and retries belong
// entirely to the adapter.
package llm

import "context"

// Hyperparameters are the resolved (override > manifest) generation
// parameters for one call.
type Hyperparameters struct {
	Temperature    float64
	MaxTokens      int
	TopP           float64
	TimeoutSeconds int
}

// Adapter generates one completion for prompt under modelID.
type Adapter interface {
	Generate(ctx context.Context, modelID string, prompt string, params Hyperparameters) (string, error)
}

// Registry resolves a declared agent's model id to its bound Adapter. In
// practice one adapter usually serves every model from a given provider
// prefix, but the interface stays per-call so a manifest can mix providers.
type Registry interface {
	Adapter(modelID string) (Adapter, bool)
}

// MapRegistry is the reference Registry: a static id->Adapter map built once
// at engine construction time from the manifest's agent declarations.
type MapRegistry map[string]Adapter

func (r MapRegistry) Adapter(modelID string) (Adapter, bool) {
	a, ok := r[modelID]
	return a, ok
}
