package ports

import (
	"context"

	"github.com/agentdag/agentdag/internal/manifest"
)

// ManifestLoader loads workflow manifests from an external source such as
// the filesystem, an embedded asset, or a remote service. Implementations
// must be deterministic, respect context cancellation, and translate
// infrastructure failures into domain-friendly error codes.
//
// Error mapping expectations (internal/domain/engine kinds):
//   - io/fs.ErrNotExist, schema or YAML parsing failures, graph validation
//     failures and context cancellation → ErrValidation
//   - unexpected I/O issues → ErrInternal with wrapped cause
//
// ManifestLoader is consumed by the CLI (cmd/agentdag); the engine, dag and
// manifest packages never depend on concrete infrastructure concerns.
type ManifestLoader interface {
	// Load materialises a fully validated manifest from the provided
	// location. Implementations should:
	//   1. Respect ctx for cancellation/deadlines prior to expensive work.
	//   2. Parse the source into manifest structs without mutating global state.
	//   3. Return rich errors containing contextual metadata (path, line).
	Load(ctx context.Context, path string) (*manifest.Manifest, error)

	// Validate performs the same parse-and-validate pass as Load, DAG build
	// included, without returning the manifest, so the CLI can surface errors
	// quickly (e.g. `agentdag validate workflow.yaml`). Implementations must
	// avoid side effects.
	Validate(ctx context.Context, path string) error
}
