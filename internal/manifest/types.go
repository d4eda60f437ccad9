// Package manifest holds the on-disk declaration of a workflow: agents,
// tools, schemas, context profiles, and the node/edge graph itself. The core
// engine never reads YAML directly — it only ever sees a *Manifest that has
// already passed ValidateManifest and dag.Build.
package manifest

// Manifest is the full parsed declaration of one workflow.
type Manifest struct {
	Version         string              `yaml:"version" validate:"required,semver"`
	Name            string              `yaml:"name" validate:"required,min=1,max=100"`
	Description     string              `yaml:"description,omitempty"`
	Agents          []Agent             `yaml:"agents,omitempty" validate:"omitempty,dive"`
	Tools           []Tool              `yaml:"tools,omitempty" validate:"omitempty,dive"`
	Schemas         []Schema            `yaml:"schemas,omitempty" validate:"omitempty,dive"`
	Nodes           []Node              `yaml:"nodes" validate:"required,min=1,dive"`
	Edges           []Edge              `yaml:"edges" validate:"omitempty,dive"`
	ContextProfiles []ContextProfile    `yaml:"context_profiles,omitempty" validate:"omitempty,dive"`
	Memory          Memory              `yaml:"memory,omitempty"`
	Scheduler       Scheduler           `yaml:"scheduler,omitempty"`
}

// Agent declares one LLM-backed actor nodes of kind=agent may bind to.
type Agent struct {
	ID             string  `yaml:"id" validate:"required,manifest_id"`
	Model          string  `yaml:"model" validate:"required,provider_model"`
	Temperature    float64 `yaml:"temperature,omitempty" validate:"omitempty,min=0,max=1"`
	MaxTokens      int     `yaml:"max_tokens,omitempty" validate:"omitempty,min=1"`
	TopP           float64 `yaml:"top_p,omitempty" validate:"omitempty,min=0,max=1"`
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty" validate:"omitempty,min=1"`
}

// Tool declares one narrow (inputs)->(outputs) function a node may invoke,
// gated by the permission set it's granted here.
type Tool struct {
	ID           string `yaml:"id" validate:"required,manifest_id"`
	SchemaIn     string `yaml:"schema_in,omitempty"`
	SchemaOut    string `yaml:"schema_out,omitempty"`
	AllowNetwork bool   `yaml:"allow_network,omitempty"`
	AllowShell   bool   `yaml:"allow_shell,omitempty"`
	RootPath     string `yaml:"root_path,omitempty"`
	Enabled      bool   `yaml:"enabled" validate:"-"`
}

// Schema declares a named JSON Schema document usable as a node's
// schema_in/schema_out or a tool's input/output contract.
type Schema struct {
	ID     string         `yaml:"id" validate:"required,manifest_id"`
	Body   map[string]any `yaml:"body" validate:"required"`
}

// Node mirrors dag.Node plus the manifest-only id references (agent_id,
// schema ids, tool ids) that get resolved at build time.
type Node struct {
	ID                string            `yaml:"id" validate:"required,manifest_id"`
	Kind              string            `yaml:"kind" validate:"required,oneof=deterministic agent"`
	Role              string            `yaml:"role" validate:"required,oneof=start linear decision branch split merge exit"`
	SchemaIn          string            `yaml:"schema_in,omitempty"`
	SchemaOut         string            `yaml:"schema_out,omitempty"`
	Context           string            `yaml:"context,omitempty"`
	AllowedTools      []string          `yaml:"allowed_tools,omitempty"`
	AgentID           string            `yaml:"agent_id,omitempty"`
	ContinueOnFailure bool              `yaml:"continue_on_failure,omitempty"`
	DefaultStart      bool              `yaml:"default_start,omitempty"`
	TimeoutSeconds    int               `yaml:"timeout_seconds,omitempty" validate:"omitempty,min=1"`
	MergePolicy       string            `yaml:"merge_policy,omitempty" validate:"omitempty,oneof=collect_all first_success"`
	Reducer           string            `yaml:"reducer,omitempty"`
	ExpectedInbound   int               `yaml:"expected_inbound,omitempty" validate:"omitempty,min=1"`
	MatchMode         string            `yaml:"match_mode,omitempty" validate:"omitempty,oneof=equal substring"`
	Splitters         map[string]string `yaml:"splitters,omitempty"`
}

// Edge is a directed, optionally labelled transition between two node ids.
type Edge struct {
	From  string `yaml:"from" validate:"required"`
	To    string `yaml:"to" validate:"required"`
	Label string `yaml:"label,omitempty"`
}

// ContextProfile is an assembly policy a node's context spec may name.
type ContextProfile struct {
	ID                   string             `yaml:"id" validate:"required,manifest_id"`
	TierWeights          map[string]float64 `yaml:"tier_weights" validate:"required"`
	PreferredKinds       []string           `yaml:"preferred_kinds,omitempty"`
	ExcludedKinds        []string           `yaml:"excluded_kinds,omitempty"`
	MinImportance        float64            `yaml:"min_importance,omitempty" validate:"omitempty,min=0,max=1"`
	HeadPreserve         int                `yaml:"head_preserve,omitempty" validate:"omitempty,min=0"`
	TailPreserve         int                `yaml:"tail_preserve,omitempty" validate:"omitempty,min=0"`
	CompressionAllowance float64            `yaml:"compression_allowance,omitempty" validate:"omitempty,min=0,max=1"`
	TokenBudget          int                `yaml:"token_budget" validate:"required,min=1"`
}

// Memory configures the pluggable backend behind the three store tiers.
type Memory struct {
	Backend          string `yaml:"backend,omitempty" validate:"omitempty,oneof=inmemory file bolt"`
	Path             string `yaml:"path,omitempty"`
	ProjectMaxItems  int    `yaml:"project_max_items,omitempty" validate:"omitempty,min=1"`
}

// Scheduler configures the engine driver's queue and merge barriers.
type Scheduler struct {
	MaxQueueSize        int `yaml:"max_queue_size,omitempty" validate:"omitempty,min=1"`
	MergeTimeoutSeconds int `yaml:"merge_timeout_seconds,omitempty" validate:"omitempty,min=1"`
	NodeTimeoutSeconds  int `yaml:"node_timeout_seconds,omitempty" validate:"omitempty,min=1"`
}
