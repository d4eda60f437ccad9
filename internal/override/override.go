// Package override implements a layered parameter override: task > project
// > global > manifest default. Overrides are validated against manifest
// ceilings and the manifest's own permission grants at set time, not at
// resolve time, so a bad override never silently degrades into an engine
// default.
package override

import (
	"sync"

	"github.com/go-playground/validator/v10"

	domain "github.com/agentdag/agentdag/internal/domain/engine"
	"github.com/agentdag/agentdag/internal/manifest"
)

// Scope identifies where an override was set and, by construction, its
// precedence: Task beats Project beats Global beats the manifest default.
type Scope string

const (
	ScopeTask    Scope = "task"
	ScopeProject Scope = "project"
	ScopeGlobal  Scope = "global"
)

// AgentOverride patches a subset of an agent's hyperparameters. Nil fields
// are left at the next-lower scope's value.
type AgentOverride struct {
	Model          *string  `validate:"omitempty"`
	Temperature    *float64 `validate:"omitempty,min=0,max=1"`
	MaxTokens      *int     `validate:"omitempty,min=1"`
	TopP           *float64 `validate:"omitempty,min=0,max=1"`
	TimeoutSeconds *int     `validate:"omitempty,min=1"`
}

// ToolOverride patches a tool's enabled flag. It is the only overridable
// tool parameter this layer supports.
type ToolOverride struct {
	Enabled *bool
}

// NodeOverride patches a node's timeout.
type NodeOverride struct {
	TimeoutSeconds *int `validate:"omitempty,min=1"`
}

// layer is one scope's set of patches.
type layer struct {
	agents map[string]AgentOverride
	tools  map[string]ToolOverride
	nodes  map[string]NodeOverride
}

func newLayer() *layer {
	return &layer{
		agents: make(map[string]AgentOverride),
		tools:  make(map[string]ToolOverride),
		nodes:  make(map[string]NodeOverride),
	}
}

// Store holds the three override layers plus the manifest they constrain
// against. One Store is shared by every task an engine instance runs;
// task-scoped layers are addressed by task id and cleared on terminal state.
type Store struct {
	mu       sync.RWMutex
	manifest *manifest.Manifest
	task     map[string]*layer
	project  *layer
	global   *layer
	validate *validator.Validate
}

// New constructs a Store bound to m's declared agents/tools/nodes; every
// Set call below is checked against m's ceilings and permission grants.
func New(m *manifest.Manifest) *Store {
	return &Store{
		manifest: m,
		task:     make(map[string]*layer),
		project:  newLayer(),
		global:   newLayer(),
		validate: validator.New(),
	}
}

func (s *Store) layerFor(scope Scope, taskID string) *layer {
	switch scope {
	case ScopeTask:
		l, ok := s.task[taskID]
		if !ok {
			l = newLayer()
			s.task[taskID] = l
		}
		return l
	case ScopeProject:
		return s.project
	default:
		return s.global
	}
}

// SetAgentOverride validates patch against struct tags, the manifest's
// declared max_tokens ceiling, and records it at scope.
func (s *Store) SetAgentOverride(scope Scope, taskID, agentID string, patch AgentOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.manifest.Agent(agentID)
	if !ok {
		return domain.Validationf("override: unknown agent id %q", agentID)
	}
	if err := s.validate.Struct(patch); err != nil {
		return domain.New(domain.ErrValidation, "invalid agent override", err, map[string]interface{}{"agent_id": agentID})
	}
	if patch.MaxTokens != nil && agent.MaxTokens > 0 && *patch.MaxTokens > agent.MaxTokens {
		return domain.Validationf("override: max_tokens %d exceeds manifest ceiling %d for agent %q", *patch.MaxTokens, agent.MaxTokens, agentID)
	}

	s.layerFor(scope, taskID).agents[agentID] = patch
	return nil
}

// SetToolOverride validates that enable requests never escalate past a
// manifest refusal: a tool the manifest declares disabled can never be
// overridden on, only a manifest-enabled tool can be overridden off.
func (s *Store) SetToolOverride(scope Scope, taskID, toolID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tool, ok := s.manifest.Tool(toolID)
	if !ok {
		return domain.Validationf("override: unknown tool id %q", toolID)
	}
	if enabled && !tool.Enabled {
		return domain.New(domain.ErrSecurity, "override cannot enable a tool the manifest disabled", nil, map[string]interface{}{"tool_id": toolID})
	}

	s.layerFor(scope, taskID).tools[toolID] = ToolOverride{Enabled: &enabled}
	return nil
}

// SetNodeOverride patches a node's timeout.
func (s *Store) SetNodeOverride(scope Scope, taskID, nodeID string, timeoutSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, n := range s.manifest.Nodes {
		if n.ID == nodeID {
			found = true
			break
		}
	}
	if !found {
		return domain.Validationf("override: unknown node id %q", nodeID)
	}
	patch := NodeOverride{TimeoutSeconds: &timeoutSeconds}
	if err := s.validate.Struct(patch); err != nil {
		return domain.New(domain.ErrValidation, "invalid node override", err, map[string]interface{}{"node_id": nodeID})
	}

	s.layerFor(scope, taskID).nodes[nodeID] = patch
	return nil
}

// ResolvedAgent is an agent's hyperparameters after precedence resolution.
type ResolvedAgent struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	TopP           float64
	TimeoutSeconds int
}

// ResolveAgent merges task > project > global > manifest for agentID.
func (s *Store) ResolveAgent(taskID, agentID string) (ResolvedAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.manifest.Agent(agentID)
	if !ok {
		return ResolvedAgent{}, domain.Validationf("override: unknown agent id %q", agentID)
	}
	resolved := ResolvedAgent{
		Model:          agent.Model,
		Temperature:    agent.Temperature,
		MaxTokens:      agent.MaxTokens,
		TopP:           agent.TopP,
		TimeoutSeconds: agent.TimeoutSeconds,
	}

	for _, l := range s.orderedLayers(taskID) {
		patch, ok := l.agents[agentID]
		if !ok {
			continue
		}
		applyAgentPatch(&resolved, patch)
	}
	return resolved, nil
}

func applyAgentPatch(resolved *ResolvedAgent, patch AgentOverride) {
	if patch.Model != nil {
		resolved.Model = *patch.Model
	}
	if patch.Temperature != nil {
		resolved.Temperature = *patch.Temperature
	}
	if patch.MaxTokens != nil {
		resolved.MaxTokens = *patch.MaxTokens
	}
	if patch.TopP != nil {
		resolved.TopP = *patch.TopP
	}
	if patch.TimeoutSeconds != nil {
		resolved.TimeoutSeconds = *patch.TimeoutSeconds
	}
}

// ResolveToolEnabled merges task > project > global > manifest for toolID.
func (s *Store) ResolveToolEnabled(taskID, toolID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tool, ok := s.manifest.Tool(toolID)
	if !ok {
		return false, domain.Validationf("override: unknown tool id %q", toolID)
	}
	enabled := tool.Enabled
	for _, l := range s.orderedLayers(taskID) {
		if patch, ok := l.tools[toolID]; ok && patch.Enabled != nil {
			enabled = *patch.Enabled
		}
	}
	return enabled, nil
}

// ResolveNodeTimeoutSeconds merges task > project > global > manifest,
// falling back to fallback (the engine/scheduler default) when nothing set
// a timeout anywhere.
func (s *Store) ResolveNodeTimeoutSeconds(taskID, nodeID string, fallback int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resolved := fallback
	for _, n := range s.manifest.Nodes {
		if n.ID == nodeID && n.TimeoutSeconds > 0 {
			resolved = n.TimeoutSeconds
		}
	}
	for _, l := range s.orderedLayers(taskID) {
		if patch, ok := l.nodes[nodeID]; ok && patch.TimeoutSeconds != nil {
			resolved = *patch.TimeoutSeconds
		}
	}
	return resolved
}

// orderedLayers returns layers lowest-to-highest precedence so later entries
// win when applied in order: global, project, task.
func (s *Store) orderedLayers(taskID string) []*layer {
	layers := []*layer{s.global, s.project}
	if l, ok := s.task[taskID]; ok {
		layers = append(layers, l)
	}
	return layers
}

// ClearTask drops a task's override layer; callers do this on terminal state.
func (s *Store) ClearTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.task, taskID)
}
