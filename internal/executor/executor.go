// Package executor runs the six-step node invocation lifecycle: resolve
// config, validate input, assemble context, invoke, validate output (with
// bounded repair), record and emit.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	econtext "github.com/agentdag/agentdag/internal/context"
	"github.com/agentdag/agentdag/internal/dag"
	domain "github.com/agentdag/agentdag/internal/domain/engine"
	"github.com/agentdag/agentdag/internal/llm"
	"github.com/agentdag/agentdag/internal/manifest"
	"github.com/agentdag/agentdag/internal/memory"
	"github.com/agentdag/agentdag/internal/override"
	"github.com/agentdag/agentdag/internal/ports"
	"github.com/agentdag/agentdag/internal/task"
	"github.com/agentdag/agentdag/internal/telemetry"
	"github.com/agentdag/agentdag/internal/tool"
)

// DeterministicFunc is the bound implementation of a deterministic node.
type DeterministicFunc func(ctx context.Context, input map[string]interface{}, pkg *econtext.Package, config NodeConfig) (map[string]interface{}, error)

// DeterministicRegistry resolves a node id to its bound function.
type DeterministicRegistry interface {
	Func(nodeID string) (DeterministicFunc, bool)
}

// MapDeterministicRegistry is the reference DeterministicRegistry.
type MapDeterministicRegistry map[string]DeterministicFunc

func (r MapDeterministicRegistry) Func(nodeID string) (DeterministicFunc, bool) {
	f, ok := r[nodeID]
	return f, ok
}

// MemoryStores resolves the three tier stores for a task.
type MemoryStores interface {
	Task(taskMemoryRef string) memory.Store
	Project(projectMemoryRef string) memory.Store
	Global(globalMemoryRef string) memory.Store
}

// NodeConfig is the resolved, override-applied configuration handed to an
// invocation.
type NodeConfig struct {
	NodeID       string
	Timeout      time.Duration
	AllowedTools []string
	Agent        *override.ResolvedAgent
}

// Executor binds every collaborator a node invocation needs.
type Executor struct {
	Graph          *dag.DAG
	Manifest       *manifest.Manifest
	Tools          tool.Registry
	LLMs           llm.Registry
	Deterministics DeterministicRegistry
	Memories       MemoryStores
	Tasks          *task.Manager
	Overrides      *override.Store
	Bus            ports.EventPublisher
	Logger         ports.Logger

	schemas map[string]*jsonschema.Schema
}

const defaultNodeTimeoutSeconds = 30

// defaultGlobalProfileBudget bounds the built-in profile used when a node's
// context spec is "global" rather than naming a declared profile.
const defaultGlobalProfileBudget = 2000

// New constructs an Executor and compiles every declared schema up front so
// a malformed schema fails at load time, not mid-run.
func New(g *dag.DAG, m *manifest.Manifest, tools tool.Registry, llms llm.Registry, dets DeterministicRegistry, mem MemoryStores, tasks *task.Manager, overrides *override.Store, bus ports.EventPublisher, logger ports.Logger) (*Executor, error) {
	compiler := jsonschema.NewCompiler()
	for _, s := range m.Schemas {
		data, err := json.Marshal(s.Body)
		if err != nil {
			return nil, domain.New(domain.ErrValidation, fmt.Sprintf("schema %q is not serializable", s.ID), err, nil)
		}
		if err := compiler.AddResource(s.ID, bytes.NewReader(data)); err != nil {
			return nil, domain.New(domain.ErrValidation, fmt.Sprintf("schema %q is invalid", s.ID), err, nil)
		}
	}
	schemas := make(map[string]*jsonschema.Schema, len(m.Schemas))
	for _, s := range m.Schemas {
		compiled, err := compiler.Compile(s.ID)
		if err != nil {
			return nil, domain.New(domain.ErrValidation, fmt.Sprintf("schema %q failed to compile", s.ID), err, nil)
		}
		schemas[s.ID] = compiled
	}

	return &Executor{
		Graph: g, Manifest: m, Tools: tools, LLMs: llms, Deterministics: dets,
		Memories: mem, Tasks: tasks, Overrides: overrides, Bus: bus, Logger: logger,
		schemas: schemas,
	}, nil
}

func (e *Executor) publish(ctx context.Context, eventType, taskID, nodeID string, payload map[string]interface{}) {
	if e.Bus == nil {
		return
	}
	_ = e.Bus.Publish(ctx, telemetry.NewEvent(eventType, taskID, nodeID, payload))
}

// Execute runs the full six-step lifecycle for one node against t, using
// input as the node's input payload. The returned record has already been
// appended to t's history. A non-nil error means the node failed; the
// caller (the engine/router) decides whether continue_on_failure keeps the
// task alive.
func (e *Executor) Execute(ctx context.Context, t *task.Task, nodeID string, input map[string]interface{}) (*task.NodeExecutionRecord, error) {
	node, ok := e.Graph.Node(nodeID)
	if !ok {
		return nil, domain.Routingf("unknown node %q", nodeID)
	}
	start := time.Now()

	// Step 1: resolve config.
	config, err := e.resolveConfig(t.TaskID, node)
	if err != nil {
		return e.fail(ctx, t, node, input, start, domain.ErrValidation, err)
	}
	e.publish(ctx, ports.EventNodeStarted, t.TaskID, nodeID, map[string]interface{}{"input": input})

	invokeCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	// Step 2: validate input.
	if node.SchemaIn != "" {
		if err := e.validateAgainst(node.SchemaIn, input); err != nil {
			return e.fail(ctx, t, node, input, start, domain.ErrValidation, err)
		}
	}

	// Step 3: assemble context.
	pkg, err := e.assembleContext(invokeCtx, t, node)
	if err != nil {
		return e.fail(ctx, t, node, input, start, domain.ErrContextDegraded, err)
	}
	if pkg != nil {
		evType := ports.EventContextAssembled
		if pkg.Degraded {
			evType = ports.EventContextDegraded
		}
		e.publish(ctx, evType, t.TaskID, nodeID, map[string]interface{}{
			"profile_id": pkg.ProfileID, "total_cost": pkg.TotalCost, "item_count": len(pkg.Items),
		})
	}

	// Step 4: invoke.
	raw, output, toolCalls, invokeErr := e.invoke(invokeCtx, t, node, config, input, pkg)
	if invokeErr != nil {
		kind := domain.KindOf(invokeErr)
		if kind == domain.ErrInternal {
			kind = domain.ErrAgent
			if node.Kind == dag.KindDeterministic {
				kind = domain.ErrTool
			}
		}
		if invokeCtx.Err() == context.DeadlineExceeded {
			kind = domain.ErrTimeout
		}
		return e.failWithTools(ctx, t, node, input, start, kind, invokeErr, toolCalls)
	}

	// Step 5: validate output (with bounded repair for agent nodes).
	if node.SchemaOut != "" {
		repaired, repairErr := e.validateOutputWithRepair(invokeCtx, t, node, config, pkg, input, raw, output)
		if repairErr != nil {
			return e.failWithTools(ctx, t, node, input, start, domain.ErrJSON, repairErr, toolCalls)
		}
		output = repaired
	} else if output == nil {
		output = map[string]interface{}{"text": raw}
	}

	// Step 6: record & emit.
	rec := task.NodeExecutionRecord{
		NodeID: nodeID, Input: input, Output: output, Status: "succeeded",
		StartedAt: start, EndedAt: time.Now(), ToolCalls: toolCalls,
	}
	if err := e.Tasks.RecordExecution(t, rec); err != nil {
		return nil, err
	}
	e.publish(ctx, ports.EventNodeCompleted, t.TaskID, nodeID, map[string]interface{}{"output": output})
	return &rec, nil
}

func (e *Executor) resolveConfig(taskID string, node *dag.Node) (NodeConfig, error) {
	timeoutSeconds := defaultNodeTimeoutSeconds
	if e.Manifest.Scheduler.NodeTimeoutSeconds > 0 {
		timeoutSeconds = e.Manifest.Scheduler.NodeTimeoutSeconds
	}
	if e.Overrides != nil {
		timeoutSeconds = e.Overrides.ResolveNodeTimeoutSeconds(taskID, node.ID, timeoutSeconds)
	}

	config := NodeConfig{
		NodeID:       node.ID,
		Timeout:      time.Duration(timeoutSeconds) * time.Second,
		AllowedTools: node.AllowedTools,
	}
	if node.Kind == dag.KindAgent {
		if e.Overrides == nil {
			return config, domain.Validationf("node %q is an agent node but no override store is configured", node.ID)
		}
		resolved, err := e.Overrides.ResolveAgent(taskID, node.AgentID)
		if err != nil {
			return config, err
		}
		config.Agent = &resolved
	}
	return config, nil
}

func (e *Executor) validateAgainst(schemaID string, value map[string]interface{}) error {
	schema, ok := e.schemas[schemaID]
	if !ok {
		return domain.Validationf("schema %q is not declared in the manifest", schemaID)
	}
	if err := schema.Validate(toValidatable(value)); err != nil {
		return domain.New(domain.ErrValidation, fmt.Sprintf("schema %q validation failed", schemaID), err, nil)
	}
	return nil
}

// toValidatable round-trips through JSON so jsonschema sees plain
// interface{} values (numbers as float64) rather than typed Go structs.
func toValidatable(v map[string]interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func (e *Executor) assembleContext(ctx context.Context, t *task.Task, node *dag.Node) (*econtext.Package, error) {
	spec := string(node.Context)
	var named *econtext.Profile
	if spec != "" && spec != string(dag.ContextNone) && spec != string(dag.ContextGlobal) {
		p, ok := e.Manifest.Profile(spec)
		if !ok {
			return nil, domain.Validationf("context profile %q not declared", spec)
		}
		named = p
	}
	profile := econtext.Resolve(spec, named, defaultGlobalProfileBudget)
	if profile == nil {
		return nil, nil
	}

	snapshots := e.snapshotTiers(ctx, t)
	return econtext.Assemble(t.Spec.Mode, *profile, snapshots, profile.TokenBudget)
}

func (e *Executor) snapshotTiers(ctx context.Context, t *task.Task) []econtext.TierSnapshot {
	tiers := []struct {
		tier memory.Tier
		ref  string
		get  func(string) memory.Store
	}{
		{memory.TierTask, t.TaskMemoryRef, e.Memories.Task},
		{memory.TierProject, t.ProjectMemoryRef, e.Memories.Project},
		{memory.TierGlobal, t.GlobalMemoryRef, e.Memories.Global},
	}

	snapshots := make([]econtext.TierSnapshot, 0, len(tiers))
	for _, tr := range tiers {
		store := tr.get(tr.ref)
		if store == nil {
			snapshots = append(snapshots, econtext.TierSnapshot{Tier: tr.tier, Available: false})
			continue
		}
		items, err := store.ListAll(ctx)
		if err != nil {
			snapshots = append(snapshots, econtext.TierSnapshot{Tier: tr.tier, Available: false})
			continue
		}
		snapshots = append(snapshots, econtext.TierSnapshot{Tier: tr.tier, Items: items, Available: true})
	}
	return snapshots
}

