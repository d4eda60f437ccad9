// Package engine is the top-level driver: it owns the task queue, drives
// each task node-by-node through the executor and router, and joins
// branch/split fan-out at merge barriers. It is the single orchestration
// entry point a CLI command or embedding application calls into, running a
// task's nodes to completion with per-fan-out concurrency. A failing fan-out
// child does not cancel its siblings; the merge policy (or, without a merge,
// the branch/split aggregation rule) decides the parent's outcome.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/agentdag/agentdag/internal/dag"
	domain "github.com/agentdag/agentdag/internal/domain/engine"
	"github.com/agentdag/agentdag/internal/executor"
	"github.com/agentdag/agentdag/internal/llm"
	"github.com/agentdag/agentdag/internal/manifest"
	"github.com/agentdag/agentdag/internal/memory"
	"github.com/agentdag/agentdag/internal/memory/boltstore"
	"github.com/agentdag/agentdag/internal/memory/filestore"
	"github.com/agentdag/agentdag/internal/memory/inmemory"
	"github.com/agentdag/agentdag/internal/override"
	"github.com/agentdag/agentdag/internal/ports"
	"github.com/agentdag/agentdag/internal/router"
	"github.com/agentdag/agentdag/internal/task"
	"github.com/agentdag/agentdag/internal/telemetry"
	"github.com/agentdag/agentdag/internal/tool"
)

// Config carries every collaborator Load needs that isn't derivable from
// the manifest itself: the concrete tool/LLM/deterministic-function
// registries and a logger. Splitters/Reducers/Logger are optional.
type Config struct {
	Tools          tool.Registry
	LLMs           llm.Registry
	Deterministics executor.DeterministicRegistry
	Splitters      router.SplitterRegistry
	Reducers       router.ReducerRegistry
	Logger         ports.Logger
}

// Engine binds one loaded manifest to the collaborators that run it.
type Engine struct {
	Graph     *dag.DAG
	Manifest  *manifest.Manifest
	Tasks     *task.Manager
	Executor  *executor.Executor
	Router    *router.Router
	Overrides *override.Store
	Bus       *telemetry.Bus
	Logger    ports.Logger

	mu           sync.Mutex
	queue        []string
	maxQueueSize int
}

const defaultMaxQueueSize = 1024

// Load validates an already-parsed manifest, builds its DAG, and wires every
// collaborator the engine needs to run tasks against it.
func Load(m *manifest.Manifest, cfg Config) (*Engine, error) {
	if err := manifest.ValidateManifest(m); err != nil {
		return nil, err
	}
	g, err := m.Build()
	if err != nil {
		return nil, err
	}

	tasks := task.NewManager()
	overrides := override.New(m)
	bus := telemetry.NewBus()

	mem, err := newMemoryStores(m)
	if err != nil {
		return nil, err
	}

	exec, err := executor.New(g, m, cfg.Tools, cfg.LLMs, cfg.Deterministics, mem, tasks, overrides, bus, cfg.Logger)
	if err != nil {
		return nil, err
	}
	rtr := router.New(g, tasks, cfg.Splitters, cfg.Reducers, bus)

	maxQueueSize := defaultMaxQueueSize
	if m.Scheduler.MaxQueueSize > 0 {
		maxQueueSize = m.Scheduler.MaxQueueSize
	}

	return &Engine{
		Graph: g, Manifest: m, Tasks: tasks, Executor: exec, Router: rtr,
		Overrides: overrides, Bus: bus, Logger: cfg.Logger,
		maxQueueSize: maxQueueSize,
	}, nil
}

// memoryStores implements executor.MemoryStores, lazily opening one store
// per task-tier reference and a singleton for project/global.
type memoryStores struct {
	backend         string
	path            string
	projectMaxItems int

	mu      sync.Mutex
	task    map[string]memory.Store
	project memory.Store
	global  memory.Store
}

func newMemoryStores(m *manifest.Manifest) (*memoryStores, error) {
	backend := m.Memory.Backend
	if backend == "" {
		backend = "inmemory"
	}
	ms := &memoryStores{
		backend:         backend,
		path:            m.Memory.Path,
		projectMaxItems: m.Memory.ProjectMaxItems,
		task:            make(map[string]memory.Store),
	}
	project, err := ms.open("project", "project")
	if err != nil {
		return nil, err
	}
	global, err := ms.open("global", "global")
	if err != nil {
		return nil, err
	}
	ms.project, ms.global = project, global
	return ms, nil
}

func (m *memoryStores) Task(ref string) memory.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.task[ref]; ok {
		return s
	}
	s, err := m.open(ref, "task")
	if err != nil {
		return nil
	}
	m.task[ref] = s
	return s
}

func (m *memoryStores) Project(ref string) memory.Store { return m.project }
func (m *memoryStores) Global(ref string) memory.Store  { return m.global }

func (m *memoryStores) open(ref, tier string) (memory.Store, error) {
	switch m.backend {
	case "file":
		path := filepath.Join(m.path, fmt.Sprintf("%s-%s.jsonl", tier, ref))
		return filestore.Open(path)
	case "bolt":
		path := filepath.Join(m.path, fmt.Sprintf("%s-%s.bolt", tier, ref))
		return boltstore.Open(path)
	default:
		max := 0
		if tier == "project" {
			max = m.projectMaxItems
		}
		return inmemory.New(max), nil
	}
}

func (e *Engine) publish(ctx context.Context, eventType, taskID, nodeID string, payload map[string]interface{}) {
	if e.Bus == nil {
		return
	}
	_ = e.Bus.Publish(ctx, telemetry.NewEvent(eventType, taskID, nodeID, payload))
}

// Enqueue creates a root task from input and appends it to the FIFO queue.
// It returns ErrQueueFull once the queue holds max_queue_size task ids.
func (e *Engine) Enqueue(spec task.Spec) (*task.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) >= e.maxQueueSize {
		return nil, domain.New(domain.ErrQueueFull, fmt.Sprintf("queue at capacity (%d)", e.maxQueueSize), nil, nil)
	}
	t := e.Tasks.Create(spec)
	e.queue = append(e.queue, t.TaskID)
	e.publish(context.Background(), ports.EventQueued, t.TaskID, "", map[string]interface{}{"queue_depth": len(e.queue)})
	return t, nil
}

// Drain runs every currently-queued task to completion, FIFO, and returns
// all of them. One task's failure does not stop the rest from draining.
func (e *Engine) Drain(ctx context.Context) ([]*task.Task, error) {
	var out []*task.Task
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			break
		}
		id := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		t, ok := e.Tasks.Get(id)
		if !ok {
			continue
		}
		e.publish(ctx, ports.EventDequeued, t.TaskID, "", nil)
		e.runTask(ctx, t)
		out = append(out, t)
	}
	return out, nil
}

// Run creates spec as a root task and drives it to completion immediately;
// the task never enters the FIFO queue. Use Enqueue+Drain for batches; Run for one-shot
// synchronous execution (the CLI's "run" command).
func (e *Engine) Run(ctx context.Context, spec task.Spec) (*task.Task, error) {
	t := e.Tasks.Create(spec)
	e.runTask(ctx, t)
	return t, nil
}

// runTask drives a root task from the graph's default start node to a
// terminal status, publishing task_started/task_completed/task_failed.
func (e *Engine) runTask(ctx context.Context, t *task.Task) {
	start, ok := e.Graph.Node(e.Graph.DefaultStart())
	if !ok {
		_ = e.Tasks.SetStatus(t, task.StatusFailed)
		return
	}
	_ = e.Tasks.SetLifecycle(t, task.LifecycleActive)
	_ = e.Tasks.SetStatus(t, task.StatusRunning)
	e.publish(ctx, ports.EventTaskStarted, t.TaskID, start.ID, map[string]interface{}{"input": t.Spec.Input})

	result := e.drive(ctx, t, start, t.Spec.Input, true)
	if result.Err != nil {
		_ = e.Tasks.SetStatus(t, task.StatusFailed)
		e.publish(ctx, ports.EventTaskFailed, t.TaskID, "", map[string]interface{}{"error": result.Err.Error()})
	} else {
		_ = e.Tasks.SetStatus(t, result.Status)
		evType := ports.EventTaskCompleted
		if result.Status == task.StatusFailed {
			evType = ports.EventTaskFailed
		}
		e.publish(ctx, evType, t.TaskID, "", map[string]interface{}{"status": string(result.Status)})
	}
	_ = e.Tasks.SetLifecycle(t, task.LifecycleCompleted)
	e.Overrides.ClearTask(t.TaskID)
}

// Subscribe forwards to the underlying event bus.
func (e *Engine) Subscribe(eventType string, handler ports.EventHandler) (ports.Subscription, error) {
	return e.Bus.Subscribe(eventType, handler)
}

// Inspection is a structured, read-only snapshot of one task for the
// engine's "inspect" API: current state plus its event history.
type Inspection struct {
	Task   task.Task
	Events []telemetry.Event
}

// Inspect returns taskID's current snapshot plus every event published
// about it so far.
func (e *Engine) Inspect(taskID string) (Inspection, error) {
	t, ok := e.Tasks.Get(taskID)
	if !ok {
		return Inspection{}, domain.Validationf("unknown task id %q", taskID)
	}
	var events []telemetry.Event
	for _, ev := range e.Bus.History() {
		if ev.TaskID == taskID {
			events = append(events, ev)
		}
	}
	return Inspection{Task: t.Snapshot(), Events: events}, nil
}

// SetAgentOverride, SetToolOverride, SetNodeOverride delegate to the
// engine's override store; they're exposed here so a CLI/API layer never
// needs to reach into internal/override directly.
func (e *Engine) SetAgentOverride(scope override.Scope, taskID, agentID string, patch override.AgentOverride) error {
	return e.Overrides.SetAgentOverride(scope, taskID, agentID, patch)
}

func (e *Engine) SetToolOverride(scope override.Scope, taskID, toolID string, enabled bool) error {
	return e.Overrides.SetToolOverride(scope, taskID, toolID, enabled)
}

func (e *Engine) SetNodeOverride(scope override.Scope, taskID, nodeID string, timeoutSeconds int) error {
	return e.Overrides.SetNodeOverride(scope, taskID, nodeID, timeoutSeconds)
}

// Checkpoint and Restore delegate to the task manager for crash recovery:
// serializing and reloading a task's full state (input, history, routing
// trace). Restore registers the task with the manager again; it does not
// resume execution.
func (e *Engine) Checkpoint(taskID string) ([]byte, error) {
	t, ok := e.Tasks.Get(taskID)
	if !ok {
		return nil, domain.Validationf("unknown task id %q", taskID)
	}
	data, err := e.Tasks.Checkpoint(t)
	if err == nil {
		e.publish(context.Background(), ports.EventCheckpointSaved, taskID, "", nil)
	}
	return data, err
}

func (e *Engine) Restore(data []byte) (*task.Task, error) {
	t, err := e.Tasks.Restore(data)
	if err == nil {
		e.publish(context.Background(), ports.EventCheckpointRestored, t.TaskID, "", nil)
	}
	return t, err
}
