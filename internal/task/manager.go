package task

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	domain "github.com/agentdag/agentdag/internal/domain/engine"
)

// Manager owns every task an engine instance creates. It is the only
// component permitted to mutate a Task: everything else reads Task values
// returned by its methods.
type Manager struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewManager constructs an empty task manager.
func NewManager() *Manager {
	return &Manager{tasks: make(map[string]*Task)}
}

// Create provisions a fresh root task: new id, status=pending,
// lifecycle=created, fresh memory references in all three tiers.
func (m *Manager) Create(spec Spec) *Task {
	id := newTaskID(spec.Mode)
	t := &Task{
		TaskID:           id,
		Spec:             spec,
		Status:           StatusPending,
		Lifecycle:        LifecycleCreated,
		TaskMemoryRef:    id,
		ProjectMemoryRef: "project",
		GlobalMemoryRef:  "global",
		Kind:             KindRoot,
	}
	m.put(t)
	return t
}

// CreateClone spawns a branch child: same spec, new id linked to parent,
// fresh task-tier memory namespace, project/global refs inherited.
func (m *Manager) CreateClone(parent *Task, branchLabel string) *Task {
	id := newTaskID(parent.Spec.Mode)
	t := &Task{
		TaskID:           id,
		Spec:             parent.Spec,
		Status:           StatusPending,
		Lifecycle:        LifecycleCreated,
		TaskMemoryRef:    id,
		ProjectMemoryRef: parent.ProjectMemoryRef,
		GlobalMemoryRef:  parent.GlobalMemoryRef,
		ParentTaskID:     parent.TaskID,
		Kind:             KindClone,
		BranchLabel:      branchLabel,
	}
	m.put(t)
	return t
}

// CreateSubtask spawns a split child: as CreateClone, but spec.input is
// replaced with the split-specific input.
func (m *Manager) CreateSubtask(parent *Task, subtaskInput map[string]interface{}) *Task {
	id := newTaskID(parent.Spec.Mode)
	spec := parent.Spec
	spec.Input = subtaskInput
	t := &Task{
		TaskID:           id,
		Spec:             spec,
		Status:           StatusPending,
		Lifecycle:        LifecycleCreated,
		TaskMemoryRef:    id,
		ProjectMemoryRef: parent.ProjectMemoryRef,
		GlobalMemoryRef:  parent.GlobalMemoryRef,
		ParentTaskID:     parent.TaskID,
		Kind:             KindSubtask,
	}
	m.put(t)
	return t
}

func (m *Manager) put(t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.TaskID] = t
}

// Get returns the task with the given id, or (nil, false).
func (m *Manager) Get(taskID string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	return t, ok
}

// RecordExecution appends rec to t's history and updates current_output and
// current_node_id. It fails if t has already reached a terminal status.
func (m *Manager) RecordExecution(t *Task, rec NodeExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.Status.IsTerminal() {
		return domain.New(domain.ErrInternal, "cannot record execution on a terminal task", nil, map[string]interface{}{"task_id": t.TaskID})
	}

	t.History = append(t.History, rec)
	t.CurrentOutput = rec.Output
	t.CurrentNodeID = rec.NodeID
	return nil
}

// RecordRouting appends a routing_trace entry. Unlike RecordExecution it
// does not check the task's status.
func (m *Manager) RecordRouting(t *Task, decision RoutingDecision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.RoutingTrace = append(t.RoutingTrace, decision)
}

// SetStatus transitions t to status. Once t is terminal, further calls fail
// except for idempotent re-application of the same terminal status.
func (m *Manager) SetStatus(t *Task, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.Status.IsTerminal() && t.Status != status {
		return domain.New(domain.ErrInternal, "cannot change status of a terminal task", nil, map[string]interface{}{"task_id": t.TaskID, "from": t.Status, "to": status})
	}
	t.Status = status
	return nil
}

// SetLifecycle transitions t's lifecycle marker.
func (m *Manager) SetLifecycle(t *Task, lifecycle Lifecycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Lifecycle = lifecycle
	return nil
}

// checkpointEnvelope is the JSON wire shape for Checkpoint/Restore.
type checkpointEnvelope struct {
	Version string `json:"version"`
	Task    Task   `json:"task"`
}

const checkpointVersion = "1.0"

// Checkpoint serializes t for crash recovery. Restoring the result does not
// resume execution: Restore only registers the task with the manager.
func (m *Manager) Checkpoint(t *Task) ([]byte, error) {
	env := checkpointEnvelope{Version: checkpointVersion, Task: t.Snapshot()}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, domain.New(domain.ErrInternal, "checkpoint serialization failed", err, nil)
	}
	return data, nil
}

// Restore rebuilds a Task from a Checkpoint payload and registers it with
// the manager so later Get/RecordExecution calls find it.
func (m *Manager) Restore(data []byte) (*Task, error) {
	var env checkpointEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, domain.New(domain.ErrInternal, "checkpoint deserialization failed", err, nil)
	}
	if env.Version != checkpointVersion {
		return nil, domain.New(domain.ErrInternal, fmt.Sprintf("unsupported checkpoint version %q", env.Version), nil, nil)
	}
	t := env.Task
	m.put(&t)
	return &t, nil
}

func newTaskID(hint string) string {
	if hint == "" {
		hint = "task"
	}
	return fmt.Sprintf("task-%s-%s", hint, uuid.NewString()[:8])
}
