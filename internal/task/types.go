// Package task implements the engine's task lifecycle: creation, clone and
// subtask lineage, append-only history, and checkpoint/restore for crash
// recovery.
package task

import "time"

// Status is a task's execution state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further mutation of the owning task is
// permitted once it reaches this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Lifecycle tracks a task's position relative to engine bookkeeping,
// independent of its execution Status.
type Lifecycle string

const (
	LifecycleCreated   Lifecycle = "created"
	LifecycleActive    Lifecycle = "active"
	LifecycleCompleted Lifecycle = "completed"
)

// Kind distinguishes a root (user-initiated) task from the children a
// branch or split node spawns.
type Kind string

const (
	KindRoot    Kind = "root"
	KindClone   Kind = "clone"
	KindSubtask Kind = "subtask"
)

// Spec is the task's immutable input.
type Spec struct {
	Input    map[string]interface{}
	Mode     string
	Metadata map[string]interface{}
}

// ToolCallRecord captures one tool invocation made during a node's execution.
type ToolCallRecord struct {
	CallID    string
	ToolID    string
	Inputs    map[string]interface{}
	Output    map[string]interface{}
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}

// NodeExecutionRecord is one entry in a task's append-only history.
type NodeExecutionRecord struct {
	NodeID    string
	Input     map[string]interface{}
	Output    map[string]interface{}
	Status    string // "succeeded" | "failed"
	StartedAt time.Time
	EndedAt   time.Time
	ToolCalls []ToolCallRecord
	ErrorKind string
	ErrorMsg  string
}

// RoutingDecision is one entry in a task's routing_trace.
type RoutingDecision struct {
	NodeID      string
	DecisionKey string
	EdgeFrom    string
	EdgeTo      string
	EdgeLabel   string
	Timestamp   time.Time
}

// Task is the unit of execution. Its exported fields are safe to read
// directly; all mutation must go through Manager so history stays
// append-only and terminal tasks stay immutable.
type Task struct {
	TaskID           string
	Spec             Spec
	Status           Status
	Lifecycle        Lifecycle
	CurrentNodeID    string
	History          []NodeExecutionRecord
	RoutingTrace     []RoutingDecision
	CurrentOutput    map[string]interface{}
	TaskMemoryRef    string
	ProjectMemoryRef string
	GlobalMemoryRef  string
	ParentTaskID     string
	Kind             Kind
	BranchLabel      string
}

// Snapshot returns a copy of t with its own History and RoutingTrace
// slices. Maps (Spec.Input, CurrentOutput, and those inside the records)
// are shared with t, not copied.
func (t *Task) Snapshot() Task {
	cp := *t
	cp.History = append([]NodeExecutionRecord(nil), t.History...)
	cp.RoutingTrace = append([]RoutingDecision(nil), t.RoutingTrace...)
	return cp
}
