package executor

import (
	"context"
	"time"

	"github.com/agentdag/agentdag/internal/dag"
	domain "github.com/agentdag/agentdag/internal/domain/engine"
	"github.com/agentdag/agentdag/internal/ports"
	"github.com/agentdag/agentdag/internal/task"
)

// fail records and emits a failed NodeExecutionRecord with no captured tool
// calls, wrapping cause as an *engine.Error of kind.
func (e *Executor) fail(ctx context.Context, t *task.Task, node *dag.Node, input map[string]interface{}, start time.Time, kind domain.ErrorKind, cause error) (*task.NodeExecutionRecord, error) {
	return e.failWithTools(ctx, t, node, input, start, kind, cause, nil)
}

func (e *Executor) failWithTools(ctx context.Context, t *task.Task, node *dag.Node, input map[string]interface{}, start time.Time, kind domain.ErrorKind, cause error, toolCalls []task.ToolCallRecord) (*task.NodeExecutionRecord, error) {
	engErr := domain.New(kind, cause.Error(), cause, map[string]interface{}{"node_id": node.ID})

	rec := task.NodeExecutionRecord{
		NodeID: node.ID, Input: input, Status: "failed",
		StartedAt: start, EndedAt: time.Now(), ToolCalls: toolCalls,
		ErrorKind: string(kind), ErrorMsg: engErr.Error(),
	}
	if recErr := e.Tasks.RecordExecution(t, rec); recErr != nil {
		return nil, recErr
	}
	e.publish(ctx, ports.EventNodeFailed, t.TaskID, node.ID, map[string]interface{}{"error_kind": string(kind), "error": engErr.Error()})
	return &rec, engErr
}
