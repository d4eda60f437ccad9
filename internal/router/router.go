// Package router implements role-dispatch logic: given a node that just
// completed and its output, decide what happens next — advance along a
// single edge, fan out clones/subtasks, or aggregate a merge's inbound
// results.
//
// The router never owns join-barrier state: the engine driver waits for a
// fan-out's children in one call and collects their results before calling
// Merge. Route and Merge only ever see data the engine already collected.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentdag/agentdag/internal/dag"
	domain "github.com/agentdag/agentdag/internal/domain/engine"
	"github.com/agentdag/agentdag/internal/ports"
	"github.com/agentdag/agentdag/internal/task"
	"github.com/agentdag/agentdag/internal/telemetry"
)

// Kind names the shape of a routing Outcome.
type Kind string

const (
	// KindAdvance means the task moves to NextNodeID with NextInput.
	KindAdvance Kind = "advance"
	// KindBranch means Clones were spawned; the parent suspends at this node.
	KindBranch Kind = "branch"
	// KindSplit means Subtasks were spawned; the parent suspends at this node.
	KindSplit Kind = "split"
	// KindTerminal means the task has reached TerminalStatus; there is no
	// further node to run.
	KindTerminal Kind = "terminal"
)

// Outcome is the router's decision for one completed node.
type Outcome struct {
	Kind           Kind
	NextNodeID     string
	NextInput      map[string]interface{}
	Clones         []*task.Task
	Subtasks       []*task.Task
	TerminalStatus task.Status
}

// SplitterFunc partitions a split node's parent output into one subtask's
// input. The default (no function registered for an edge) is identity.
type SplitterFunc func(output map[string]interface{}) (map[string]interface{}, error)

// SplitterRegistry resolves a splitter function id declared in
// RoleConfig.Splitters.
type SplitterRegistry interface {
	Splitter(id string) (SplitterFunc, bool)
}

// MapSplitterRegistry is the reference SplitterRegistry.
type MapSplitterRegistry map[string]SplitterFunc

func (r MapSplitterRegistry) Splitter(id string) (SplitterFunc, bool) {
	f, ok := r[id]
	return f, ok
}

// ReducerFunc aggregates a merge node's collected child outputs into one
// output, used when RoleConfig.MergePolicy names neither built-in policy.
type ReducerFunc func(inputs []map[string]interface{}) (map[string]interface{}, error)

// ReducerRegistry resolves a named reducer declared in RoleConfig.Reducer.
type ReducerRegistry interface {
	Reducer(id string) (ReducerFunc, bool)
}

// MapReducerRegistry is the reference ReducerRegistry.
type MapReducerRegistry map[string]ReducerFunc

func (r MapReducerRegistry) Reducer(id string) (ReducerFunc, bool) {
	f, ok := r[id]
	return f, ok
}

// ChildResult is one clone's or subtask's terminal contribution to a merge.
type ChildResult struct {
	TaskID    string
	EdgeLabel string
	Output    map[string]interface{}
	Succeeded bool
}

// Router applies each node role's dispatch semantics to a completed node's
// output.
type Router struct {
	Graph     *dag.DAG
	Tasks     *task.Manager
	Splitters SplitterRegistry
	Reducers  ReducerRegistry
	Bus       ports.EventPublisher
}

// New constructs a Router bound to g and tasks. splitters/reducers may be nil
// (equivalent to an empty registry) when a manifest declares no split/merge
// nodes needing them.
func New(g *dag.DAG, tasks *task.Manager, splitters SplitterRegistry, reducers ReducerRegistry, bus ports.EventPublisher) *Router {
	if splitters == nil {
		splitters = MapSplitterRegistry{}
	}
	if reducers == nil {
		reducers = MapReducerRegistry{}
	}
	return &Router{Graph: g, Tasks: tasks, Splitters: splitters, Reducers: reducers, Bus: bus}
}

func (r *Router) publish(ctx context.Context, eventType, taskID, nodeID string, payload map[string]interface{}) {
	if r.Bus == nil {
		return
	}
	_ = r.Bus.Publish(ctx, telemetry.NewEvent(eventType, taskID, nodeID, payload))
}

// Route dispatches on node.Role for start/linear/decision/branch/split
// nodes. Merge nodes go through Merge instead, since they need the engine's
// already-collected child results rather than a single output.
func (r *Router) Route(ctx context.Context, t *task.Task, node *dag.Node, output map[string]interface{}) (*Outcome, error) {
	switch node.Role {
	case dag.RoleStart, dag.RoleLinear:
		return r.routeLinear(ctx, t, node, output)
	case dag.RoleDecision:
		return r.routeDecision(ctx, t, node, output)
	case dag.RoleBranch:
		return r.routeBranch(ctx, t, node)
	case dag.RoleSplit:
		return r.routeSplit(ctx, t, node, output)
	case dag.RoleExit:
		return r.routeExit(t), nil
	default:
		return nil, domain.Routingf("node %q has unroutable role %q", node.ID, node.Role)
	}
}

func (r *Router) routeLinear(ctx context.Context, t *task.Task, node *dag.Node, output map[string]interface{}) (*Outcome, error) {
	if len(node.Outbound) == 0 {
		return nil, domain.Routingf("node %q has no outbound edge", node.ID)
	}
	edge := node.Outbound[0]
	r.Tasks.RecordRouting(t, task.RoutingDecision{NodeID: node.ID, EdgeFrom: edge.From, EdgeTo: edge.To, EdgeLabel: edge.Label, Timestamp: time.Now()})
	r.publish(ctx, ports.EventRoutingDecision, t.TaskID, node.ID, map[string]interface{}{"edge_to": edge.To})
	return &Outcome{Kind: KindAdvance, NextNodeID: edge.To, NextInput: output}, nil
}

func (r *Router) routeDecision(ctx context.Context, t *task.Task, node *dag.Node, output map[string]interface{}) (*Outcome, error) {
	key := decisionKey(output)
	mode := node.RoleConfig.MatchMode
	if mode == "" {
		mode = dag.MatchEqual
	}

	for _, edge := range node.Outbound {
		if matches(mode, edge.Label, key) {
			r.Tasks.RecordRouting(t, task.RoutingDecision{NodeID: node.ID, DecisionKey: key, EdgeFrom: edge.From, EdgeTo: edge.To, EdgeLabel: edge.Label, Timestamp: time.Now()})
			r.publish(ctx, ports.EventRoutingDecision, t.TaskID, node.ID, map[string]interface{}{"decision_key": key, "edge_to": edge.To})
			return &Outcome{Kind: KindAdvance, NextNodeID: edge.To, NextInput: output}, nil
		}
	}
	return nil, domain.New(domain.ErrRouting, fmt.Sprintf("no edge on node %q matched decision key %q", node.ID, key), nil, map[string]interface{}{"node_id": node.ID, "decision_key": key})
}

// decisionKey extracts the routing key: an explicit "decision" field, or
// (failing that) the output's own string representation.
func decisionKey(output map[string]interface{}) string {
	if v, ok := output["decision"]; ok {
		return fmt.Sprintf("%v", v)
	}
	return fmt.Sprintf("%v", output)
}

func matches(mode dag.MatchMode, label, key string) bool {
	if mode == dag.MatchSubstring {
		return strings.Contains(key, label)
	}
	return label == key
}

func (r *Router) routeBranch(ctx context.Context, t *task.Task, node *dag.Node) (*Outcome, error) {
	if len(node.Outbound) == 0 {
		return nil, domain.New(domain.ErrBranchEmpty, fmt.Sprintf("branch node %q has no outbound edges", node.ID), nil, map[string]interface{}{"node_id": node.ID})
	}

	clones := make([]*task.Task, 0, len(node.Outbound))
	for _, edge := range node.Outbound {
		clone := r.Tasks.CreateClone(t, edge.Label)
		clones = append(clones, clone)
		r.publish(ctx, ports.EventCloneCreated, clone.TaskID, node.ID, map[string]interface{}{"parent_task_id": t.TaskID, "branch_label": edge.Label})
	}
	r.publish(ctx, ports.EventRoutingBranch, t.TaskID, node.ID, map[string]interface{}{"clone_count": len(clones)})
	return &Outcome{Kind: KindBranch, Clones: clones}, nil
}

func (r *Router) routeSplit(ctx context.Context, t *task.Task, node *dag.Node, output map[string]interface{}) (*Outcome, error) {
	if len(node.Outbound) == 0 {
		return nil, domain.New(domain.ErrBranchEmpty, fmt.Sprintf("split node %q has no outbound edges", node.ID), nil, map[string]interface{}{"node_id": node.ID})
	}

	subtasks := make([]*task.Task, 0, len(node.Outbound))
	for _, edge := range node.Outbound {
		subInput := output
		if fnID, ok := node.RoleConfig.Splitters[edge.Label]; ok && fnID != "" {
			fn, ok := r.Splitters.Splitter(fnID)
			if !ok {
				return nil, domain.Validationf("split node %q references unknown splitter %q", node.ID, fnID)
			}
			var err error
			subInput, err = fn(output)
			if err != nil {
				return nil, domain.New(domain.ErrRouting, fmt.Sprintf("splitter %q failed for edge %q", fnID, edge.Label), err, nil)
			}
		}
		sub := r.Tasks.CreateSubtask(t, subInput)
		subtasks = append(subtasks, sub)
		r.publish(ctx, ports.EventSubtaskCreated, sub.TaskID, node.ID, map[string]interface{}{"parent_task_id": t.TaskID, "edge_label": edge.Label})
	}
	r.publish(ctx, ports.EventRoutingSplit, t.TaskID, node.ID, map[string]interface{}{"subtask_count": len(subtasks)})
	return &Outcome{Kind: KindSplit, Subtasks: subtasks}, nil
}

// Merge aggregates a merge node's already-collected child results per its
// declared policy, then advances on its single outbound edge. results must
// be ordered by the originating edge's declaration-order index (Open
// Question decision 1): callers (the engine's join barrier) are responsible
// for that ordering.
func (r *Router) Merge(ctx context.Context, parent *task.Task, node *dag.Node, results []ChildResult) (*Outcome, error) {
	if len(node.Outbound) != 1 {
		return nil, domain.Routingf("merge node %q must have exactly one outbound edge, has %d", node.ID, len(node.Outbound))
	}
	if len(results) == 0 {
		return nil, domain.New(domain.ErrMergeUnreach, fmt.Sprintf("merge node %q received no inbound results", node.ID), nil, map[string]interface{}{"node_id": node.ID})
	}

	merged, err := r.aggregate(node, results)
	if err != nil {
		return nil, err
	}

	edge := node.Outbound[0]
	r.Tasks.RecordRouting(parent, task.RoutingDecision{NodeID: node.ID, EdgeFrom: edge.From, EdgeTo: edge.To, EdgeLabel: edge.Label, Timestamp: time.Now()})
	r.publish(ctx, ports.EventRoutingMerge, parent.TaskID, node.ID, map[string]interface{}{"policy": string(node.RoleConfig.MergePolicy), "inbound_count": len(results)})
	return &Outcome{Kind: KindAdvance, NextNodeID: edge.To, NextInput: merged}, nil
}

func (r *Router) aggregate(node *dag.Node, results []ChildResult) (map[string]interface{}, error) {
	switch node.RoleConfig.MergePolicy {
	case dag.MergeFirstSuccess:
		for _, res := range results {
			if res.Succeeded {
				return res.Output, nil
			}
		}
		return nil, domain.New(domain.ErrMergeUnreach, fmt.Sprintf("merge node %q: no inbound result succeeded", node.ID), nil, map[string]interface{}{"node_id": node.ID})

	case dag.MergeCollectAll:
		expected := node.RoleConfig.ExpectedInbound
		if expected == 0 {
			expected = len(node.Inbound)
		}
		if expected > 0 && len(results) < expected {
			return nil, domain.New(domain.ErrMergeUnreach, fmt.Sprintf("merge node %q expected %d inbound results, got %d", node.ID, expected, len(results)), nil, map[string]interface{}{"node_id": node.ID})
		}
		for _, res := range results {
			if !res.Succeeded {
				return nil, domain.New(domain.ErrMergeUnreach, fmt.Sprintf("merge node %q: inbound result from %q did not succeed", node.ID, res.TaskID), nil, map[string]interface{}{"node_id": node.ID, "task_id": res.TaskID})
			}
		}
		collected := make([]map[string]interface{}, len(results))
		for i, res := range results {
			collected[i] = res.Output
		}
		return map[string]interface{}{"results": collected}, nil

	default:
		fn, ok := r.Reducers.Reducer(string(node.RoleConfig.Reducer))
		if !ok {
			return nil, domain.Validationf("merge node %q references unknown reducer %q", node.ID, node.RoleConfig.Reducer)
		}
		outputs := make([]map[string]interface{}, len(results))
		for i, res := range results {
			outputs[i] = res.Output
		}
		merged, err := fn(outputs)
		if err != nil {
			return nil, domain.New(domain.ErrRouting, fmt.Sprintf("reducer %q failed for merge node %q", node.RoleConfig.Reducer, node.ID), err, nil)
		}
		return merged, nil
	}
}

// routeExit always resolves to succeeded. A node whose invocation failed
// without continue_on_failure never reaches Route at all — the engine
// driver fails the task directly at the point of failure — so the only way
// a "failed" NodeExecutionRecord can be sitting in t.History by the time an
// exit node is reached is via a continue_on_failure path, which by
// definition keeps the task alive and lets the router advance as if the
// node had succeeded.
func (r *Router) routeExit(t *task.Task) *Outcome {
	return &Outcome{Kind: KindTerminal, TerminalStatus: task.StatusSucceeded}
}
