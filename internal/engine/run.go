package engine

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/agentdag/agentdag/internal/dag"
	domain "github.com/agentdag/agentdag/internal/domain/engine"
	"github.com/agentdag/agentdag/internal/router"
	"github.com/agentdag/agentdag/internal/task"
)

// driveResult is drive's outcome: either a resolved terminal status, a pause
// at a merge node awaiting sibling results, or a fatal error.
type driveResult struct {
	Status        task.Status
	PausedAtMerge *dag.Node
	PausedInput   map[string]interface{}
	Err           error
}

// drive walks t node-by-node from node, executing and routing each one,
// until it reaches a terminal exit (Status set), a merge node it cannot
// resolve alone (PausedAtMerge set — only when soloMergeOK is false, which
// is only the case for a branch/split child being awaited by runFanout), or
// a fatal error.
//
// A merge node reached with soloMergeOK true (every top-level task, and
// every continuation past a barrier runFanout already joined) is resolved
// immediately against a single-arrival ChildResult (with the merge's
// expected inbound count taken as 1): a decision node's two
// mutually-exclusive edges can converge on a merge node exactly as a
// branch/split's concurrent children do, but since only one of those edges
// ever fires per run, nothing is actually waiting to be joined.
func (e *Engine) drive(ctx context.Context, t *task.Task, node *dag.Node, input map[string]interface{}, soloMergeOK bool) driveResult {
	for {
		if node.Role == dag.RoleMerge {
			if !soloMergeOK {
				return driveResult{PausedAtMerge: node, PausedInput: input}
			}
			solo := *node
			solo.RoleConfig.ExpectedInbound = 1
			outcome, err := e.Router.Merge(ctx, t, &solo, []router.ChildResult{{TaskID: t.TaskID, Output: input, Succeeded: true}})
			if err != nil {
				return driveResult{Err: err}
			}
			next, ok := e.Graph.Node(outcome.NextNodeID)
			if !ok {
				return driveResult{Err: domain.Routingf("merge edge target %q not found", outcome.NextNodeID)}
			}
			node, input = next, outcome.NextInput
			continue
		}

		rec, execErr := e.Executor.Execute(ctx, t, node.ID, input)
		if execErr != nil && (!node.ContinueOnFailure || rec == nil) {
			return driveResult{Err: execErr}
		}
		var output map[string]interface{}
		if rec != nil {
			output = rec.Output
		}

		outcome, routeErr := e.Router.Route(ctx, t, node, output)
		if routeErr != nil {
			return driveResult{Err: routeErr}
		}

		switch outcome.Kind {
		case router.KindAdvance:
			next, ok := e.Graph.Node(outcome.NextNodeID)
			if !ok {
				return driveResult{Err: domain.Routingf("edge target %q not found", outcome.NextNodeID)}
			}
			node, input = next, outcome.NextInput
			continue
		case router.KindTerminal:
			return driveResult{Status: outcome.TerminalStatus}
		case router.KindBranch:
			return e.runFanout(ctx, t, node, outcome.Clones, true)
		case router.KindSplit:
			return e.runFanout(ctx, t, node, outcome.Subtasks, false)
		default:
			return driveResult{Err: domain.Routingf("node %q produced unknown outcome kind %q", node.ID, outcome.Kind)}
		}
	}
}

// runFanout drives every child concurrently (sourcegraph/conc's panic-safe
// wait group) from the edge it was spawned on, then either joins at a
// common merge node or, if no child ever reaches one, terminates the parent
// directly at this node: a branch without a merge succeeds if any clone
// succeeded; a split without a merge succeeds only if every subtask
// succeeded.
func (e *Engine) runFanout(ctx context.Context, parent *task.Task, node *dag.Node, children []*task.Task, isBranch bool) driveResult {
	joinCtx := ctx
	var cancel context.CancelFunc
	if e.Manifest.Scheduler.MergeTimeoutSeconds > 0 {
		joinCtx, cancel = context.WithTimeout(ctx, time.Duration(e.Manifest.Scheduler.MergeTimeoutSeconds)*time.Second)
		defer cancel()
	}

	results := make([]driveResult, len(children))
	var wg conc.WaitGroup
	for i := range children {
		i := i
		edge := node.Outbound[i]
		child := children[i]
		wg.Go(func() {
			startNode, ok := e.Graph.Node(edge.To)
			if !ok {
				results[i] = driveResult{Err: domain.Routingf("fan-out edge target %q not found", edge.To)}
				return
			}
			_ = e.Tasks.SetLifecycle(child, task.LifecycleActive)
			_ = e.Tasks.SetStatus(child, task.StatusRunning)
			results[i] = e.drive(joinCtx, child, startNode, child.Spec.Input, false)
			r := results[i]
			switch {
			case r.Status != "":
				_ = e.Tasks.SetStatus(child, r.Status)
			case r.Err != nil:
				// A child node failed without continue_on_failure: that
				// child's own task fails, but siblings still get to run
				// their course — a branch/split's merge policy (or the
				// no-merge aggregation below) decides what that means for
				// the parent, not this goroutine.
				_ = e.Tasks.SetStatus(child, task.StatusFailed)
			}
			if r.Status != "" || r.Err != nil {
				_ = e.Tasks.SetLifecycle(child, task.LifecycleCompleted)
			}
		})
	}
	wg.Wait()

	if e.Manifest.Scheduler.MergeTimeoutSeconds > 0 && joinCtx.Err() == context.DeadlineExceeded {
		return driveResult{Err: domain.New(domain.ErrMergeTimeout, "merge barrier timed out waiting for fan-out children", nil, map[string]interface{}{"node_id": node.ID})}
	}

	allTerminal := true
	var mergeNode *dag.Node
	for _, r := range results {
		if r.PausedAtMerge != nil {
			allTerminal = false
			mergeNode = r.PausedAtMerge
		}
	}

	if allTerminal {
		return driveResult{Status: aggregateWithoutMerge(results, isBranch)}
	}

	// Only children that actually paused at mergeNode contribute a
	// ChildResult: a child that failed fatally (no continue_on_failure)
	// never reaches the merge barrier at all, so it must not be counted as
	// an arrival with Succeeded false — collect_all needs the true arrival
	// count to tell "every leg succeeded" from "one leg never showed up".
	childResults := make([]router.ChildResult, 0, len(children))
	for i, child := range children {
		r := results[i]
		if r.PausedAtMerge == nil {
			continue
		}
		childResults = append(childResults, router.ChildResult{
			TaskID:    child.TaskID,
			EdgeLabel: node.Outbound[i].Label,
			Output:    r.PausedInput,
			Succeeded: true,
		})
	}

	outcome, err := e.Router.Merge(ctx, parent, mergeNode, childResults)
	if err != nil {
		return driveResult{Err: err}
	}
	next, ok := e.Graph.Node(outcome.NextNodeID)
	if !ok {
		return driveResult{Err: domain.Routingf("merge edge target %q not found", outcome.NextNodeID)}
	}
	return e.drive(ctx, parent, next, outcome.NextInput, true)
}

func aggregateWithoutMerge(results []driveResult, isBranch bool) task.Status {
	anySucceeded, allSucceeded := false, true
	for _, r := range results {
		if r.Status == task.StatusSucceeded {
			anySucceeded = true
		} else {
			allSucceeded = false
		}
	}
	if isBranch {
		if anySucceeded {
			return task.StatusSucceeded
		}
		return task.StatusFailed
	}
	if allSucceeded {
		return task.StatusSucceeded
	}
	return task.StatusFailed
}
