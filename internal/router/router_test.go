package router_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentdag/agentdag/internal/dag"
	domain "github.com/agentdag/agentdag/internal/domain/engine"
	"github.com/agentdag/agentdag/internal/manifest"
	"github.com/agentdag/agentdag/internal/router"
	"github.com/agentdag/agentdag/internal/task"
)

func buildGraph(t *testing.T, yaml string) *dag.DAG {
	t.Helper()
	m, err := manifest.Parse("workflow.yaml", []byte(yaml))
	require.NoError(t, err)
	g, err := m.Build()
	require.NoError(t, err)
	return g
}

const linearYAML = `version: "1.0"
name: "linear"
nodes:
  - id: "begin"
    kind: "deterministic"
    role: "start"
    default_start: true
  - id: "done"
    kind: "deterministic"
    role: "exit"
edges:
  - from: "begin"
    to: "done"
`

func TestRouteLinearAdvancesAndRecordsTrace(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, linearYAML)
	tm := task.NewManager()
	tsk := tm.Create(task.Spec{Mode: "m"})
	r := router.New(g, tm, nil, nil, nil)

	node, _ := g.Node("begin")
	out, err := r.Route(context.Background(), tsk, node, map[string]interface{}{"ok": true})
	require.NoError(t, err)
	require.Equal(t, router.KindAdvance, out.Kind)
	require.Equal(t, "done", out.NextNodeID)
	require.Len(t, tsk.RoutingTrace, 1)
	require.Equal(t, "done", tsk.RoutingTrace[0].EdgeTo)
}

const decisionYAML = `version: "1.0"
name: "decision"
nodes:
  - id: "begin"
    kind: "deterministic"
    role: "start"
    default_start: true
  - id: "classify"
    kind: "deterministic"
    role: "decision"
  - id: "on_yes"
    kind: "deterministic"
    role: "exit"
  - id: "on_no"
    kind: "deterministic"
    role: "exit"
edges:
  - from: "begin"
    to: "classify"
  - from: "classify"
    to: "on_yes"
    label: "yes"
  - from: "classify"
    to: "on_no"
    label: "no"
`

func TestRouteDecisionSelectsMatchingEdge(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, decisionYAML)
	tm := task.NewManager()
	tsk := tm.Create(task.Spec{Mode: "m"})
	r := router.New(g, tm, nil, nil, nil)

	node, _ := g.Node("classify")
	out, err := r.Route(context.Background(), tsk, node, map[string]interface{}{"decision": "yes"})
	require.NoError(t, err)
	require.Equal(t, "on_yes", out.NextNodeID)
}

func TestRouteDecisionFailsWithRoutingErrorWhenNoEdgeMatches(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, decisionYAML)
	tm := task.NewManager()
	tsk := tm.Create(task.Spec{Mode: "m"})
	r := router.New(g, tm, nil, nil, nil)

	node, _ := g.Node("classify")
	_, err := r.Route(context.Background(), tsk, node, map[string]interface{}{"decision": "maybe"})
	require.Error(t, err)
	require.Equal(t, domain.ErrRouting, domain.KindOf(err))
}

const branchYAML = `version: "1.0"
name: "branch"
nodes:
  - id: "begin"
    kind: "deterministic"
    role: "start"
    default_start: true
  - id: "fanout"
    kind: "deterministic"
    role: "branch"
  - id: "path_a"
    kind: "deterministic"
    role: "exit"
  - id: "path_b"
    kind: "deterministic"
    role: "exit"
edges:
  - from: "begin"
    to: "fanout"
  - from: "fanout"
    to: "path_a"
    label: "a"
  - from: "fanout"
    to: "path_b"
    label: "b"
`

func TestRouteBranchSpawnsOneCloneLabelledPerEdge(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, branchYAML)
	tm := task.NewManager()
	tsk := tm.Create(task.Spec{Mode: "m"})
	r := router.New(g, tm, nil, nil, nil)

	node, _ := g.Node("fanout")
	out, err := r.Route(context.Background(), tsk, node, map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, router.KindBranch, out.Kind)
	require.Len(t, out.Clones, 2)
	require.Equal(t, "a", out.Clones[0].BranchLabel)
	require.Equal(t, "b", out.Clones[1].BranchLabel)
	require.Equal(t, tsk.TaskID, out.Clones[0].ParentTaskID)
}

const splitYAML = `version: "1.0"
name: "split"
nodes:
  - id: "begin"
    kind: "deterministic"
    role: "start"
    default_start: true
  - id: "fanout"
    kind: "deterministic"
    role: "split"
    splitters:
      left: "take_left"
      right: "take_right"
  - id: "leg_a"
    kind: "deterministic"
    role: "exit"
  - id: "leg_b"
    kind: "deterministic"
    role: "exit"
edges:
  - from: "begin"
    to: "fanout"
  - from: "fanout"
    to: "leg_a"
    label: "left"
  - from: "fanout"
    to: "leg_b"
    label: "right"
`

func TestRouteSplitAppliesPerEdgeSplitter(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, splitYAML)
	tm := task.NewManager()
	tsk := tm.Create(task.Spec{Mode: "m"})
	splitters := router.MapSplitterRegistry{
		"take_left":  func(output map[string]interface{}) (map[string]interface{}, error) { return map[string]interface{}{"half": "left"}, nil },
		"take_right": func(output map[string]interface{}) (map[string]interface{}, error) { return map[string]interface{}{"half": "right"}, nil },
	}
	r := router.New(g, tm, splitters, nil, nil)

	node, _ := g.Node("fanout")
	out, err := r.Route(context.Background(), tsk, node, map[string]interface{}{"items": []interface{}{1, 2}})
	require.NoError(t, err)
	require.Equal(t, router.KindSplit, out.Kind)
	require.Len(t, out.Subtasks, 2)
	require.Equal(t, "left", out.Subtasks[0].Spec.Input["half"])
	require.Equal(t, "right", out.Subtasks[1].Spec.Input["half"])
}

func TestRouteSplitFailsWithBranchEmptyWhenNoOutboundEdges(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, `version: "1.0"
name: "degenerate"
nodes:
  - id: "begin"
    kind: "deterministic"
    role: "start"
    default_start: true
  - id: "only"
    kind: "deterministic"
    role: "exit"
edges:
  - from: "begin"
    to: "only"
`)
	tm := task.NewManager()
	tsk := tm.Create(task.Spec{Mode: "m"})
	r := router.New(g, tm, nil, nil, nil)

	// "only" is an exit node with no outbound edges; force role=split to
	// exercise the branch_empty guard without needing a second fixture.
	node, _ := g.Node("only")
	forced := *node
	forced.Role = dag.RoleSplit
	_, err := r.Route(context.Background(), tsk, &forced, map[string]interface{}{})
	require.Error(t, err)
	require.Equal(t, domain.ErrBranchEmpty, domain.KindOf(err))
}

func mergeGraph(t *testing.T, policy string) (*dag.DAG, *dag.Node) {
	t.Helper()
	g := buildGraph(t, `version: "1.0"
name: "merge"
nodes:
  - id: "begin"
    kind: "deterministic"
    role: "start"
    default_start: true
  - id: "fanout"
    kind: "deterministic"
    role: "branch"
  - id: "leg_a"
    kind: "deterministic"
    role: "linear"
  - id: "leg_b"
    kind: "deterministic"
    role: "linear"
  - id: "join"
    kind: "deterministic"
    role: "merge"
    merge_policy: "`+policy+`"
    expected_inbound: 2
  - id: "done"
    kind: "deterministic"
    role: "exit"
edges:
  - from: "begin"
    to: "fanout"
  - from: "fanout"
    to: "leg_a"
    label: "a"
  - from: "fanout"
    to: "leg_b"
    label: "b"
  - from: "leg_a"
    to: "join"
  - from: "leg_b"
    to: "join"
  - from: "join"
    to: "done"
`)
	node, _ := g.Node("join")
	return g, node
}

func TestMergeCollectAllRequiresExpectedInboundCount(t *testing.T) {
	t.Parallel()
	g, node := mergeGraph(t, "collect_all")
	tm := task.NewManager()
	parent := tm.Create(task.Spec{Mode: "m"})
	r := router.New(g, tm, nil, nil, nil)

	_, err := r.Merge(context.Background(), parent, node, []router.ChildResult{
		{TaskID: "c1", Output: map[string]interface{}{"v": 1}, Succeeded: true},
	})
	require.Error(t, err)
	require.Equal(t, domain.ErrMergeUnreach, domain.KindOf(err))
}

func TestMergeCollectAllAggregatesAllResultsInOrder(t *testing.T) {
	t.Parallel()
	g, node := mergeGraph(t, "collect_all")
	tm := task.NewManager()
	parent := tm.Create(task.Spec{Mode: "m"})
	r := router.New(g, tm, nil, nil, nil)

	out, err := r.Merge(context.Background(), parent, node, []router.ChildResult{
		{TaskID: "c1", Output: map[string]interface{}{"v": 1}, Succeeded: true},
		{TaskID: "c2", Output: map[string]interface{}{"v": 2}, Succeeded: true},
	})
	require.NoError(t, err)
	require.Equal(t, "done", out.NextNodeID)
	results := out.NextInput["results"].([]map[string]interface{})
	require.Equal(t, 1, results[0]["v"])
	require.Equal(t, 2, results[1]["v"])
}

func TestMergeFirstSuccessPicksEarliestSucceeded(t *testing.T) {
	t.Parallel()
	g, node := mergeGraph(t, "first_success")
	tm := task.NewManager()
	parent := tm.Create(task.Spec{Mode: "m"})
	r := router.New(g, tm, nil, nil, nil)

	out, err := r.Merge(context.Background(), parent, node, []router.ChildResult{
		{TaskID: "c1", Succeeded: false},
		{TaskID: "c2", Output: map[string]interface{}{"winner": true}, Succeeded: true},
	})
	require.NoError(t, err)
	require.Equal(t, true, out.NextInput["winner"])
}

func TestMergeFirstSuccessFailsWhenAllFailed(t *testing.T) {
	t.Parallel()
	g, node := mergeGraph(t, "first_success")
	tm := task.NewManager()
	parent := tm.Create(task.Spec{Mode: "m"})
	r := router.New(g, tm, nil, nil, nil)

	_, err := r.Merge(context.Background(), parent, node, []router.ChildResult{
		{TaskID: "c1", Succeeded: false},
		{TaskID: "c2", Succeeded: false},
	})
	require.Error(t, err)
	require.Equal(t, domain.ErrMergeUnreach, domain.KindOf(err))
}

func TestRouteExitSucceedsWithCleanHistory(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, linearYAML)
	tm := task.NewManager()
	tsk := tm.Create(task.Spec{Mode: "m"})
	r := router.New(g, tm, nil, nil, nil)

	node, _ := g.Node("done")
	out, err := r.Route(context.Background(), tsk, node, map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, router.KindTerminal, out.Kind)
	require.Equal(t, task.StatusSucceeded, out.TerminalStatus)
}

func TestRouteExitSucceedsDespiteAnEarlierContinueOnFailureRecord(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, linearYAML)
	tm := task.NewManager()
	tsk := tm.Create(task.Spec{Mode: "m"})
	require.NoError(t, tm.RecordExecution(tsk, task.NodeExecutionRecord{NodeID: "begin", Status: "failed"}))
	r := router.New(g, tm, nil, nil, nil)

	node, _ := g.Node("done")
	out, err := r.Route(context.Background(), tsk, node, map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, task.StatusSucceeded, out.TerminalStatus)
}
