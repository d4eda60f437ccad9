package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	econtext "github.com/agentdag/agentdag/internal/context"
	"github.com/agentdag/agentdag/internal/engine"
	"github.com/agentdag/agentdag/internal/executor"
	"github.com/agentdag/agentdag/internal/manifest"
	"github.com/agentdag/agentdag/internal/router"
	"github.com/agentdag/agentdag/internal/task"
)

func identity(_ context.Context, input map[string]interface{}, _ *econtext.Package, _ executor.NodeConfig) (map[string]interface{}, error) {
	return input, nil
}

func constant(output map[string]interface{}) executor.DeterministicFunc {
	return func(_ context.Context, _ map[string]interface{}, _ *econtext.Package, _ executor.NodeConfig) (map[string]interface{}, error) {
		return output, nil
	}
}

func failing(msg string) executor.DeterministicFunc {
	return func(_ context.Context, _ map[string]interface{}, _ *econtext.Package, _ executor.NodeConfig) (map[string]interface{}, error) {
		return nil, errors.New(msg)
	}
}

func buildEngine(t *testing.T, yamlContent string, dets executor.MapDeterministicRegistry, splitters router.MapSplitterRegistry) *engine.Engine {
	t.Helper()
	m, err := manifest.Parse("workflow.yaml", []byte(yamlContent))
	require.NoError(t, err)
	e, err := engine.Load(m, engine.Config{Deterministics: dets, Splitters: splitters})
	require.NoError(t, err)
	return e
}

func eventTypes(e *engine.Engine, taskID string) []string {
	var types []string
	for _, ev := range e.Bus.History() {
		if ev.TaskID == taskID {
			types = append(types, ev.Type)
		}
	}
	return types
}

// Scenario 1: linear happy path (spec §8.1).
func TestLinearHappyPath(t *testing.T) {
	t.Parallel()
	e := buildEngine(t, `version: "1.0"
name: "linear"
nodes:
  - id: "start"
    kind: "deterministic"
    role: "start"
    default_start: true
  - id: "process"
    kind: "deterministic"
    role: "linear"
  - id: "exit"
    kind: "deterministic"
    role: "exit"
edges:
  - from: "start"
    to: "process"
  - from: "process"
    to: "exit"
`, executor.MapDeterministicRegistry{
		"start":   identity,
		"process": constant(map[string]interface{}{"result": "HELLO"}),
		"exit":    identity,
	}, nil)

	got, err := e.Run(context.Background(), task.Spec{Input: map[string]interface{}{"text": "hello"}, Mode: "m"})
	require.NoError(t, err)
	require.Equal(t, task.StatusSucceeded, got.Status)
	require.Equal(t, "HELLO", got.CurrentOutput["result"])

	require.Equal(t, []string{
		"task_started",
		"node_started", "node_completed", "routing_decision",
		"node_started", "node_completed", "routing_decision",
		"node_started", "node_completed",
		"task_completed",
	}, eventTypes(e, got.TaskID))
}

// Scenario 2: decision routing (spec §8.2).
func TestDecisionRouting(t *testing.T) {
	t.Parallel()
	e := buildEngine(t, `version: "1.0"
name: "decision"
nodes:
  - id: "start"
    kind: "deterministic"
    role: "start"
    default_start: true
  - id: "classify"
    kind: "deterministic"
    role: "decision"
  - id: "create"
    kind: "deterministic"
    role: "linear"
  - id: "update"
    kind: "deterministic"
    role: "linear"
  - id: "join"
    kind: "deterministic"
    role: "merge"
    merge_policy: "collect_all"
  - id: "exit"
    kind: "deterministic"
    role: "exit"
edges:
  - from: "start"
    to: "classify"
  - from: "classify"
    to: "create"
    label: "create"
  - from: "classify"
    to: "update"
    label: "update"
  - from: "create"
    to: "join"
  - from: "update"
    to: "join"
  - from: "join"
    to: "exit"
`, executor.MapDeterministicRegistry{
		"start":    identity,
		"classify": constant(map[string]interface{}{"decision": "create"}),
		"create":   constant(map[string]interface{}{"action": "created"}),
		"update":   constant(map[string]interface{}{"action": "updated"}),
		"exit":     identity,
	}, nil)

	got, err := e.Run(context.Background(), task.Spec{Input: map[string]interface{}{"action": "create"}, Mode: "m"})
	require.NoError(t, err)
	require.Equal(t, task.StatusSucceeded, got.Status)

	var visited []string
	for _, rec := range got.History {
		visited = append(visited, rec.NodeID)
	}
	require.Contains(t, visited, "create")
	require.NotContains(t, visited, "update")

	foundCreateEdge := false
	for _, d := range got.RoutingTrace {
		if d.NodeID == "classify" {
			require.Equal(t, "create", d.EdgeTo)
			foundCreateEdge = true
		}
	}
	require.True(t, foundCreateEdge)
}

// Scenario 3: branch fan-out with first-success (spec §8.3).
func TestBranchFanOutFirstSuccess(t *testing.T) {
	t.Parallel()
	e := buildEngine(t, `version: "1.0"
name: "branch"
nodes:
  - id: "start"
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
    merge_policy: "first_success"
  - id: "exit"
    kind: "deterministic"
    role: "exit"
edges:
  - from: "start"
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
    to: "exit"
`, executor.MapDeterministicRegistry{
		"start":  identity,
		"fanout": identity,
		"leg_a":  constant(map[string]interface{}{"winner": "A"}),
		"leg_b":  failing("leg b exploded"),
		"exit":   identity,
	}, nil)

	got, err := e.Run(context.Background(), task.Spec{Input: map[string]interface{}{}, Mode: "m"})
	require.NoError(t, err)
	require.Equal(t, task.StatusSucceeded, got.Status)
	require.Equal(t, "A", got.CurrentOutput["winner"])

	cloneCreated := 0
	for _, ev := range e.Bus.History() {
		if ev.Type == "clone_created" && ev.NodeID == "fanout" {
			cloneCreated++
		}
	}
	require.Equal(t, 2, cloneCreated)
}

// Scenario 4: split with collect-all merge (spec §8.4).
func TestSplitCollectAllMerge(t *testing.T) {
	t.Parallel()
	splitters := router.MapSplitterRegistry{
		"take_left":  func(output map[string]interface{}) (map[string]interface{}, error) { return map[string]interface{}{"v": "x"}, nil },
		"take_right": func(output map[string]interface{}) (map[string]interface{}, error) { return map[string]interface{}{"v": "y"}, nil },
	}
	e := buildEngine(t, `version: "1.0"
name: "split"
nodes:
  - id: "start"
    kind: "deterministic"
    role: "start"
    default_start: true
  - id: "fanout"
    kind: "deterministic"
    role: "split"
    splitters:
      left: "take_left"
      right: "take_right"
  - id: "leg_x"
    kind: "deterministic"
    role: "linear"
  - id: "leg_y"
    kind: "deterministic"
    role: "linear"
  - id: "join"
    kind: "deterministic"
    role: "merge"
    merge_policy: "collect_all"
    expected_inbound: 2
  - id: "exit"
    kind: "deterministic"
    role: "exit"
edges:
  - from: "start"
    to: "fanout"
  - from: "fanout"
    to: "leg_x"
    label: "left"
  - from: "fanout"
    to: "leg_y"
    label: "right"
  - from: "leg_x"
    to: "join"
  - from: "leg_y"
    to: "join"
  - from: "join"
    to: "exit"
`, executor.MapDeterministicRegistry{
		"start":  identity,
		"fanout": identity,
		"leg_x":  identity,
		"leg_y":  identity,
		"exit":   identity,
	}, splitters)

	got, err := e.Run(context.Background(), task.Spec{Input: map[string]interface{}{"items": []interface{}{1, 2}}, Mode: "m"})
	require.NoError(t, err)
	require.Equal(t, task.StatusSucceeded, got.Status)

	results, ok := got.CurrentOutput["results"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, results, 2)
	require.Equal(t, "x", results[0]["v"])
	require.Equal(t, "y", results[1]["v"])
}

// A split leg that fails fatally (no continue_on_failure) must never reach
// the merge node; collect_all then sees fewer arrivals than subtasks spawned
// and the parent fails instead of merging a placeholder for the missing leg.
func TestSplitCollectAllFailsWhenALegFailsFatally(t *testing.T) {
	t.Parallel()
	e := buildEngine(t, `version: "1.0"
name: "split_fatal"
nodes:
  - id: "start"
    kind: "deterministic"
    role: "start"
    default_start: true
  - id: "fanout"
    kind: "deterministic"
    role: "split"
  - id: "leg_x"
    kind: "deterministic"
    role: "linear"
  - id: "leg_y"
    kind: "deterministic"
    role: "linear"
  - id: "join"
    kind: "deterministic"
    role: "merge"
    merge_policy: "collect_all"
  - id: "exit"
    kind: "deterministic"
    role: "exit"
edges:
  - from: "start"
    to: "fanout"
  - from: "fanout"
    to: "leg_x"
    label: "left"
  - from: "fanout"
    to: "leg_y"
    label: "right"
  - from: "leg_x"
    to: "join"
  - from: "leg_y"
    to: "join"
  - from: "join"
    to: "exit"
`, executor.MapDeterministicRegistry{
		"start":  identity,
		"fanout": identity,
		"leg_x":  identity,
		"leg_y":  failing("leg y exploded"),
	}, nil)

	got, err := e.Run(context.Background(), task.Spec{Input: map[string]interface{}{}, Mode: "m"})
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, got.Status)

	var joinRecorded bool
	for _, rec := range got.RoutingTrace {
		if rec.NodeID == "join" {
			joinRecorded = true
		}
	}
	require.False(t, joinRecorded, "merge must not have aggregated with a missing leg")
}

// Scenario 5: failure with continue_on_failure (spec §8.5).
func TestContinueOnFailureSurvivesAndAdvances(t *testing.T) {
	t.Parallel()
	e := buildEngine(t, `version: "1.0"
name: "tolerant"
nodes:
  - id: "start"
    kind: "deterministic"
    role: "start"
    default_start: true
  - id: "flaky"
    kind: "deterministic"
    role: "linear"
    continue_on_failure: true
  - id: "exit"
    kind: "deterministic"
    role: "exit"
edges:
  - from: "start"
    to: "flaky"
  - from: "flaky"
    to: "exit"
`, executor.MapDeterministicRegistry{
		"start": identity,
		"flaky": failing("downstream tool unavailable"),
		"exit":  identity,
	}, nil)

	got, err := e.Run(context.Background(), task.Spec{Input: map[string]interface{}{}, Mode: "m"})
	require.NoError(t, err)
	require.Equal(t, task.StatusSucceeded, got.Status)

	var flakyRec *task.NodeExecutionRecord
	for i := range got.History {
		if got.History[i].NodeID == "flaky" {
			flakyRec = &got.History[i]
		}
	}
	require.NotNil(t, flakyRec)
	require.Equal(t, "failed", flakyRec.Status)
	require.Equal(t, "tool", flakyRec.ErrorKind)
}
