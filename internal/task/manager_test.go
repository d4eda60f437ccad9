package task

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateProvisionsFreshTask(t *testing.T) {
	t.Parallel()

	m := NewManager()
	tsk := m.Create(Spec{Mode: "greet", Input: map[string]interface{}{"text": "hi"}})

	require.True(t, strings.HasPrefix(tsk.TaskID, "task-greet-"))
	require.Equal(t, StatusPending, tsk.Status)
	require.Equal(t, LifecycleCreated, tsk.Lifecycle)
	require.Equal(t, KindRoot, tsk.Kind)
	require.Equal(t, tsk.TaskID, tsk.TaskMemoryRef)
}

func TestCreateCloneInheritsProjectAndGlobalRefs(t *testing.T) {
	t.Parallel()

	m := NewManager()
	parent := m.Create(Spec{Mode: "branch"})
	parent.ProjectMemoryRef = "proj-1"
	parent.GlobalMemoryRef = "global-1"

	clone := m.CreateClone(parent, "path-a")

	require.Equal(t, KindClone, clone.Kind)
	require.Equal(t, "path-a", clone.BranchLabel)
	require.Equal(t, parent.TaskID, clone.ParentTaskID)
	require.Equal(t, "proj-1", clone.ProjectMemoryRef)
	require.Equal(t, "global-1", clone.GlobalMemoryRef)
	require.NotEqual(t, parent.TaskMemoryRef, clone.TaskMemoryRef)
}

func TestCreateSubtaskReplacesInput(t *testing.T) {
	t.Parallel()

	m := NewManager()
	parent := m.Create(Spec{Mode: "split", Input: map[string]interface{}{"all": []string{"x", "y"}}})

	sub := m.CreateSubtask(parent, map[string]interface{}{"item": "x"})

	require.Equal(t, KindSubtask, sub.Kind)
	require.Equal(t, "x", sub.Spec.Input["item"])
	require.Equal(t, parent.TaskID, sub.ParentTaskID)
}

func TestRecordExecutionAppendsHistoryAndUpdatesCurrent(t *testing.T) {
	t.Parallel()

	m := NewManager()
	tsk := m.Create(Spec{})

	err := m.RecordExecution(tsk, NodeExecutionRecord{NodeID: "n1", Status: "succeeded", Output: map[string]interface{}{"ok": true}})
	require.NoError(t, err)
	require.Len(t, tsk.History, 1)
	require.Equal(t, "n1", tsk.CurrentNodeID)
	require.Equal(t, true, tsk.CurrentOutput["ok"])

	err = m.RecordExecution(tsk, NodeExecutionRecord{NodeID: "n2", Status: "succeeded"})
	require.NoError(t, err)
	require.Len(t, tsk.History, 2)
}

func TestTerminalTaskRejectsFurtherMutation(t *testing.T) {
	t.Parallel()

	m := NewManager()
	tsk := m.Create(Spec{})
	require.NoError(t, m.SetStatus(tsk, StatusSucceeded))

	err := m.RecordExecution(tsk, NodeExecutionRecord{NodeID: "late"})
	require.Error(t, err)

	err = m.SetStatus(tsk, StatusFailed)
	require.Error(t, err)

	// Re-applying the same terminal status is a no-op, not an error.
	require.NoError(t, m.SetStatus(tsk, StatusSucceeded))
}

func TestCheckpointRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewManager()
	tsk := m.Create(Spec{Mode: "demo", Input: map[string]interface{}{"k": "v"}})
	require.NoError(t, m.RecordExecution(tsk, NodeExecutionRecord{NodeID: "n1", Status: "succeeded"}))

	data, err := m.Checkpoint(tsk)
	require.NoError(t, err)

	m2 := NewManager()
	restored, err := m2.Restore(data)
	require.NoError(t, err)
	require.Equal(t, tsk.TaskID, restored.TaskID)
	require.Len(t, restored.History, 1)
	require.Equal(t, StatusPending, restored.Status)

	got, ok := m2.Get(tsk.TaskID)
	require.True(t, ok)
	require.Equal(t, restored.TaskID, got.TaskID)
}
