package override

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentdag/agentdag/internal/manifest"
)

func testManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	yaml := `version: "1.0"
name: "greeting"
agents:
  - id: "writer"
    model: "anthropic/claude-3-sonnet"
    temperature: 0.2
    max_tokens: 512
tools:
  - id: "shell"
    allow_shell: true
    enabled: false
nodes:
  - id: "begin"
    kind: "deterministic"
    role: "start"
    default_start: true
  - id: "draft"
    kind: "agent"
    role: "linear"
    agent_id: "writer"
  - id: "done"
    kind: "deterministic"
    role: "exit"
edges:
  - from: "begin"
    to: "draft"
  - from: "draft"
    to: "done"
`
	m, err := manifest.Parse("workflow.yaml", []byte(yaml))
	require.NoError(t, err)
	return m
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestResolveAgentFallsBackToManifestDefaults(t *testing.T) {
	t.Parallel()
	s := New(testManifest(t))

	resolved, err := s.ResolveAgent("task-1", "writer")
	require.NoError(t, err)
	require.Equal(t, "anthropic/claude-3-sonnet", resolved.Model)
	require.Equal(t, 0.2, resolved.Temperature)
	require.Equal(t, 512, resolved.MaxTokens)
}

func TestTaskScopeOverridesGlobalScope(t *testing.T) {
	t.Parallel()
	s := New(testManifest(t))

	require.NoError(t, s.SetAgentOverride(ScopeGlobal, "", "writer", AgentOverride{Temperature: floatPtr(0.5)}))
	require.NoError(t, s.SetAgentOverride(ScopeTask, "task-1", "writer", AgentOverride{Temperature: floatPtr(0.9)}))

	resolved, err := s.ResolveAgent("task-1", "writer")
	require.NoError(t, err)
	require.Equal(t, 0.9, resolved.Temperature)

	// A different task only sees the global override.
	other, err := s.ResolveAgent("task-2", "writer")
	require.NoError(t, err)
	require.Equal(t, 0.5, other.Temperature)
}

func TestSetAgentOverrideRejectsCeilingViolation(t *testing.T) {
	t.Parallel()
	s := New(testManifest(t))

	err := s.SetAgentOverride(ScopeTask, "task-1", "writer", AgentOverride{MaxTokens: intPtr(9999)})
	require.Error(t, err)
}

func TestSetAgentOverrideRejectsOutOfRangeTemperature(t *testing.T) {
	t.Parallel()
	s := New(testManifest(t))

	err := s.SetAgentOverride(ScopeTask, "task-1", "writer", AgentOverride{Temperature: floatPtr(2.0)})
	require.Error(t, err)
}

func TestSetToolOverrideCannotEscalateADisabledTool(t *testing.T) {
	t.Parallel()
	s := New(testManifest(t))

	err := s.SetToolOverride(ScopeTask, "task-1", "shell", true)
	require.Error(t, err)
}

func TestSetToolOverrideCanDisableAnEnabledTool(t *testing.T) {
	t.Parallel()
	m := testManifest(t)
	for i := range m.Tools {
		if m.Tools[i].ID == "shell" {
			m.Tools[i].Enabled = true
		}
	}
	s := New(m)

	require.NoError(t, s.SetToolOverride(ScopeTask, "task-1", "shell", false))
	enabled, err := s.ResolveToolEnabled("task-1", "shell")
	require.NoError(t, err)
	require.False(t, enabled)
}

func TestClearTaskDropsTaskScopedOverrides(t *testing.T) {
	t.Parallel()
	s := New(testManifest(t))

	require.NoError(t, s.SetAgentOverride(ScopeTask, "task-1", "writer", AgentOverride{Temperature: floatPtr(0.9)}))
	s.ClearTask("task-1")

	resolved, err := s.ResolveAgent("task-1", "writer")
	require.NoError(t, err)
	require.Equal(t, 0.2, resolved.Temperature)
}

func TestResolveNodeTimeoutFallsBackWhenUnset(t *testing.T) {
	t.Parallel()
	s := New(testManifest(t))

	require.Equal(t, 30, s.ResolveNodeTimeoutSeconds("task-1", "draft", 30))

	require.NoError(t, s.SetNodeOverride(ScopeTask, "task-1", "draft", 60))
	require.Equal(t, 60, s.ResolveNodeTimeoutSeconds("task-1", "draft", 30))
}
