package manifest

import (
	"github.com/agentdag/agentdag/internal/dag"
)

// Build converts a validated manifest into a dag.DAG, running the full
// reference-resolution → degree → acyclicity → reachability invariant
// pipeline from dag.Build.
func (m *Manifest) Build() (*dag.DAG, error) {
	agentIDs := make(map[string]struct{}, len(m.Agents))
	for _, a := range m.Agents {
		agentIDs[a.ID] = struct{}{}
	}
	toolIDs := make(map[string]struct{}, len(m.Tools))
	for _, t := range m.Tools {
		toolIDs[t.ID] = struct{}{}
	}
	schemaIDs := make(map[string]struct{}, len(m.Schemas))
	for _, s := range m.Schemas {
		schemaIDs[s.ID] = struct{}{}
	}

	resolve := func(kind, id string) bool {
		switch kind {
		case "agent":
			_, ok := agentIDs[id]
			return ok
		case "tool":
			_, ok := toolIDs[id]
			return ok
		case "schema":
			_, ok := schemaIDs[id]
			return ok
		default:
			return false
		}
	}

	nodes := make([]dag.Node, len(m.Nodes))
	for i, n := range m.Nodes {
		nodes[i] = dag.Node{
			ID:                n.ID,
			Kind:              dag.Kind(n.Kind),
			Role:              dag.Role(n.Role),
			SchemaIn:          n.SchemaIn,
			SchemaOut:         n.SchemaOut,
			Context:           dag.ContextSpec(n.Context),
			AllowedTools:      append([]string(nil), n.AllowedTools...),
			AgentID:           n.AgentID,
			ContinueOnFailure: n.ContinueOnFailure,
			DefaultStart:      n.DefaultStart,
			RoleConfig: dag.RoleConfig{
				MergePolicy:     dag.MergePolicy(n.MergePolicy),
				Reducer:         n.Reducer,
				ExpectedInbound: n.ExpectedInbound,
				MatchMode:       matchModeOrDefault(n.MatchMode),
				Splitters:       n.Splitters,
			},
		}
	}

	edges := make([]dag.Edge, len(m.Edges))
	for i, e := range m.Edges {
		edges[i] = dag.Edge{From: e.From, To: e.To, Label: e.Label}
	}

	return dag.Build(nodes, edges, resolve)
}

func matchModeOrDefault(mode string) dag.MatchMode {
	if mode == string(dag.MatchSubstring) {
		return dag.MatchSubstring
	}
	return dag.MatchEqual
}

// Profile looks up a named context profile, or (nil, false) if undeclared.
func (m *Manifest) Profile(id string) (*ContextProfile, bool) {
	for i := range m.ContextProfiles {
		if m.ContextProfiles[i].ID == id {
			return &m.ContextProfiles[i], true
		}
	}
	return nil, false
}

// Agent looks up a declared agent by id.
func (m *Manifest) Agent(id string) (*Agent, bool) {
	for i := range m.Agents {
		if m.Agents[i].ID == id {
			return &m.Agents[i], true
		}
	}
	return nil, false
}

// Tool looks up a declared tool by id.
func (m *Manifest) Tool(id string) (*Tool, bool) {
	for i := range m.Tools {
		if m.Tools[i].ID == id {
			return &m.Tools[i], true
		}
	}
	return nil, false
}
