// Package dag implements the in-memory graph model: typed nodes and edges,
// plus the structural invariants that let the router traverse any manifest
// that builds successfully without cycling or stalling.
package dag

// Kind distinguishes deterministic function nodes from LLM-backed agent nodes.
type Kind string

const (
	KindDeterministic Kind = "deterministic"
	KindAgent         Kind = "agent"
)

// Role is the structural position of a node within the graph, and drives both
// the validator's degree constraints and the router's dispatch table.
type Role string

const (
	RoleStart    Role = "start"
	RoleLinear   Role = "linear"
	RoleDecision Role = "decision"
	RoleBranch   Role = "branch"
	RoleSplit    Role = "split"
	RoleMerge    Role = "merge"
	RoleExit     Role = "exit"
)

// MatchMode controls how a decision node matches its routing key against
// edge labels. Equality is the default; substring matching is opt-in for
// manifests that want coarser routing keys.
type MatchMode string

const (
	MatchEqual     MatchMode = "equal"
	MatchSubstring MatchMode = "substring"
)

// MergePolicy names the aggregation strategy a merge node applies to its
// inbound clones/subtasks.
type MergePolicy string

const (
	MergeCollectAll   MergePolicy = "collect_all"
	MergeFirstSuccess MergePolicy = "first_success"
)

// ContextSpec names how a node's context should be assembled.
type ContextSpec string

const (
	ContextNone    ContextSpec = "none"
	ContextGlobal  ContextSpec = "global"
	ContextProfile ContextSpec = "" // any non-empty, non-reserved value names a profile id
)

// RoleConfig carries role-specific configuration that doesn't fit the
// common Node fields.
type RoleConfig struct {
	// MergePolicy applies to RoleMerge.
	MergePolicy MergePolicy
	// Reducer names a user-registered reducer when MergePolicy isn't one of
	// the two built-ins.
	Reducer string
	// ExpectedInbound is the number of results a collect_all merge must see
	// before it can release; zero means one per inbound edge. first_success
	// does not read it.
	ExpectedInbound int
	// MatchMode applies to RoleDecision.
	MatchMode MatchMode
	// Splitters names the splitter function id applied per outbound edge of
	// a RoleSplit node; a missing or empty entry means identity.
	Splitters map[string]string // edge label -> splitter function id
}

// Node is a vertex in the DAG. Nodes are immutable once a DAG has been built.
type Node struct {
	ID                string
	Kind              Kind
	Role              Role
	SchemaIn          string
	SchemaOut         string
	Context           ContextSpec
	AllowedTools      []string
	AgentID           string
	ContinueOnFailure bool
	DefaultStart      bool
	RoleConfig        RoleConfig

	// Outbound/Inbound are populated by Build in manifest declaration order;
	// they are the adjacency lists the validator and router consult.
	Outbound []*Edge
	Inbound  []*Edge
}

// Edge is a directed, optionally labelled transition between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
