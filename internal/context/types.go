// Package context assembles a token-bounded ContextPackage for one node
// invocation from the task/project/global memory tiers, per a named
// ContextProfile. Assemble is a pure function: given a profile and tier
// snapshots it always returns the same package and fingerprint.
package context

import (
	"github.com/agentdag/agentdag/internal/manifest"
	"github.com/agentdag/agentdag/internal/memory"
)

// Profile is the resolved assembly policy. It mirrors manifest.ContextProfile
// so callers outside the manifest package (tests, the built-in default) can
// construct one directly.
type Profile = manifest.ContextProfile

// DefaultProfile is used when a node's context spec is "global" and no
// profile is named: task 0.4, project 0.35, global 0.25, with no filtering.
func DefaultProfile(budget int) Profile {
	return Profile{
		ID:          "__default__",
		TierWeights: map[string]float64{"task": 0.4, "project": 0.35, "global": 0.25},
		TokenBudget: budget,
	}
}

// TierSnapshot is the set of candidate items available from one tier's
// store at assembly time, already fetched (the assembler never calls back
// into a store: it is a pure function over snapshots).
type TierSnapshot struct {
	Tier      memory.Tier
	Items     []memory.Item
	Available bool // false when the backing store could not be reached
}

// SelectedItem is one item placed into the package, annotated with whether
// head/tail preservation pinned it past its tier's computed share.
type SelectedItem struct {
	Item   memory.Item
	Tier   memory.Tier
	Pinned bool
}

// Package is the assembled context handed to a node invocation.
type Package struct {
	ProfileID         string
	Items             []SelectedItem
	TotalCost         int
	AvailableCost     int
	CompressionRatio  float64
	Degraded          bool
	DegradedTiers     []memory.Tier
	Fingerprint       Fingerprint
}

// Fingerprint identifies the shape of an assembled package without
// reproducing its contents, for caching and audit trails.
type Fingerprint struct {
	Mode   string
	Hash   string
}
