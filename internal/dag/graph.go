package dag

// DAG is the validated, immutable graph produced by Build. It is the only
// type the rest of the engine is allowed to depend on; nothing downstream
// ever touches a raw manifest.
type DAG struct {
	nodes       map[string]*Node
	defaultRoot string
	// declOrder preserves the manifest's node declaration order so iteration
	// (e.g. collect-all merge aggregation) never depends on map order.
	declOrder []string
}

// Node returns the node with the given id, or (nil, false) if it doesn't exist.
func (g *DAG) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Neighbors returns id's outbound edges in manifest declaration order: the
// router's tie-break policy for decision/branch/split dispatch depends on
// this ordering being stable and reproducible across runs.
func (g *DAG) Neighbors(id string) []*Edge {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return n.Outbound
}

// DefaultStart returns the id of the node marked default_start=true.
func (g *DAG) DefaultStart() string {
	return g.defaultRoot
}

// Nodes returns every node in declaration order.
func (g *DAG) Nodes() []*Node {
	out := make([]*Node, 0, len(g.declOrder))
	for _, id := range g.declOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// newGraph builds the raw adjacency structure from a flat node+edge list
// without validating it; Build (validator.go) runs the invariant checks
// before returning a *DAG to the caller.
func newGraph(nodes []Node, edges []Edge) *DAG {
	g := &DAG{nodes: make(map[string]*Node, len(nodes))}

	for i := range nodes {
		n := nodes[i]
		g.nodes[n.ID] = &n
		g.declOrder = append(g.declOrder, n.ID)
		if n.DefaultStart {
			g.defaultRoot = n.ID
		}
	}

	for i := range edges {
		e := edges[i]
		from, fromOK := g.nodes[e.From]
		to, toOK := g.nodes[e.To]
		if !fromOK || !toOK {
			// Dangling references are reported by the validator; skip
			// wiring so later passes don't panic on a nil neighbor.
			continue
		}
		from.Outbound = append(from.Outbound, &e)
		to.Inbound = append(to.Inbound, &e)
	}

	return g
}
