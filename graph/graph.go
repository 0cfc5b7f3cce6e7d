// Package graph holds the incremental negative-cycle detector at the
// heart of the difference-logic propagator. One Graph per worker thread;
// the edge table is shared and read-only.
//
// Vertex potentials maintain the Johnson invariant: for every active
// edge u->v with weight w, potential(u) + w - potential(v) >= 0. As long
// as the invariant holds the active constraints are feasible, with
// value(x) = -potential(x) as a witness. AddEdge restores the invariant
// incrementally with a Dijkstra-like pass over reduced costs, or reports
// the negative cycle that makes restoring it impossible.
package graph

import (
	"github.com/difflog/difflog/enforce"
	"github.com/difflog/difflog/theory"
	"github.com/difflog/difflog/utils"
)

type Graph struct {
	edges   []theory.Edge // shared, immutable after init
	nodes   []node
	gammaQ  utils.PQ[nodeUpdate]
	changed []int                 // vertices marked changed this call
	journal []utils.Pair[int, int] // potential writes this call: (vertex, prior value)
}

func New(edges []theory.Edge) *Graph {
	return &Graph{edges: edges}
}

func (g *Graph) Empty() bool { return len(g.nodes) == 0 }

func (g *Graph) ValueDefined(idx int) bool {
	return idx < len(g.nodes) && g.nodes[idx].potential != undefinedPotential
}

// Value is the witness assignment for a defined vertex: -potential.
func (g *Graph) Value(idx int) int { return -g.nodes[idx].potential }

// Reset discards all per-vertex state. The next AddEdge rebuilds lazily.
func (g *Graph) Reset() { g.nodes = g.nodes[:0] }

// AddEdge hypothetically adds edge uvIdx to the active set. If the set
// stays feasible the edge is committed and the result is empty; otherwise
// the graph is left exactly as before the call and the result is a
// negative-weight cycle through the new edge, as edge ids.
func (g *Graph) AddEdge(uvIdx int) (negCycle []int) {
	uv := g.edges[uvIdx]
	g.ensure(utils.Max(uv.From, uv.To))
	u := &g.nodes[uv.From]
	v := &g.nodes[uv.To]
	if u.potential == undefinedPotential {
		g.setPotential(uv.From, 0)
	}
	if v.potential == undefinedPotential {
		g.setPotential(uv.To, 0)
	}
	v.gamma = u.potential + uv.Weight - v.potential
	if v.gamma < 0 {
		g.gammaQ.Push(nodeUpdate{uv.To, v.gamma})
		v.lastEdge = uvIdx
	}

	// Relaxation wavefront. Stops as soon as u would have to move:
	// u.gamma < 0 means the shortest way back from v undercuts the new
	// edge, closing a negative cycle.
	for len(g.gammaQ) > 0 && u.gamma == 0 {
		top := g.gammaQ.Pop()
		s := &g.nodes[top.nodeIdx]
		if s.changed {
			continue // stale entry, the node was already committed
		}
		enforce.ENFORCE(s.gamma == top.gamma, "fresh queue entry must carry the node's gamma")
		g.setPotential(top.nodeIdx, s.potential+s.gamma)
		s.gamma = 0
		s.changed = true
		g.changed = append(g.changed, top.nodeIdx)
		for _, stIdx := range s.outgoing {
			st := g.edges[stIdx]
			t := &g.nodes[st.To]
			if t.changed {
				continue
			}
			gamma := s.potential + st.Weight - t.potential
			if gamma < t.gamma {
				t.gamma = gamma
				g.gammaQ.Push(nodeUpdate{st.To, gamma})
				t.lastEdge = stIdx
			}
		}
	}

	if u.gamma < 0 {
		// Gather the edges of the negative cycle by walking the
		// lastEdge chain back from v until it closes.
		negCycle = append(negCycle, v.lastEdge)
		nextIdx := g.edges[v.lastEdge].From
		for uv.To != nextIdx {
			next := &g.nodes[nextIdx]
			negCycle = append(negCycle, next.lastEdge)
			nextIdx = g.edges[next.lastEdge].From
		}
		// Rejection is atomic: replay the journal in reverse so every
		// potential, including freshly initialized ones, reverts.
		for i := len(g.journal) - 1; i >= 0; i-- {
			g.nodes[g.journal[i].First].potential = g.journal[i].Second
		}
	} else {
		u.outgoing = append(u.outgoing, uvIdx)
	}

	// Cleanup, on both paths: transient state is zero between calls.
	v.gamma = 0
	for len(g.gammaQ) > 0 {
		g.nodes[g.gammaQ.Pop().nodeIdx].gamma = 0
	}
	for _, x := range g.changed {
		g.nodes[x].changed = false
	}
	g.changed = g.changed[:0]
	g.journal = g.journal[:0]

	return negCycle
}

func (g *Graph) setPotential(idx, potential int) {
	g.journal = append(g.journal, utils.Pair[int, int]{First: idx, Second: g.nodes[idx].potential})
	g.nodes[idx].potential = potential
}

func (g *Graph) ensure(idx int) {
	for len(g.nodes) <= idx {
		g.nodes = append(g.nodes, node{potential: undefinedPotential})
	}
}
