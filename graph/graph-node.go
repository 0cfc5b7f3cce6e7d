package graph

import (
	"math"
)

// Sentinel for a vertex that has not participated in any active edge
// since the last reset. No arithmetic may touch a potential before
// AddEdge initializes it to 0.
const undefinedPotential = math.MinInt

// node is the per-vertex mutable state. gamma and changed are transient:
// zero/false between AddEdge calls.
type node struct {
	outgoing  []int // active outgoing edge ids
	potential int
	lastEdge  int // during relaxation, the edge that produced the best gamma
	gamma     int
	changed   bool
}

// nodeUpdate is one pending relaxation in the gamma queue. Entries are
// re-pushed rather than decrease-keyed; stale ones are skipped via the
// node's changed flag.
type nodeUpdate struct {
	nodeIdx int
	gamma   int
}

// Less orders the queue by ascending gamma: most negative pops first.
func (a nodeUpdate) Less(b nodeUpdate) bool { return a.gamma < b.gamma }
