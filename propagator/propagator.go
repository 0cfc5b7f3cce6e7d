// Package propagator bridges a CDCL host solver to the difference-logic
// graph: it grounds diff atoms into edges at init, feeds asserted edges
// into a per-thread graph during propagation, turns negative cycles into
// learnt clauses, and renders the satisfying assignment on demand.
package propagator

import (
	"fmt"
	"io"

	"github.com/difflog/difflog/graph"
	"github.com/difflog/difflog/theory"
	"github.com/difflog/difflog/utils"
	"github.com/rs/zerolog/log"
)

// InitControl is what the host exposes during propagator initialization.
type InitControl interface {
	TheoryAtoms() []theory.Atom
	SolverLiteral(aLit theory.Lit) theory.Lit
	NumThreads() int
	AddWatch(lit theory.Lit)
}

// Control is what the host exposes during propagation on one thread.
type Control interface {
	ThreadID() int
	// AddClause hands a learnt clause to the solver; false means the
	// solver is already backing out.
	AddClause(clause []theory.Lit) bool
	// Propagate asks the solver to run Boolean propagation on the new
	// clause; false means the current assignment is dead.
	Propagate() bool
}

// state is the per-thread mutable half. Threads never share one.
type state struct {
	graph      *graph.Graph
	edgeTrail  []theory.Lit
	propagated int
	stats      *ThreadStats
}

type Propagator struct {
	// Shared, immutable after Init.
	verts    *theory.VertMap
	edges    []theory.Edge
	litEdges map[theory.Lit][]int // one literal may gate several edges

	states []state
	stats  *Stats
}

func New(stats *Stats) *Propagator {
	return &Propagator{
		verts:    theory.NewVertMap(),
		litEdges: make(map[theory.Lit][]int),
		stats:    stats,
	}
}

// Init grounds every &diff theory atom into an edge, indexes literals,
// registers watches, and sets up one graph per solver thread.
func (p *Propagator) Init(ctl InitControl) error {
	p.stats.Init.Start()
	defer p.stats.Init.Stop()
	for _, atom := range ctl.TheoryAtoms() {
		if atom.Term.Name == "diff" {
			if err := p.addEdgeAtom(ctl, atom); err != nil {
				return err
			}
		}
	}
	p.stats.Threads = make([]ThreadStats, ctl.NumThreads())
	p.states = make([]state, ctl.NumThreads())
	for t := range p.states {
		p.states[t] = state{graph: graph.New(p.edges), stats: &p.stats.Threads[t]}
	}
	log.Debug().Msg("init: " + fmt.Sprint(len(p.edges)) + " edges over " +
		fmt.Sprint(p.verts.Len()) + " vertices, " + fmt.Sprint(len(p.states)) + " threads")
	return nil
}

func (p *Propagator) addEdgeAtom(ctl InitControl, atom theory.Atom) error {
	lit := ctl.SolverLiteral(atom.Lit)
	weight, err := guardWeight(atom)
	if err != nil {
		return err
	}
	u, v, err := diffTerm(atom)
	if err != nil {
		return err
	}
	id := len(p.edges)
	p.edges = append(p.edges, theory.Edge{From: p.verts.Map(u), To: p.verts.Map(v), Weight: weight, Lit: lit})
	p.litEdges[lit] = append(p.litEdges[lit], id)
	ctl.AddWatch(lit)
	return nil
}

// guardWeight accepts a bare integer or a unary-minus application; any
// other guard shape is a malformed theory atom.
func guardWeight(atom theory.Atom) (int, error) {
	if atom.Guard == nil || atom.Guard.Op != "<=" {
		return 0, fmt.Errorf("malformed theory atom %v: missing or non-<= guard", atom)
	}
	g := atom.Guard.Term
	if g.IsNumber() {
		return g.Num, nil
	}
	if g.Name == "-" && len(g.Args) == 1 && g.Args[0].IsNumber() {
		return -g.Args[0].Num, nil
	}
	return 0, fmt.Errorf("malformed theory atom %v: guard is not an integer constant", atom)
}

// diffTerm pulls the vertex names out of the atom's single element's
// one-term tuple, which must be the binary difference u - v.
func diffTerm(atom theory.Atom) (u, v string, err error) {
	if len(atom.Elements) != 1 || len(atom.Elements[0].Tuple) != 1 {
		return "", "", fmt.Errorf("malformed theory atom %v: expected a single difference term", atom)
	}
	d := atom.Elements[0].Tuple[0]
	if d.Name != "-" || len(d.Args) != 2 ||
		d.Args[0].IsNumber() || len(d.Args[0].Args) != 0 ||
		d.Args[1].IsNumber() || len(d.Args[1].Args) != 0 {
		return "", "", fmt.Errorf("malformed theory atom %v: expected u - v over identifiers", atom)
	}
	return d.Args[0].Name, d.Args[1].Name, nil
}

// Propagate receives the literals newly assigned true on one thread,
// extends that thread's trail, and checks consistency. A false return
// tells the host the current assignment is inconsistent and a clause has
// been handed back (or the solver already rejected one).
func (p *Propagator) Propagate(ctl Control, changes []theory.Lit) bool {
	st := &p.states[ctl.ThreadID()]
	st.stats.Propagate.Start()
	defer st.stats.Propagate.Stop()
	st.edgeTrail = append(st.edgeTrail, changes...)
	return p.checkConsistency(ctl, st)
}

func (p *Propagator) checkConsistency(ctl Control, st *state) bool {
	for ; st.propagated < len(st.edgeTrail); st.propagated++ {
		lit := st.edgeTrail[st.propagated]
		for _, edgeIdx := range p.litEdges[lit] {
			negCycle := st.graph.AddEdge(edgeIdx)
			if len(negCycle) == 0 {
				continue
			}
			clause := make([]theory.Lit, len(negCycle))
			for i, eid := range negCycle {
				clause[i] = p.edges[eid].Lit.Neg()
			}
			if !ctl.AddClause(clause) || !ctl.Propagate() {
				return false
			}
			// The solver accepted the clause and still propagates; it
			// will backjump before asking again. Hand control back.
			return true
		}
	}
	return true
}

// Undo drops the unassigned tail from the thread's trail and resets the
// graph. The propagated cursor returns to zero, so the surviving trail
// prefix is replayed lazily on the next Propagate.
func (p *Propagator) Undo(ctl Control, changes []theory.Lit) {
	st := &p.states[ctl.ThreadID()]
	st.stats.Undo.Start()
	defer st.stats.Undo.Stop()
	st.edgeTrail = st.edgeTrail[:len(st.edgeTrail)-len(changes)]
	st.propagated = 0
	st.graph.Reset()
}

// Assignment lists name/value pairs for every vertex with a defined
// potential on the given thread, in interning order.
func (p *Propagator) Assignment(thread int) (out []utils.Pair[string, int]) {
	g := p.states[thread].graph
	for idx := 0; idx < p.verts.Len(); idx++ {
		if g.ValueDefined(idx) {
			out = append(out, utils.Pair[string, int]{First: p.verts.Name(idx), Second: g.Value(idx)})
		}
	}
	return out
}

// PrintAssignment writes the model's integer assignment block.
func (p *Propagator) PrintAssignment(thread int, w io.Writer) {
	fmt.Fprintf(w, "with assignment:\n")
	for _, nv := range p.Assignment(thread) {
		fmt.Fprintf(w, "%s:%d ", nv.First, nv.Second)
	}
	fmt.Fprintf(w, "\n")
}

// Edges exposes the shared edge table; read-only for callers.
func (p *Propagator) Edges() []theory.Edge { return p.edges }
