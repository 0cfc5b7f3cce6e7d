// Package solve is the host side: a CDCL Boolean solver (gini) driven in
// a lazy theory loop. Boolean models are checked against the
// difference-logic propagator; inconsistent ones are blocked by the
// learnt cycle clause and the search resumes.
package solve

import (
	"github.com/go-air/gini"
	"github.com/go-air/gini/z"
	"github.com/rs/zerolog/log"

	"github.com/difflog/difflog/propagator"
	"github.com/difflog/difflog/theory"
	"github.com/difflog/difflog/utils"
)

type Options struct {
	Threads   int // propagator worker threads; model checks rotate over them
	MaxModels int // stop after this many models; 0 means enumerate all
}

// Model is one theory-consistent answer. Atoms are the true diff atoms.
// Thread identifies whose propagator state holds the witness assignment;
// it is valid until the host moves on.
type Model struct {
	Number int
	Thread int
	Atoms  []theory.Atom
}

type Host struct {
	prog    *theory.Program
	sat     *gini.Gini
	prop    *propagator.Propagator
	opts    Options
	watched map[theory.Lit]bool
}

func New(prog *theory.Program, stats *propagator.Stats, opts Options) (*Host, error) {
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	h := &Host{
		prog:    prog,
		sat:     gini.NewV(prog.NumVars()),
		opts:    opts,
		watched: make(map[theory.Lit]bool),
	}
	// Register every atom variable with the solver, so free (choice)
	// atoms are decided and enumerated too.
	for _, a := range prog.Atoms {
		h.sat.Add(giniLit(a.Lit))
		h.sat.Add(giniLit(a.Lit.Neg()))
		h.sat.Add(0)
	}
	for _, f := range prog.Facts {
		h.sat.Add(giniLit(f))
		h.sat.Add(0)
	}
	for _, c := range prog.Clauses {
		for _, l := range c {
			h.sat.Add(giniLit(l))
		}
		h.sat.Add(0)
	}
	h.prop = propagator.New(stats)
	if err := h.prop.Init(&initControl{h}); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Host) Propagator() *propagator.Propagator { return h.prop }

// Run enumerates theory-consistent models, invoking onModel for each
// until it returns false, the model limit is hit, or the space is
// exhausted. Returns the number of models found.
func (h *Host) Run(onModel func(Model) bool) (nModels int) {
	tid := 0
	for {
		if h.opts.MaxModels > 0 && nModels >= h.opts.MaxModels {
			return nModels
		}
		if h.sat.Solve() != 1 {
			return nModels
		}
		ctl := &control{h: h, thread: tid}
		changes := h.modelChanges()
		ok := h.prop.Propagate(ctl, changes)
		if !ok {
			// The cycle clause is in the solver now; back out and resolve.
			h.prop.Undo(ctl, changes)
			tid = (tid + 1) % h.opts.Threads
			continue
		}
		nModels++
		log.Debug().Msg("model " + utils.V(nModels) + " on thread " + utils.V(tid))
		cont := onModel(Model{Number: nModels, Thread: tid, Atoms: h.trueAtoms()})
		h.prop.Undo(ctl, changes)
		tid = (tid + 1) % h.opts.Threads
		if !cont || h.prog.NumVars() == 0 {
			return nModels
		}
		h.blockModel()
	}
}

// modelChanges lists the watched literals true in the current Boolean
// model, in variable order: the propagation trail for this check.
func (h *Host) modelChanges() (changes []theory.Lit) {
	for v := 1; v <= h.prog.NumVars(); v++ {
		lit := theory.Lit(v)
		if h.watched[lit] && h.sat.Value(giniLit(lit)) {
			changes = append(changes, lit)
		}
	}
	return changes
}

func (h *Host) trueAtoms() (atoms []theory.Atom) {
	for _, a := range h.prog.Atoms {
		if h.sat.Value(giniLit(a.Lit)) {
			atoms = append(atoms, a)
		}
	}
	return atoms
}

// blockModel forbids the current atom assignment, forcing enumeration on.
func (h *Host) blockModel() {
	for _, a := range h.prog.Atoms {
		if h.sat.Value(giniLit(a.Lit)) {
			h.sat.Add(giniLit(a.Lit.Neg()))
		} else {
			h.sat.Add(giniLit(a.Lit))
		}
	}
	h.sat.Add(0)
}

func giniLit(l theory.Lit) z.Lit {
	v := z.Var(l.Var())
	if l < 0 {
		return v.Neg()
	}
	return v.Pos()
}

// ------------------ propagator controls ------------------ //

type initControl struct{ h *Host }

func (c *initControl) TheoryAtoms() []theory.Atom { return c.h.prog.Atoms }

// Program literals are already solver variables here; resolution is the
// identity. A grounder with its own literal space would map them.
func (c *initControl) SolverLiteral(aLit theory.Lit) theory.Lit { return aLit }

func (c *initControl) NumThreads() int { return c.h.opts.Threads }

func (c *initControl) AddWatch(lit theory.Lit) { c.h.watched[lit] = true }

type control struct {
	h      *Host
	thread int
}

func (c *control) ThreadID() int { return c.thread }

func (c *control) AddClause(clause []theory.Lit) bool {
	for _, l := range clause {
		c.h.sat.Add(giniLit(l))
	}
	c.h.sat.Add(0)
	return true
}

// Propagate reports false: on this host a learnt clause always means the
// current model is dead, and the next Solve call starts the backjump.
func (c *control) Propagate() bool { return false }
