package propagator

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/difflog/difflog/theory"
)

type fakeInit struct {
	atoms   []theory.Atom
	threads int
	watched []theory.Lit
	resolve func(theory.Lit) theory.Lit
}

func (f *fakeInit) TheoryAtoms() []theory.Atom { return f.atoms }
func (f *fakeInit) SolverLiteral(l theory.Lit) theory.Lit {
	if f.resolve != nil {
		return f.resolve(l)
	}
	return l
}
func (f *fakeInit) NumThreads() int         { return f.threads }
func (f *fakeInit) AddWatch(lit theory.Lit) { f.watched = append(f.watched, lit) }

type fakeControl struct {
	thread      int
	clauses     [][]theory.Lit
	clauseOK    bool
	propagateOK bool
}

func (f *fakeControl) ThreadID() int { return f.thread }
func (f *fakeControl) AddClause(clause []theory.Lit) bool {
	f.clauses = append(f.clauses, clause)
	return f.clauseOK
}
func (f *fakeControl) Propagate() bool { return f.propagateOK }

func mkProp(t *testing.T, src string, threads int) (*Propagator, *fakeInit) {
	t.Helper()
	prog, err := theory.ReadProgram(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	p := New(&Stats{})
	fi := &fakeInit{atoms: prog.Atoms, threads: threads}
	if err := p.Init(fi); err != nil {
		t.Fatal(err)
	}
	return p, fi
}

func TestInitGroundsEdges(t *testing.T) {
	p, fi := mkProp(t, "&diff { a - b } <= 3. &diff { b - a } <= -2.", 1)
	edges := p.Edges()
	if len(edges) != 2 {
		t.Fatalf("want 2 edges, got %d", len(edges))
	}
	if e := edges[0]; e.From != 0 || e.To != 1 || e.Weight != 3 || e.Lit != 1 {
		t.Fatalf("unexpected edge 0: %v", e)
	}
	if e := edges[1]; e.From != 1 || e.To != 0 || e.Weight != -2 || e.Lit != 2 {
		t.Fatalf("unexpected edge 1: %v", e)
	}
	if len(fi.watched) != 2 || fi.watched[0] != 1 || fi.watched[1] != 2 {
		t.Fatalf("unexpected watches %v", fi.watched)
	}
}

func TestInitResolvesSolverLiterals(t *testing.T) {
	prog, err := theory.ReadProgram(strings.NewReader("&diff { a - b } <= 1."))
	if err != nil {
		t.Fatal(err)
	}
	p := New(&Stats{})
	fi := &fakeInit{atoms: prog.Atoms, threads: 1, resolve: func(l theory.Lit) theory.Lit { return l + 10 }}
	if err := p.Init(fi); err != nil {
		t.Fatal(err)
	}
	if p.Edges()[0].Lit != 11 {
		t.Fatalf("solver literal not resolved: %v", p.Edges()[0])
	}
	if len(fi.watched) != 1 || fi.watched[0] != 11 {
		t.Fatalf("watch registered on wrong literal: %v", fi.watched)
	}
	// Propagation is keyed by the solver literal.
	ctl := &fakeControl{clauseOK: true}
	if !p.Propagate(ctl, []theory.Lit{11}) {
		t.Fatalf("propagate failed")
	}
	if got := p.Assignment(0); len(got) != 2 {
		t.Fatalf("edge not applied: %v", got)
	}
}

func TestInitMalformedAtoms(t *testing.T) {
	diff := theory.Term{Name: "-", Args: []theory.Term{theory.Ident("a"), theory.Ident("b")}}
	bad := []theory.Atom{
		{Term: theory.Ident("diff"), Lit: 1,
			Elements: []theory.Element{{Tuple: []theory.Term{diff}}},
			Guard:    &theory.Guard{Op: "<=", Term: theory.Ident("x")}},
		{Term: theory.Ident("diff"), Lit: 1,
			Elements: []theory.Element{{Tuple: []theory.Term{diff}}}},
		{Term: theory.Ident("diff"), Lit: 1,
			Elements: []theory.Element{{Tuple: []theory.Term{theory.Ident("a")}}},
			Guard:    &theory.Guard{Op: "<=", Term: theory.Number(1)}},
	}
	for i, atom := range bad {
		p := New(&Stats{})
		if err := p.Init(&fakeInit{atoms: []theory.Atom{atom}, threads: 1}); err == nil {
			t.Fatalf("case %d: malformed atom accepted", i)
		}
	}
}

func TestPropagateConflictClause(t *testing.T) {
	p, _ := mkProp(t, "&diff { a - b } <= 1. &diff { b - a } <= -2.", 1)
	ctl := &fakeControl{clauseOK: true}
	if p.Propagate(ctl, []theory.Lit{1, 2}) {
		t.Fatalf("conflicting trail propagated successfully")
	}
	if len(ctl.clauses) != 1 {
		t.Fatalf("want 1 learnt clause, got %d", len(ctl.clauses))
	}
	got := map[theory.Lit]bool{}
	for _, l := range ctl.clauses[0] {
		got[l] = true
	}
	if len(got) != 2 || !got[-1] || !got[-2] {
		t.Fatalf("unexpected clause %v", ctl.clauses[0])
	}
}

func TestPropagateAfterClauseAccepted(t *testing.T) {
	// If the solver takes the clause and keeps propagating, control is
	// handed back without failure; the solver backjumps on its own.
	p, _ := mkProp(t, "&diff { a - b } <= 1. &diff { b - a } <= -2.", 1)
	ctl := &fakeControl{clauseOK: true, propagateOK: true}
	if !p.Propagate(ctl, []theory.Lit{1, 2}) {
		t.Fatalf("expected success when the solver accepts clause and propagation")
	}
}

func TestPropagateIncremental(t *testing.T) {
	p, _ := mkProp(t, "&diff { a - b } <= 1. &diff { b - a } <= -2.", 1)
	ctl := &fakeControl{clauseOK: true}
	if !p.Propagate(ctl, []theory.Lit{1}) {
		t.Fatalf("feasible prefix rejected")
	}
	if p.Propagate(ctl, []theory.Lit{2}) {
		t.Fatalf("conflicting extension accepted")
	}
}

func assignmentMap(p *Propagator, thread int) map[string]int {
	out := make(map[string]int)
	for _, nv := range p.Assignment(thread) {
		out[nv.First] = nv.Second
	}
	return out
}

func TestUndoTrailReplay(t *testing.T) {
	src := "&diff { a - b } <= -1. &diff { b - c } <= -1. &diff { c - d } <= -1."
	p, _ := mkProp(t, src, 1)
	ctl := &fakeControl{clauseOK: true}
	if !p.Propagate(ctl, []theory.Lit{1, 2, 3}) {
		t.Fatalf("feasible trail rejected")
	}
	want := assignmentMap(p, 0)

	// Backtrack past the tail literal, then re-assert it: the replayed
	// state must match the live one.
	p.Undo(ctl, []theory.Lit{3})
	if !p.Propagate(ctl, []theory.Lit{3}) {
		t.Fatalf("replayed trail rejected")
	}
	if diff := cmp.Diff(want, assignmentMap(p, 0)); diff != "" {
		t.Fatalf("replay differs from live state (-want +got):\n%s", diff)
	}

	// Full reset and replay from scratch agrees too.
	p.Undo(ctl, []theory.Lit{1, 2, 3})
	if !p.Propagate(ctl, []theory.Lit{1, 2, 3}) {
		t.Fatalf("full replay rejected")
	}
	if diff := cmp.Diff(want, assignmentMap(p, 0)); diff != "" {
		t.Fatalf("full replay differs (-want +got):\n%s", diff)
	}
}

func TestThreadsArePartitioned(t *testing.T) {
	const threads = 4
	src := "&diff { a - b } <= 1. &diff { b - a } <= -2."
	p, _ := mkProp(t, src, threads)

	var wg sync.WaitGroup
	ctls := make([]*fakeControl, threads)
	for tid := 0; tid < threads; tid++ {
		ctls[tid] = &fakeControl{thread: tid, clauseOK: true}
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			ctl := ctls[tid]
			if tid%2 == 0 {
				// Feasible trail on even threads.
				if !p.Propagate(ctl, []theory.Lit{1}) {
					t.Errorf("thread %d: feasible trail rejected", tid)
				}
			} else {
				// Conflict on odd threads.
				if p.Propagate(ctl, []theory.Lit{1, 2}) {
					t.Errorf("thread %d: conflict missed", tid)
				}
			}
		}(tid)
	}
	wg.Wait()
	for tid := 0; tid < threads; tid++ {
		if tid%2 == 0 {
			if len(ctls[tid].clauses) != 0 {
				t.Fatalf("thread %d learnt a clause from a feasible trail", tid)
			}
			if len(assignmentMap(p, tid)) == 0 {
				t.Fatalf("thread %d has no assignment", tid)
			}
		} else if len(ctls[tid].clauses) != 1 {
			t.Fatalf("thread %d: want 1 clause, got %d", tid, len(ctls[tid].clauses))
		}
	}
}

func TestPrintAssignment(t *testing.T) {
	p, _ := mkProp(t, "&diff { a - b } <= 0.", 1)
	ctl := &fakeControl{clauseOK: true}
	if !p.Propagate(ctl, []theory.Lit{1}) {
		t.Fatalf("rejected")
	}
	var buf bytes.Buffer
	p.PrintAssignment(0, &buf)
	if got := buf.String(); got != "with assignment:\na:0 b:0 \n" {
		t.Fatalf("unexpected assignment block %q", got)
	}
}
