package theory

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Program is the grounded form of the input: the distinct diff atoms
// (Atoms[i].Lit == i+1), plus the Boolean skeleton handed to the host
// solver. Choices introduce no clauses; their atoms are free.
type Program struct {
	Atoms          []Atom
	Facts          []Lit
	Clauses        [][]Lit
	Choices        [][]Lit
	ShowAssignment bool

	keys map[string]int // canonical diff key -> atom index
}

func NewProgram() *Program {
	return &Program{keys: make(map[string]int)}
}

// NumVars is the number of solver variables the program occupies.
// Variables are exactly the atoms, 1-based.
func (p *Program) NumVars() int { return len(p.Atoms) }

// LoadProgram reads and grounds each file in order into one program.
func LoadProgram(paths []string) (*Program, error) {
	prog := NewProgram()
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		err = prog.Read(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		log.Debug().Msg("loaded " + path)
	}
	return prog, nil
}

// ReadProgram grounds a single source; convenience for tests.
func ReadProgram(r io.Reader) (*Program, error) {
	prog := NewProgram()
	if err := prog.Read(r); err != nil {
		return nil, err
	}
	return prog, nil
}

// Read grounds one source into the program.
func (p *Program) Read(r io.Reader) error {
	src, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	lx := &lexer{src: string(src), line: 1}
	for {
		tok, err := lx.peek()
		if err != nil {
			return err
		}
		if tok.kind == tokEOF {
			return nil
		}
		if err := p.readStatement(lx); err != nil {
			return err
		}
	}
}

func (p *Program) readStatement(lx *lexer) error {
	tok, err := lx.next()
	if err != nil {
		return err
	}
	switch {
	case tok.kind == tokPunct && tok.text == "&":
		return p.readTheoryStatement(lx)
	case tok.kind == tokPunct && tok.text == "{":
		return p.readChoice(lx)
	case tok.kind == tokPunct && tok.text == ":-":
		return p.readConstraint(lx)
	}
	return lx.errf("unexpected %q at start of statement", tok.text)
}

// &diff { u - v } <= k.  or  &show_assignment.
func (p *Program) readTheoryStatement(lx *lexer) error {
	name, err := lx.expectIdent()
	if err != nil {
		return err
	}
	switch name {
	case "show_assignment":
		p.ShowAssignment = true
		return lx.expectPunct(".")
	case "diff":
		lit, err := p.readDiffBody(lx)
		if err != nil {
			return err
		}
		p.Facts = append(p.Facts, lit)
		return lx.expectPunct(".")
	}
	return lx.errf("unknown theory atom &%s", name)
}

// { A; A; ... }.
func (p *Program) readChoice(lx *lexer) error {
	var lits []Lit
	for {
		if err := lx.expectPunct("&"); err != nil {
			return err
		}
		name, err := lx.expectIdent()
		if err != nil {
			return err
		}
		if name != "diff" {
			return lx.errf("only &diff atoms may appear in a choice, got &%s", name)
		}
		lit, err := p.readDiffBody(lx)
		if err != nil {
			return err
		}
		lits = append(lits, lit)
		tok, err := lx.next()
		if err != nil {
			return err
		}
		if tok.kind == tokPunct && tok.text == ";" {
			continue
		}
		if tok.kind == tokPunct && tok.text == "}" {
			break
		}
		return lx.errf("expected ';' or '}' in choice, got %q", tok.text)
	}
	p.Choices = append(p.Choices, lits)
	return lx.expectPunct(".")
}

// :- B, B, ... .   Grounds to the clause of negated body literals.
func (p *Program) readConstraint(lx *lexer) error {
	var clause []Lit
	for {
		neg := false
		tok, err := lx.next()
		if err != nil {
			return err
		}
		if tok.kind == tokIdent && tok.text == "not" {
			neg = true
			tok, err = lx.next()
			if err != nil {
				return err
			}
		}
		if tok.kind != tokPunct || tok.text != "&" {
			return lx.errf("expected &diff atom in constraint body, got %q", tok.text)
		}
		name, err := lx.expectIdent()
		if err != nil {
			return err
		}
		if name != "diff" {
			return lx.errf("expected &diff atom in constraint body, got &%s", name)
		}
		lit, err := p.readDiffBody(lx)
		if err != nil {
			return err
		}
		if neg {
			clause = append(clause, lit)
		} else {
			clause = append(clause, lit.Neg())
		}
		tok, err = lx.next()
		if err != nil {
			return err
		}
		if tok.kind == tokPunct && tok.text == "," {
			continue
		}
		if tok.kind == tokPunct && tok.text == "." {
			break
		}
		return lx.errf("expected ',' or '.' in constraint body, got %q", tok.text)
	}
	p.Clauses = append(p.Clauses, clause)
	return nil
}

// readDiffBody parses `{ u - v } <= k` (the part after &diff) and interns
// the atom, returning its program literal.
func (p *Program) readDiffBody(lx *lexer) (Lit, error) {
	if err := lx.expectPunct("{"); err != nil {
		return 0, err
	}
	u, err := lx.expectIdent()
	if err != nil {
		return 0, err
	}
	if err := lx.expectPunct("-"); err != nil {
		return 0, err
	}
	v, err := lx.expectIdent()
	if err != nil {
		return 0, err
	}
	if err := lx.expectPunct("}"); err != nil {
		return 0, err
	}
	op, err := lx.next()
	if err != nil {
		return 0, err
	}
	if op.kind != tokPunct || (op.text != "<=" && op.text != "<") {
		return 0, lx.errf("expected guard '<=' or '<', got %q", op.text)
	}
	k, err := p.readConstant(lx)
	if err != nil {
		return 0, err
	}
	if op.text == "<" {
		// Strict guards ground as non-strict over the integers.
		k--
	}
	return p.internAtom(u, v, k), nil
}

// readConstant parses an integer constant, possibly under a unary minus.
func (p *Program) readConstant(lx *lexer) (int, error) {
	neg := false
	tok, err := lx.next()
	if err != nil {
		return 0, err
	}
	if tok.kind == tokPunct && tok.text == "-" {
		neg = true
		tok, err = lx.next()
		if err != nil {
			return 0, err
		}
	}
	if tok.kind != tokNum {
		return 0, lx.errf("expected integer constant, got %q", tok.text)
	}
	n, err := strconv.Atoi(tok.text)
	if err != nil || n > math.MaxInt32 {
		return 0, lx.errf("constant %q out of range", tok.text)
	}
	if neg {
		n = -n
	}
	return n, nil
}

// internAtom returns the literal of the (u, v, k) diff atom, creating it
// on first sight. Identical triples are one atom and one solver variable.
func (p *Program) internAtom(u, v string, k int) Lit {
	if p.keys == nil {
		p.keys = make(map[string]int)
	}
	key := u + "|" + v + "|" + strconv.Itoa(k)
	if idx, ok := p.keys[key]; ok {
		return p.Atoms[idx].Lit
	}
	guard := Guard{Op: "<="}
	if k < 0 {
		guard.Term = Term{Name: "-", Args: []Term{Number(-k)}}
	} else {
		guard.Term = Number(k)
	}
	atom := Atom{
		Term:     Ident("diff"),
		Elements: []Element{{Tuple: []Term{{Name: "-", Args: []Term{Ident(u), Ident(v)}}}}},
		Guard:    &guard,
		Lit:      Lit(len(p.Atoms) + 1),
	}
	p.keys[key] = len(p.Atoms)
	p.Atoms = append(p.Atoms, atom)
	return atom.Lit
}

// ------------------ lexer ------------------ //

type tokKind uint8

const (
	tokEOF tokKind = iota
	tokIdent
	tokNum
	tokPunct
)

type token struct {
	kind tokKind
	text string
}

type lexer struct {
	src    string
	pos    int
	line   int
	peeked *token
}

func (lx *lexer) errf(format string, args ...interface{}) error {
	return fmt.Errorf("line %d: %s", lx.line, fmt.Sprintf(format, args...))
}

func (lx *lexer) peek() (token, error) {
	if lx.peeked == nil {
		tok, err := lx.scan()
		if err != nil {
			return token{}, err
		}
		lx.peeked = &tok
	}
	return *lx.peeked, nil
}

func (lx *lexer) next() (token, error) {
	if lx.peeked != nil {
		tok := *lx.peeked
		lx.peeked = nil
		return tok, nil
	}
	return lx.scan()
}

func (lx *lexer) expectIdent() (string, error) {
	tok, err := lx.next()
	if err != nil {
		return "", err
	}
	if tok.kind != tokIdent {
		return "", lx.errf("expected identifier, got %q", tok.text)
	}
	return tok.text, nil
}

func (lx *lexer) expectPunct(text string) error {
	tok, err := lx.next()
	if err != nil {
		return err
	}
	if tok.kind != tokPunct || tok.text != text {
		return lx.errf("expected %q, got %q", text, tok.text)
	}
	return nil
}

func (lx *lexer) scan() (token, error) {
	src := lx.src
	for lx.pos < len(src) {
		c := src[lx.pos]
		switch {
		case c == '\n':
			lx.line++
			lx.pos++
		case c == ' ' || c == '\t' || c == '\r':
			lx.pos++
		case c == '%': // comment to end of line
			for lx.pos < len(src) && src[lx.pos] != '\n' {
				lx.pos++
			}
		default:
			goto scan
		}
	}
	return token{kind: tokEOF}, nil

scan:
	c := src[lx.pos]
	switch {
	case isIdentStart(c):
		start := lx.pos
		for lx.pos < len(src) && isIdentPart(src[lx.pos]) {
			lx.pos++
		}
		return token{kind: tokIdent, text: src[start:lx.pos]}, nil
	case c >= '0' && c <= '9':
		start := lx.pos
		for lx.pos < len(src) && src[lx.pos] >= '0' && src[lx.pos] <= '9' {
			lx.pos++
		}
		return token{kind: tokNum, text: src[start:lx.pos]}, nil
	case c == ':':
		if lx.pos+1 < len(src) && src[lx.pos+1] == '-' {
			lx.pos += 2
			return token{kind: tokPunct, text: ":-"}, nil
		}
		return token{}, lx.errf("stray ':'")
	case c == '<':
		if lx.pos+1 < len(src) && src[lx.pos+1] == '=' {
			lx.pos += 2
			return token{kind: tokPunct, text: "<="}, nil
		}
		lx.pos++
		return token{kind: tokPunct, text: "<"}, nil
	case c == '&' || c == '{' || c == '}' || c == ';' || c == '.' || c == ',' || c == '-':
		lx.pos++
		return token{kind: tokPunct, text: string(c)}, nil
	}
	return token{}, lx.errf("unexpected character %q", string(c))
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
