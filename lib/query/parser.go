package query

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ValentinKolb/infinity/lib/attr"
	"github.com/ValentinKolb/infinity/lib/heap"
	"github.com/ValentinKolb/infinity/lib/term"
)

// Env is what predicates compile against.
type Env interface {
	Heap() *heap.Heap
}

type heapEnv struct{ h *heap.Heap }

func (e heapEnv) Heap() *heap.Heap { return e.h }

// NewEnv returns an Env over a bare heap.
func NewEnv(h *heap.Heap) Env { return heapEnv{h} }

// --------------------------------------------------------------------------
// Syntax tree
// --------------------------------------------------------------------------

// AtomKind tells which field of an Atom is set
type AtomKind int

const (
	AtomString AtomKind = iota
	AtomNumber
	AtomAttr
	AtomExpr
)

// Atom is one argument of an expression.
type Atom struct {
	Kind AtomKind
	Pos  int
	Str  string
	Num  int64
	Attr attr.Attribute
	Expr *Expr
}

// Expr is a parenthesized predicate application.
type Expr struct {
	Name string
	Pos  int
	Args []Atom
}

func (e *Expr) String() string {
	parts := []string{e.Name}
	for _, a := range e.Args {
		switch a.Kind {
		case AtomString:
			parts = append(parts, "'"+strings.ReplaceAll(a.Str, "'", `\'`)+"'")
		case AtomNumber:
			parts = append(parts, strconv.FormatInt(a.Num, 10))
		case AtomAttr:
			parts = append(parts, "$"+a.Attr.Name())
		case AtomExpr:
			parts = append(parts, a.Expr.String())
		}
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// --------------------------------------------------------------------------
// Parser
// --------------------------------------------------------------------------

// Parser compiles queries with a fixed registry.
//
// Thread-safety: safe for concurrent use, every Parse builds a fresh term tree.
type Parser struct {
	reg *Registry
}

func NewParser(reg *Registry) *Parser {
	return &Parser{reg: reg}
}

var defaultParser = sync.OnceValue(func() *Parser {
	return NewParser(DefaultRegistry())
})

// Parse compiles q with the default registry.
func Parse(q string, env Env) (term.Term, error) {
	return defaultParser().Parse(q, env)
}

// Registry returns the predicates this parser knows.
func (p *Parser) Registry() *Registry { return p.reg }

// Parse compiles q against env.
func (p *Parser) Parse(q string, env Env) (term.Term, error) {
	e, err := ParseExpr(q)
	if err != nil {
		return nil, err
	}
	return p.Compile(e, env)
}

// Compile builds the term of a parsed expression.
func (p *Parser) Compile(e *Expr, env Env) (term.Term, error) {
	pred, ok := p.reg.Lookup(e.Name)
	if !ok {
		return nil, errorf(e.Name, e.Pos, "unknown predicate")
	}
	return pred.Build(&Call{Expr: e, Env: env, p: p})
}

// Normalize rewrites a bare text query into an expression. Queries starting
// with a parenthesis are returned unchanged.
func Normalize(q string) string {
	q = strings.TrimSpace(q)
	switch {
	case q == "":
		return "(always)"
	case strings.HasPrefix(q, "("):
		return q
	}
	lit := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(q)
	return fmt.Sprintf("(or (matches '%s' $%s) (matches '%s' $%s) (matches '%s' $%s))",
		lit, attr.Text, lit, attr.BoutTitle, lit, attr.AuthorAlias)
}

// ParseExpr parses the syntax of q after normalization.
func ParseExpr(q string) (*Expr, error) {
	toks, err := lex(Normalize(q))
	if err != nil {
		return nil, err
	}
	ps := &syntax{toks: toks}
	e, err := ps.expr()
	if err != nil {
		return nil, err
	}
	if t := ps.peek(); t.kind != tokEOF {
		return nil, errorf(t.text, t.pos, "unexpected %s after expression", t.kind)
	}
	return e, nil
}

type syntax struct {
	toks []token
	i    int
}

func (s *syntax) peek() token { return s.toks[s.i] }

func (s *syntax) next() token {
	t := s.toks[s.i]
	if t.kind != tokEOF {
		s.i++
	}
	return t
}

func (s *syntax) expr() (*Expr, error) {
	open := s.next()
	if open.kind != tokOpen {
		return nil, errorf(open.text, open.pos, "expected '(' but got %s", open.kind)
	}
	name := s.next()
	if name.kind != tokName {
		return nil, errorf(name.text, name.pos, "expected predicate name but got %s", name.kind)
	}
	e := &Expr{Name: name.text, Pos: name.pos}
	for {
		t := s.peek()
		switch t.kind {
		case tokClose:
			s.next()
			return e, nil
		case tokEOF:
			return nil, errorf(e.Name, t.pos, "missing ')'")
		case tokOpen:
			sub, err := s.expr()
			if err != nil {
				return nil, err
			}
			e.Args = append(e.Args, Atom{Kind: AtomExpr, Pos: t.pos, Expr: sub})
		case tokString:
			s.next()
			e.Args = append(e.Args, Atom{Kind: AtomString, Pos: t.pos, Str: t.text})
		case tokNumber:
			s.next()
			n, err := strconv.ParseInt(t.text, 10, 64)
			if err != nil {
				return nil, errorf(t.text, t.pos, "bad number: %v", err)
			}
			e.Args = append(e.Args, Atom{Kind: AtomNumber, Pos: t.pos, Num: n})
		case tokAttr:
			s.next()
			a, err := attr.New(t.text)
			if err != nil {
				return nil, errorf("$"+t.text, t.pos, "%v", err)
			}
			e.Args = append(e.Args, Atom{Kind: AtomAttr, Pos: t.pos, Attr: a})
		default:
			return nil, errorf(t.text, t.pos, "unexpected %s", t.kind)
		}
	}
}

// --------------------------------------------------------------------------
// Call
// --------------------------------------------------------------------------

// Call is the context a predicate builds its term in.
type Call struct {
	*Expr
	Env Env
	p   *Parser
}

// Heap returns the heap of the environment.
func (c *Call) Heap() *heap.Heap { return c.Env.Heap() }

// Errorf returns a PredicateError located at the call.
func (c *Call) Errorf(format string, args ...any) error {
	return errorf(c.Name, c.Pos, format, args...)
}

// Arity fails unless the call has exactly n arguments.
func (c *Call) Arity(n int) error {
	if len(c.Args) != n {
		return c.Errorf("expects %d arguments, got %d", n, len(c.Args))
	}
	return nil
}

func (c *Call) arg(i int, kind AtomKind, what string) (Atom, error) {
	if i >= len(c.Args) {
		return Atom{}, c.Errorf("missing %s argument #%d", what, i+1)
	}
	a := c.Args[i]
	if a.Kind != kind {
		return Atom{}, errorf(c.Name, a.Pos, "argument #%d must be a %s", i+1, what)
	}
	return a, nil
}

// Text returns argument i as a string. Numbers are accepted too.
func (c *Call) Text(i int) (string, error) {
	if i < len(c.Args) && c.Args[i].Kind == AtomNumber {
		return strconv.FormatInt(c.Args[i].Num, 10), nil
	}
	a, err := c.arg(i, AtomString, "string")
	return a.Str, err
}

// Number returns argument i as an integer.
func (c *Call) Number(i int) (int64, error) {
	a, err := c.arg(i, AtomNumber, "number")
	return a.Num, err
}

// Count returns argument i as a non-negative integer.
func (c *Call) Count(i int) (int, error) {
	n, err := c.Number(i)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errorf(c.Name, c.Args[i].Pos, "argument #%d must not be negative", i+1)
	}
	return int(n), nil
}

// Attr returns argument i as an attribute.
func (c *Call) Attr(i int) (attr.Attribute, error) {
	a, err := c.arg(i, AtomAttr, "attribute")
	return a.Attr, err
}

// Term compiles argument i, which must be an expression.
func (c *Call) Term(i int) (term.Term, error) {
	a, err := c.arg(i, AtomExpr, "expression")
	if err != nil {
		return nil, err
	}
	return c.p.Compile(a.Expr, c.Env)
}

// Terms compiles all arguments, which must be expressions.
func (c *Call) Terms() ([]term.Term, error) {
	out := make([]term.Term, len(c.Args))
	for i := range c.Args {
		t, err := c.Term(i)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}
