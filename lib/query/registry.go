package query

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ValentinKolb/infinity/lib/attr"
	"github.com/ValentinKolb/infinity/lib/heap"
	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/ValentinKolb/infinity/lib/term"
)

// BuildFunc compiles one predicate application
type BuildFunc func(c *Call) (term.Term, error)

// SeeFunc updates the attributes a predicate relies on after the store
// applied a notice
type SeeFunc func(env Env, n notice.Notice) error

// Predicate is one entry of a Registry.
type Predicate struct {
	Name  string
	Build BuildFunc
	See   SeeFunc // optional
}

// Registry is an ordered, immutable set of predicates.
type Registry struct {
	preds []Predicate
	index map[string]int
}

// NewRegistry returns a registry of preds in the given order. Names must be
// unique.
func NewRegistry(preds ...Predicate) (*Registry, error) {
	r := &Registry{preds: preds, index: make(map[string]int, len(preds))}
	for i, p := range preds {
		if p.Name == "" || p.Build == nil {
			return nil, fmt.Errorf("predicate #%d is incomplete", i)
		}
		if _, dup := r.index[p.Name]; dup {
			return nil, fmt.Errorf("predicate %q registered twice", p.Name)
		}
		r.index[p.Name] = i
	}
	return r, nil
}

// Lookup finds a predicate by name.
func (r *Registry) Lookup(name string) (Predicate, bool) {
	i, ok := r.index[name]
	if !ok {
		return Predicate{}, false
	}
	return r.preds[i], true
}

// Names returns the predicate names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.preds))
	for i, p := range r.preds {
		out[i] = p.Name
	}
	return out
}

// See runs the See hooks in registration order. All hooks run, the errors
// are joined.
func (r *Registry) See(env Env, n notice.Notice) error {
	var errs []error
	for _, p := range r.preds {
		if p.See == nil {
			continue
		}
		if err := p.See(env, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
		}
	}
	return errors.Join(errs...)
}

// DefaultRegistry returns the predicates of the query language.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		Predicate{Name: "and", Build: buildAnd},
		Predicate{Name: "or", Build: buildOr},
		Predicate{Name: "not", Build: buildNot},
		Predicate{Name: "always", Build: buildAlways},
		Predicate{Name: "never", Build: buildNever},
		Predicate{Name: "matches", Build: buildMatches},
		Predicate{Name: "equal", Build: buildEqual},
		Predicate{Name: "greater-than", Build: buildCompare("greater-than", func(v, n int64) bool { return v > n })},
		Predicate{Name: "less-than", Build: buildCompare("less-than", func(v, n int64) bool { return v < n })},
		Predicate{Name: "bundled", Build: buildBundled, See: seeBundled},
		Predicate{Name: "unbundled", Build: buildUnbundled},
		Predicate{Name: "talks-with", Build: buildMatcher(attr.TalksWith), See: seeTalksWith},
		Predicate{Name: "seen-by", Build: buildMatcher(attr.SeenBy), See: seeSeenBy},
		Predicate{Name: "from", Build: buildCount(func(h *heap.Heap, n int) term.Term { return term.NewFrom(h, n) })},
		Predicate{Name: "limit", Build: buildCount(func(h *heap.Heap, n int) term.Term { return term.NewLimit(h, n) })},
		Predicate{Name: "unique", Build: buildUnique},
		Predicate{Name: "pos", Build: buildCount(func(h *heap.Heap, n int) term.Term { return term.NewPos(h, n) })},
		Predicate{Name: "ns", Build: buildMatcher(attr.AuthorNS)},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// --------------------------------------------------------------------------
// Builders
// --------------------------------------------------------------------------

func buildAnd(c *Call) (term.Term, error) {
	ts, err := c.Terms()
	if err != nil {
		return nil, err
	}
	return term.NewAnd(c.Heap(), ts...), nil
}

func buildOr(c *Call) (term.Term, error) {
	ts, err := c.Terms()
	if err != nil {
		return nil, err
	}
	if err := noFilters(c, ts); err != nil {
		return nil, err
	}
	return term.NewOr(c.Heap(), ts...), nil
}

func buildNot(c *Call) (term.Term, error) {
	if err := c.Arity(1); err != nil {
		return nil, err
	}
	t, err := c.Term(0)
	if err != nil {
		return nil, err
	}
	if err := noFilters(c, []term.Term{t}); err != nil {
		return nil, err
	}
	return term.NewNot(c.Heap(), t), nil
}

// noFilters rejects stateful filters (limit, from, pos, unique) below or and
// not. Those shift their children for candidates they later drop, a filter
// there would count results the query never returns.
func noFilters(c *Call, ts []term.Term) error {
	for _, t := range ts {
		if term.IsVolatile(t) {
			return c.Errorf("cannot contain the filter %s, use it at the top level or in and", t)
		}
	}
	return nil
}

func buildAlways(c *Call) (term.Term, error) {
	if err := c.Arity(0); err != nil {
		return nil, err
	}
	return term.NewAlways(c.Heap()), nil
}

func buildNever(c *Call) (term.Term, error) {
	if err := c.Arity(0); err != nil {
		return nil, err
	}
	return term.NewNever(c.Heap()), nil
}

// (matches 'text' $attr) matches any word of text with length of three or
// more. Text without such words matches everything.
func buildMatches(c *Call) (term.Term, error) {
	if err := c.Arity(2); err != nil {
		return nil, err
	}
	text, err := c.Text(0)
	if err != nil {
		return nil, err
	}
	a, err := c.Attr(1)
	if err != nil {
		return nil, err
	}
	h := c.Heap()
	words := heap.Words(text)
	if len(words) == 0 {
		return term.NewAlways(h), nil
	}
	if h.Tokenized(a) {
		ts := make([]term.Term, len(words))
		for i, w := range words {
			ts[i] = term.NewWordMatcher(h, a, w)
		}
		return term.NewOr(h, ts...), nil
	}
	want := make(map[string]struct{}, len(words))
	for _, w := range words {
		want[w] = struct{}{}
	}
	return term.NewScan(h, c.Expr.String(), func(m *attr.Msg) bool {
		for _, v := range m.All(a) {
			for _, w := range heap.Words(v) {
				if _, ok := want[w]; ok {
					return true
				}
			}
		}
		return false
	}), nil
}

func buildEqual(c *Call) (term.Term, error) {
	if err := c.Arity(2); err != nil {
		return nil, err
	}
	a, err := c.Attr(0)
	if err != nil {
		return nil, err
	}
	v, err := c.Text(1)
	if err != nil {
		return nil, err
	}
	return term.NewMatcher(c.Heap(), a, v), nil
}

func buildCompare(name string, cmp func(v, n int64) bool) BuildFunc {
	return func(c *Call) (term.Term, error) {
		if err := c.Arity(2); err != nil {
			return nil, err
		}
		a, err := c.Attr(0)
		if err != nil {
			return nil, err
		}
		n, err := c.Number(1)
		if err != nil {
			return nil, err
		}
		return term.NewScan(c.Heap(), c.Expr.String(), func(m *attr.Msg) bool {
			for _, s := range m.All(a) {
				if v, err := strconv.ParseInt(s, 10, 64); err == nil && cmp(v, n) {
					return true
				}
			}
			return false
		}), nil
	}
}

// buildMatcher compiles (name 'value') into an exact match on a
func buildMatcher(a attr.Attribute) BuildFunc {
	return func(c *Call) (term.Term, error) {
		if err := c.Arity(1); err != nil {
			return nil, err
		}
		v, err := c.Text(0)
		if err != nil {
			return nil, err
		}
		return term.NewMatcher(c.Heap(), a, v), nil
	}
}

func buildCount(mk func(h *heap.Heap, n int) term.Term) BuildFunc {
	return func(c *Call) (term.Term, error) {
		if err := c.Arity(1); err != nil {
			return nil, err
		}
		n, err := c.Count(0)
		if err != nil {
			return nil, err
		}
		return mk(c.Heap(), n), nil
	}
}

func buildUnique(c *Call) (term.Term, error) {
	if err := c.Arity(1); err != nil {
		return nil, err
	}
	a, err := c.Attr(0)
	if err != nil {
		return nil, err
	}
	return term.NewUnique(c.Heap(), a), nil
}

func buildBundled(c *Call) (term.Term, error) {
	if err := c.Arity(0); err != nil {
		return nil, err
	}
	return term.NewBundled(c.Heap()), nil
}

// (unbundled N) matches the messages of other bouts hidden behind bout N's
// bundle marker.
func buildUnbundled(c *Call) (term.Term, error) {
	if err := c.Arity(1); err != nil {
		return nil, err
	}
	bout, err := c.Number(0)
	if err != nil {
		return nil, err
	}
	h := c.Heap()
	number := strconv.FormatInt(bout, 10)
	latest, ok := h.PostingBelow(attr.BoutNumber, number, term.TOP)
	if !ok {
		return term.NewNever(h), nil
	}
	m, ok := h.Lookup(latest)
	if !ok {
		return term.NewNever(h), nil
	}
	marker, ok := m.First(attr.Bundle)
	if !ok {
		return term.NewNever(h), nil
	}
	return term.NewAnd(h,
		term.NewMatcher(h, attr.Bundle, marker),
		term.NewNot(h, term.NewMatcher(h, attr.BoutNumber, number)),
	), nil
}
