package term

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/infinity/lib/attr"
	"github.com/ValentinKolb/infinity/lib/heap"
	"github.com/ValentinKolb/infinity/lib/lattice"
)

// filter holds what every volatile term shares. The embedding term provides
// Accept; Shift evaluates it over the existing messages.
type filter struct {
	mu  sync.Mutex
	h   *heap.Heap
	lat *lattice.Lattice
}

func newFilter(h *heap.Heap) filter {
	return filter{h: h, lat: lattice.New()}
}

// Lattice of a filter is unknown, its matches depend on history.
func (f *filter) Lattice() *lattice.Lattice { return f.lat }

func (f *filter) Volatile() bool { return true }

func (f *filter) shift(c Cursor, accept func(Cursor) (Verdict, error)) (Cursor, error) {
	from := c.where
	for {
		n, ok := f.h.Below(from)
		if !ok {
			return c.end(), nil
		}
		v, err := accept(c.to(n))
		if err != nil {
			return c.end(), err
		}
		switch v {
		case Accept:
			return c.to(n), nil
		case Stop:
			return c.end(), nil
		}
		from = n
	}
}

// --------------------------------------------------------------------------
// Counting filters
// --------------------------------------------------------------------------

// Limit accepts the first n candidates.
type Limit struct {
	filter
	n, count int
}

func NewLimit(h *heap.Heap, n int) *Limit {
	return &Limit{filter: newFilter(h), n: n}
}

func (t *Limit) Accept(Cursor) (Verdict, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count >= t.n {
		return Stop, nil
	}
	t.count++
	return Accept, nil
}

func (t *Limit) Shift(c Cursor) (Cursor, error) { return t.shift(c, t.Accept) }

func (t *Limit) String() string { return fmt.Sprintf("(limit %d)", t.n) }

// From skips the first n candidates.
type From struct {
	filter
	n, seen int
}

func NewFrom(h *heap.Heap, n int) *From {
	return &From{filter: newFilter(h), n: n}
}

func (t *From) Accept(Cursor) (Verdict, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen < t.n {
		t.seen++
		return Reject, nil
	}
	return Accept, nil
}

func (t *From) Shift(c Cursor) (Cursor, error) { return t.shift(c, t.Accept) }

func (t *From) String() string { return fmt.Sprintf("(from %d)", t.n) }

// Pos accepts only the candidate at zero-based position n.
type Pos struct {
	filter
	n, idx int
}

func NewPos(h *heap.Heap, n int) *Pos {
	return &Pos{filter: newFilter(h), n: n}
}

func (t *Pos) Accept(Cursor) (Verdict, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.idx
	t.idx++
	switch {
	case idx < t.n:
		return Reject, nil
	case idx == t.n:
		return Accept, nil
	default:
		return Stop, nil
	}
}

func (t *Pos) Shift(c Cursor) (Cursor, error) { return t.shift(c, t.Accept) }

func (t *Pos) String() string { return fmt.Sprintf("(pos %d)", t.n) }

// --------------------------------------------------------------------------
// Distinct filters
// --------------------------------------------------------------------------

// Unique accepts a candidate unless one of its values of an attribute was
// already accepted. Candidates without the attribute are always accepted.
type Unique struct {
	filter
	attr attr.Attribute
	name string
	seen map[string]struct{}
}

func NewUnique(h *heap.Heap, a attr.Attribute) *Unique {
	return &Unique{
		filter: newFilter(h),
		attr:   a,
		name:   fmt.Sprintf("(unique $%s)", a),
		seen:   make(map[string]struct{}),
	}
}

// NewBundled hides every message whose bundle marker was already shown, so
// each group of bouts with the same participants shows up once.
func NewBundled(h *heap.Heap) *Unique {
	u := NewUnique(h, attr.Bundle)
	u.name = "(bundled)"
	return u
}

func (t *Unique) Accept(c Cursor) (Verdict, error) {
	m, err := c.Msg()
	if err != nil {
		return Reject, err
	}
	values := m.All(t.attr)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, v := range values {
		if _, ok := t.seen[v]; ok {
			return Reject, nil
		}
	}
	for _, v := range values {
		t.seen[v] = struct{}{}
	}
	return Accept, nil
}

func (t *Unique) Shift(c Cursor) (Cursor, error) { return t.shift(c, t.Accept) }

func (t *Unique) String() string { return t.name }
