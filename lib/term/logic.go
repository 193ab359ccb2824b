package term

import (
	"strings"
	"time"

	"github.com/ValentinKolb/infinity/lib/heap"
	"github.com/ValentinKolb/infinity/lib/lattice"
	"golang.org/x/time/rate"
)

// --------------------------------------------------------------------------
// And
// --------------------------------------------------------------------------

// And matches the numbers every child matches. The stable children are
// intersected by leapfrogging; filters then judge each candidate in the
// order they were given.
//
// Thread-safety: a term holding filters must not be shifted concurrently.
type And struct {
	h       *heap.Heap
	stable  []Term
	filters []Filter
	lat     lazy
	warn    rate.Sometimes
}

// NewAnd returns the conjunction of terms. Nested conjunctions are flattened.
// A conjunction without stable children intersects with Always.
func NewAnd(h *heap.Heap, terms ...Term) Term {
	t := &And{h: h, warn: rate.Sometimes{Interval: time.Minute}}
	for _, child := range terms {
		t.add(child)
	}
	if len(t.stable) == 0 {
		t.stable = append(t.stable, NewAlways(h))
	}
	if len(t.stable) == 1 && len(t.filters) == 0 {
		return t.stable[0]
	}
	return t
}

func (t *And) add(child Term) {
	switch c := child.(type) {
	case *And:
		t.stable = append(t.stable, c.stable...)
		t.filters = append(t.filters, c.filters...)
	case Filter:
		t.filters = append(t.filters, c)
	default:
		t.stable = append(t.stable, c)
	}
}

func (t *And) Shift(c Cursor) (Cursor, error) {
	from := c
	for {
		cand, err := t.slide(from)
		if err != nil || cand.End() {
			return cand, err
		}
		verdict, err := t.judge(cand)
		if err != nil {
			return cand, err
		}
		switch verdict {
		case Accept:
			return cand, nil
		case Stop:
			return c.end(), nil
		}
		from = cand
	}
}

func (t *And) judge(c Cursor) (Verdict, error) {
	for _, f := range t.filters {
		v, err := f.Accept(c)
		if err != nil || v != Accept {
			return v, err
		}
	}
	return Accept, nil
}

// slide finds the largest number below c matched by all stable children.
func (t *And) slide(c Cursor) (Cursor, error) {
	lat := t.Lattice()

	// results of one slide are reused while they stay below the probe
	cache := make([]Cursor, len(t.stable))
	cached := make([]bool, len(t.stable))
	move := func(i int, from Cursor) (Cursor, error) {
		if cached[i] && cache[i].where < from.where && !IsVolatile(t.stable[i]) {
			return cache[i], nil
		}
		r, err := t.stable[i].Shift(from)
		cache[i], cached[i] = r, true
		return r, err
	}

	start := lat.Correct(c.where)
	if start <= END {
		return c.end(), nil
	}
	slider, err := move(0, c.to(start))
	if err != nil {
		return slider, err
	}
	for steps := 0; !slider.End(); steps++ {
		if steps == MaxSlides {
			t.warn.Do(func() {
				log.Warningf("%s slid %d times below %s", t, steps, c)
			})
		}
		expected := slider
		match := true
		for i := range t.stable {
			next, err := move(i, c.to(expected.where+1))
			if err != nil {
				return next, err
			}
			if next.where != expected.where {
				match = false
				slider = next
				break
			}
		}
		if match {
			return expected, nil
		}
		if slider.End() {
			break
		}
		if corrected := lat.Correct(slider.where + 1); corrected <= slider.where {
			if corrected <= END {
				return c.end(), nil
			}
			if slider, err = move(0, c.to(corrected)); err != nil {
				return slider, err
			}
		}
	}
	return c.end(), nil
}

func (t *And) Lattice() *lattice.Lattice {
	return t.lat.get(func(l *lattice.Lattice) error {
		for _, child := range t.stable {
			l.And(child.Lattice())
		}
		return nil
	})
}

func (t *And) Volatile() bool {
	if len(t.filters) > 0 {
		return true
	}
	for _, child := range t.stable {
		if IsVolatile(child) {
			return true
		}
	}
	return false
}

func (t *And) String() string {
	parts := make([]string, 0, len(t.stable)+len(t.filters))
	for _, child := range t.stable {
		parts = append(parts, child.String())
	}
	for _, f := range t.filters {
		parts = append(parts, f.String())
	}
	return "(and " + strings.Join(parts, " ") + ")"
}

// --------------------------------------------------------------------------
// Or
// --------------------------------------------------------------------------

// Or matches the numbers any child matches.
type Or struct {
	terms []Term
	lat   lazy
}

// NewOr returns the disjunction of terms. Nested disjunctions are flattened
// and an empty disjunction is Never.
func NewOr(h *heap.Heap, terms ...Term) Term {
	t := &Or{}
	for _, child := range terms {
		if o, ok := child.(*Or); ok {
			t.terms = append(t.terms, o.terms...)
			continue
		}
		t.terms = append(t.terms, child)
	}
	switch len(t.terms) {
	case 0:
		return NewNever(h)
	case 1:
		return t.terms[0]
	}
	return t
}

func (t *Or) Shift(c Cursor) (Cursor, error) {
	from := t.Lattice().Correct(c.where)
	if from <= END {
		return c.end(), nil
	}
	best := c.end()
	for _, child := range t.terms {
		r, err := child.Shift(c.to(from))
		if err != nil {
			return r, err
		}
		if r.where > best.where {
			best = r
		}
	}
	return best, nil
}

func (t *Or) Lattice() *lattice.Lattice {
	return t.lat.get(func(l *lattice.Lattice) error {
		for i, child := range t.terms {
			if i == 0 {
				l.And(child.Lattice())
				continue
			}
			l.Or(child.Lattice())
		}
		return nil
	})
}

func (t *Or) Volatile() bool {
	for _, child := range t.terms {
		if IsVolatile(child) {
			return true
		}
	}
	return false
}

func (t *Or) String() string {
	parts := make([]string, len(t.terms))
	for i, child := range t.terms {
		parts[i] = child.String()
	}
	return "(or " + strings.Join(parts, " ") + ")"
}

// --------------------------------------------------------------------------
// Not
// --------------------------------------------------------------------------

// Not matches the existing numbers its child does not match.
type Not struct {
	h   *heap.Heap
	t   Term
	lat lazy
}

func NewNot(h *heap.Heap, t Term) Term {
	switch c := t.(type) {
	case *Not:
		return NewAnd(h, c.t)
	case *Always:
		return NewNever(h)
	case *Never:
		return NewAlways(h)
	}
	return &Not{h: h, t: t}
}

func (t *Not) Shift(c Cursor) (Cursor, error) {
	lat := t.Lattice()
	from := c.where
	for {
		if from = lat.Correct(from); from <= END {
			return c.end(), nil
		}
		n, ok := t.h.Below(from)
		if !ok {
			return c.end(), nil
		}
		hit, err := matches(t.t, c, n)
		if err != nil {
			return c.end(), err
		}
		if !hit {
			return c.to(n), nil
		}
		from = n
	}
}

func (t *Not) Lattice() *lattice.Lattice {
	return t.lat.get(func(l *lattice.Lattice) error {
		inner := t.t.Lattice().Clone()
		inner.Revert()
		l.And(inner)
		l.And(NewAlways(t.h).Lattice())
		return nil
	})
}

func (t *Not) Volatile() bool { return IsVolatile(t.t) }

func (t *Not) String() string { return "(not " + t.t.String() + ")" }
