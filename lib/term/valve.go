package term

import (
	"sync"

	"github.com/ValentinKolb/infinity/lib/lattice"
)

// Valve guards a term against breaking strict descent. Every result must be
// below the cursor it was shifted from, and the next shift must not start
// above the previous result. Once END was returned the valve is closed.
type Valve struct {
	mu    sync.Mutex
	t     Term
	last  int64
	ended bool
}

func NewValve(t Term) *Valve {
	return &Valve{t: t, last: TOP}
}

func (v *Valve) Shift(c Cursor) (Cursor, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ended {
		return c.end(), invariant(ErrNonMonotonic, "%s shifted again after END", v.t)
	}
	if c.where > v.last {
		return c.end(), invariant(ErrNonMonotonic, "%s shifted from %d, above previous result %d", v.t, c.where, v.last)
	}
	r, err := v.t.Shift(c)
	if err != nil {
		return r, err
	}
	if r.End() {
		v.ended = true
		return r, nil
	}
	if r.where >= c.where {
		return c.end(), invariant(ErrNonMonotonic, "%s moved %s to %s", v.t, c, r)
	}
	v.last = r.where
	return r, nil
}

func (v *Valve) Lattice() *lattice.Lattice { return v.t.Lattice() }

func (v *Valve) Volatile() bool { return IsVolatile(v.t) }

func (v *Valve) String() string { return v.t.String() }

// Walk shifts a fresh cursor with t until END and calls fn for every match.
// fn returning false stops the walk.
func Walk(start Cursor, t Term, fn func(Cursor) bool) error {
	c := start
	for {
		next, err := c.Shift(t)
		if err != nil {
			return err
		}
		if next.End() || !fn(next) {
			return nil
		}
		c = next
	}
}
