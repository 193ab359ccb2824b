package term

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/infinity/lib/lattice"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("term")

// MaxSlides bounds the leapfrog iterations of one and-shift before a warning
// is logged. The search itself continues.
const MaxSlides = 10000

var (
	// ErrInvariant is the root of all index invariant violations
	ErrInvariant = errors.New("index invariant violated")
	// ErrEndShift is returned when an END cursor is shifted
	ErrEndShift = errors.New("can't shift END cursor")
	// ErrNonMonotonic is returned when a term breaks strict descent
	ErrNonMonotonic = errors.New("non-monotonic shift")
)

// invariant wraps kind into ErrInvariant with a description
func invariant(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrInvariant, kind, fmt.Sprintf(format, args...))
}

// Term is a compiled predicate.
type Term interface {
	// Shift returns a cursor at the largest matching number strictly below
	// c, or an END cursor. c is never END.
	Shift(c Cursor) (Cursor, error)
	// Lattice returns the bucket bitmap of this term. The result is shared
	// and must not be modified by callers.
	Lattice() *lattice.Lattice
	String() string
}

// Verdict is a filter's decision about one candidate
type Verdict int

const (
	Accept Verdict = iota
	Reject
	Stop // reject this and every following candidate
)

// Filter is implemented by volatile terms. Accept is called for candidates in
// strictly descending order and may change the filter's state.
type Filter interface {
	Term
	Accept(c Cursor) (Verdict, error)
}

// IsVolatile reports whether t must be re-evaluated on every call instead of
// being cached.
func IsVolatile(t Term) bool {
	v, ok := t.(interface{ Volatile() bool })
	return ok && v.Volatile()
}

// containser is implemented by terms that answer membership directly
type containser interface {
	Contains(number int64) bool
}

// matches reports whether number satisfies t.
func matches(t Term, c Cursor, number int64) (bool, error) {
	if m, ok := t.(containser); ok {
		return m.Contains(number), nil
	}
	r, err := t.Shift(c.to(number + 1))
	if err != nil {
		return false, err
	}
	return !r.End() && r.where == number, nil
}
