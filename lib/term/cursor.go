package term

import (
	"fmt"
	"math"

	"github.com/ValentinKolb/infinity/lib/attr"
	"github.com/ValentinKolb/infinity/lib/heap"
)

const (
	// TOP is the position above every message
	TOP int64 = math.MaxInt64
	// END is the terminal position
	END int64 = 0
)

// Cursor is an immutable position in the descending message space of a heap.
// The zero Cursor is END.
type Cursor struct {
	where int64
	heap  *heap.Heap
}

// NewCursor returns a cursor at TOP over h.
func NewCursor(h *heap.Heap) Cursor {
	return Cursor{where: TOP, heap: h}
}

// Shift moves the cursor with t. Shifting END is an invariant error.
func (c Cursor) Shift(t Term) (Cursor, error) {
	if c.End() {
		return c, invariant(ErrEndShift, "by %s", t)
	}
	return t.Shift(c)
}

// Copy returns an independent cursor at the same position.
func (c Cursor) Copy() Cursor {
	return Cursor{where: c.where, heap: c.heap}
}

// End reports whether the cursor reached END.
func (c Cursor) End() bool {
	return c.where <= END
}

// Number returns the current position, TOP or END included.
func (c Cursor) Number() int64 {
	return c.where
}

// Msg returns the record the cursor points at.
func (c Cursor) Msg() (*attr.Msg, error) {
	if c.End() || c.where == TOP {
		return nil, fmt.Errorf("%w: %s has no message", ErrInvariant, c)
	}
	m, ok := c.heap.Lookup(c.where)
	if !ok {
		return nil, fmt.Errorf("%w: message #%d is not in the heap", ErrInvariant, c.where)
	}
	return m, nil
}

// Heap returns the heap the cursor walks over.
func (c Cursor) Heap() *heap.Heap {
	return c.heap
}

func (c Cursor) String() string {
	switch {
	case c.where == TOP:
		return "cursor-TOP"
	case c.End():
		return "cursor-END"
	default:
		return fmt.Sprintf("cursor-%d", c.where)
	}
}

// to returns a cursor at number over the same heap.
func (c Cursor) to(number int64) Cursor {
	if number < END {
		number = END
	}
	return Cursor{where: number, heap: c.heap}
}

func (c Cursor) end() Cursor {
	return Cursor{where: END, heap: c.heap}
}
