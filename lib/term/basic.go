package term

import (
	"fmt"
	"iter"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/ValentinKolb/infinity/lib/attr"
	"github.com/ValentinKolb/infinity/lib/heap"
	"github.com/ValentinKolb/infinity/lib/lattice"
)

// --------------------------------------------------------------------------
// Lazy lattices
// --------------------------------------------------------------------------

// lazy builds a lattice once, on first use. A failed build leaves the lattice
// unknown, which never skips anything.
type lazy struct {
	once sync.Once
	l    *lattice.Lattice
}

func (z *lazy) get(build func(l *lattice.Lattice) error) *lattice.Lattice {
	z.once.Do(func() {
		l := lattice.New()
		if err := build(l); err != nil {
			log.Warningf("lattice build failed, falling back to full scan: %v", err)
			l = lattice.New()
		}
		z.l = l
	})
	return z.l
}

// descending yields the elements of bm from the largest to the smallest
func descending(bm *roaring64.Bitmap) iter.Seq[int64] {
	return func(yield func(int64) bool) {
		it := bm.ReverseIterator()
		for it.HasNext() {
			if !yield(int64(it.Next())) {
				return
			}
		}
	}
}

// fillFrom fills l from a snapshot of numbers. The snapshot is taken before
// the maximum so that every number is within bounds.
func fillFrom(l *lattice.Lattice, h *heap.Heap, bm *roaring64.Bitmap) error {
	return l.Fill(h.Maximum(), descending(bm))
}

// --------------------------------------------------------------------------
// Matchers
// --------------------------------------------------------------------------

// Matcher matches messages whose attribute carries an exact value.
type Matcher struct {
	h     *heap.Heap
	attr  attr.Attribute
	value string
	lat   lazy
}

func NewMatcher(h *heap.Heap, a attr.Attribute, value string) *Matcher {
	return &Matcher{h: h, attr: a, value: value}
}

func (t *Matcher) Shift(c Cursor) (Cursor, error) {
	if n, ok := t.h.PostingBelow(t.attr, t.value, c.where); ok {
		return c.to(n), nil
	}
	return c.end(), nil
}

func (t *Matcher) Contains(number int64) bool {
	return t.h.PostingHas(t.attr, t.value, number)
}

func (t *Matcher) Lattice() *lattice.Lattice {
	return t.lat.get(func(l *lattice.Lattice) error {
		return fillFrom(l, t.h, t.h.Postings(t.attr, t.value))
	})
}

func (t *Matcher) String() string {
	return fmt.Sprintf("(equal $%s %q)", t.attr, t.value)
}

// WordMatcher matches messages whose tokenized attribute contains a word.
type WordMatcher struct {
	h    *heap.Heap
	attr attr.Attribute
	word string
	lat  lazy
}

func NewWordMatcher(h *heap.Heap, a attr.Attribute, word string) *WordMatcher {
	return &WordMatcher{h: h, attr: a, word: word}
}

func (t *WordMatcher) Shift(c Cursor) (Cursor, error) {
	if n, ok := t.h.WordBelow(t.attr, t.word, c.where); ok {
		return c.to(n), nil
	}
	return c.end(), nil
}

func (t *WordMatcher) Contains(number int64) bool {
	if m, ok := t.h.Lookup(number); ok {
		for _, v := range m.All(t.attr) {
			for _, w := range heap.Words(v) {
				if w == t.word {
					return true
				}
			}
		}
	}
	return false
}

func (t *WordMatcher) Lattice() *lattice.Lattice {
	return t.lat.get(func(l *lattice.Lattice) error {
		return fillFrom(l, t.h, t.h.WordPostings(t.attr, t.word))
	})
}

func (t *WordMatcher) String() string {
	return fmt.Sprintf("(word $%s %q)", t.attr, t.word)
}

// Picker matches exactly one message number, if it exists.
type Picker struct {
	h      *heap.Heap
	number int64
	lat    lazy
}

func NewPicker(h *heap.Heap, number int64) *Picker {
	return &Picker{h: h, number: number}
}

func (t *Picker) Shift(c Cursor) (Cursor, error) {
	if t.number < c.where && t.h.Has(t.number) {
		return c.to(t.number), nil
	}
	return c.end(), nil
}

func (t *Picker) Contains(number int64) bool {
	return number == t.number && t.h.Has(number)
}

func (t *Picker) Lattice() *lattice.Lattice {
	return t.lat.get(func(l *lattice.Lattice) error {
		bm := roaring64.New()
		if t.h.Has(t.number) {
			bm.Add(uint64(t.number))
		}
		return fillFrom(l, t.h, bm)
	})
}

func (t *Picker) String() string {
	return fmt.Sprintf("(pick %d)", t.number)
}

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Always matches every existing message.
type Always struct {
	h   *heap.Heap
	lat lazy
}

func NewAlways(h *heap.Heap) *Always {
	return &Always{h: h}
}

func (t *Always) Shift(c Cursor) (Cursor, error) {
	if n, ok := t.h.Below(c.where); ok {
		return c.to(n), nil
	}
	return c.end(), nil
}

func (t *Always) Contains(number int64) bool {
	return t.h.Has(number)
}

func (t *Always) Lattice() *lattice.Lattice {
	return t.lat.get(func(l *lattice.Lattice) error {
		return fillFrom(l, t.h, t.h.Numbers())
	})
}

func (t *Always) String() string { return "(always)" }

// Never matches nothing.
type Never struct {
	h   *heap.Heap
	lat lazy
}

func NewNever(h *heap.Heap) *Never {
	return &Never{h: h}
}

func (t *Never) Shift(c Cursor) (Cursor, error) {
	return c.end(), nil
}

func (t *Never) Contains(int64) bool { return false }

func (t *Never) Lattice() *lattice.Lattice {
	return t.lat.get(func(l *lattice.Lattice) error {
		return fillFrom(l, t.h, roaring64.New())
	})
}

func (t *Never) String() string { return "(never)" }

// --------------------------------------------------------------------------
// Scan
// --------------------------------------------------------------------------

// Scan walks the existing messages and keeps those accepted by a function.
// It serves conditions without postings, like substring and numeric
// comparisons.
type Scan struct {
	h    *heap.Heap
	name string
	fn   func(m *attr.Msg) bool
	lat  lazy
}

func NewScan(h *heap.Heap, name string, fn func(m *attr.Msg) bool) *Scan {
	return &Scan{h: h, name: name, fn: fn}
}

func (t *Scan) Shift(c Cursor) (Cursor, error) {
	from := t.Lattice().Correct(c.where)
	for {
		n, ok := t.h.Below(from)
		if !ok {
			return c.end(), nil
		}
		if t.Contains(n) {
			return c.to(n), nil
		}
		from = n
	}
}

func (t *Scan) Contains(number int64) bool {
	m, ok := t.h.Lookup(number)
	return ok && t.fn(m)
}

// Lattice is computed by a full pass over the heap.
func (t *Scan) Lattice() *lattice.Lattice {
	return t.lat.get(func(l *lattice.Lattice) error {
		bm := roaring64.New()
		for m := range t.h.Descend() {
			if t.fn(m) {
				bm.Add(uint64(m.Number()))
			}
		}
		return fillFrom(l, t.h, bm)
	})
}

func (t *Scan) String() string { return t.name }
