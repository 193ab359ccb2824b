// Package lattice implements the bucket bitmaps that let a term skip ranges of
// message numbers without evaluating its predicate on every number.
//
// The number space is cut into buckets of Size consecutive numbers. For every
// bucket a lattice keeps two bits:
//
//   - main: the bucket may contain a matching number
//   - reverse: the bucket may contain a non-matching number
//
// Bits are only known inside a window of buckets. Outside the window both bits
// are implicitly set, so nothing outside the window is ever skipped. A set bit
// may be a false positive; a cleared bit is a guarantee. This is what makes
// Correct sound: it only jumps over buckets whose main bit is known to be
// cleared.
//
// Composition follows from the meaning of the bits:
//
//	and:    main = a.main & b.main    reverse = a.reverse | b.reverse
//	or:     main = a.main | b.main    reverse = a.reverse & b.reverse
//	revert: main, reverse = reverse, main
package lattice

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Size is the number of message numbers per bucket
const Size = 64

// ErrNotDescending is returned by Fill for a feed that is not strictly descending
var ErrNotDescending = errors.New("feed is not strictly descending")

// Lattice is a mutable bucket bitmap over a bounded window.
//
// Thread-safety: all methods are safe for concurrent use. Binary operations
// lock the argument for reading and the receiver for writing, never the same
// lattice twice.
type Lattice struct {
	mu      sync.RWMutex
	main    *roaring64.Bitmap
	reverse *roaring64.Bitmap
	lo, hi  uint64 // known buckets, inclusive
	known   bool   // false: the window is empty
}

// New returns a lattice with an empty window, everything is unknown.
func New() *Lattice {
	return &Lattice{main: roaring64.New(), reverse: roaring64.New()}
}

// Bucket returns the bucket holding number.
func Bucket(number int64) uint64 {
	if number <= 0 {
		return 0
	}
	return uint64(number) / Size
}

// Fill resets the lattice to the window [0, Bucket(max)] and marks the
// buckets of the numbers in feed as possible matches. Every bucket that is
// not completely covered by the feed is marked as a possible non-match, so
// numbers that do not exist count as non-matching. feed must be strictly
// descending and stay within (0, max].
func (l *Lattice) Fill(max int64, feed iter.Seq[int64]) error {
	main := roaring64.New()
	reverse := roaring64.New()
	if max <= 0 {
		l.mu.Lock()
		l.main, l.reverse, l.known = main, reverse, false
		l.mu.Unlock()
		return nil
	}

	hi := Bucket(max)
	reverse.AddRange(0, hi+1)

	prev := int64(math.MaxInt64)
	var current uint64
	count := 0
	flush := func() {
		if count == Size {
			reverse.Remove(current)
		}
	}
	for n := range feed {
		if n >= prev {
			return fmt.Errorf("%w: %d after %d", ErrNotDescending, n, prev)
		}
		if n <= 0 || n > max {
			return fmt.Errorf("number %d outside (0, %d]", n, max)
		}
		prev = n
		b := Bucket(n)
		if count > 0 && b != current {
			flush()
			count = 0
		}
		current = b
		count++
		main.Add(b)
	}
	if count > 0 {
		flush()
	}

	l.mu.Lock()
	l.main, l.reverse = main, reverse
	l.lo, l.hi, l.known = 0, hi, true
	l.mu.Unlock()
	return nil
}

// Set overwrites both bits of the bucket holding number. Buckets outside the
// window are left unknown.
func (l *Lattice) Set(number int64, bit, reverseBit bool) {
	b := Bucket(number)
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.known || b < l.lo || b > l.hi {
		return
	}
	if bit {
		l.main.Add(b)
	} else {
		l.main.Remove(b)
	}
	if reverseBit {
		l.reverse.Add(b)
	} else {
		l.reverse.Remove(b)
	}
}

// Update sets the bits of the bucket holding number from the number of
// matches found in it.
func (l *Lattice) Update(number int64, matches int) {
	l.Set(number, matches > 0, matches < Size)
}

// And intersects other into l.
func (l *Lattice) And(other *Lattice) {
	l.combine(other, func(main, reverse, omain, oreverse *roaring64.Bitmap) {
		main.And(omain)
		reverse.Or(oreverse)
	})
}

// Or unites other into l.
func (l *Lattice) Or(other *Lattice) {
	l.combine(other, func(main, reverse, omain, oreverse *roaring64.Bitmap) {
		main.Or(omain)
		reverse.And(oreverse)
	})
}

// Revert negates the lattice inside its window.
func (l *Lattice) Revert() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.main, l.reverse = l.reverse, l.main
}

// Correct returns the position a cursor at from should continue from when
// looking for the largest match strictly below from. The result r satisfies
// r <= from and no number in [r, from) can match. It is 0 when nothing below
// from can match.
func (l *Lattice) Correct(from int64) int64 {
	if from <= 1 {
		return 0
	}
	top := Bucket(from - 1)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.known || top > l.hi {
		return from
	}
	if top < l.lo {
		return from
	}

	// largest bucket b in [lo, top] whose main bit is set
	rank := l.main.Rank(top)
	if rank > 0 {
		b, err := l.main.Select(rank - 1)
		if err == nil && b >= l.lo {
			if b == top {
				return from
			}
			return int64(b+1) * Size
		}
	}
	if l.lo == 0 {
		return 0
	}
	// everything just below the window is unknown again
	return int64(l.lo) * Size
}

// EmptyBit reports whether the bucket holding number is known to contain no
// match.
func (l *Lattice) EmptyBit(number int64) bool {
	b := Bucket(number)
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.known && b >= l.lo && b <= l.hi && !l.main.Contains(b)
}

// Known reports whether both bits of the bucket holding number are known.
func (l *Lattice) Known(number int64) bool {
	b := Bucket(number)
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.known && b >= l.lo && b <= l.hi
}

// Window returns the known range of message numbers, [lo, hi]. ok is false
// for an empty window.
func (l *Lattice) Window() (lo, hi int64, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.known {
		return 0, 0, false
	}
	return int64(l.lo) * Size, int64(l.hi)*Size + Size - 1, true
}

// Clone returns an independent copy.
func (l *Lattice) Clone() *Lattice {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Lattice{
		main:    l.main.Clone(),
		reverse: l.reverse.Clone(),
		lo:      l.lo,
		hi:      l.hi,
		known:   l.known,
	}
}

func (l *Lattice) String() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.known {
		return "lattice(unknown)"
	}
	return fmt.Sprintf("lattice[%d..%d main=%d reverse=%d]",
		l.lo, l.hi, l.main.GetCardinality(), l.reverse.GetCardinality())
}

// combine extends both operands to the union of their windows, filling the
// unknown parts with set bits, and applies op on the receiver's bitmaps.
func (l *Lattice) combine(other *Lattice, op func(main, reverse, omain, oreverse *roaring64.Bitmap)) {
	o := other.Clone()

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.known && !o.known {
		return
	}
	lo, hi := l.lo, l.hi
	switch {
	case !l.known:
		lo, hi = o.lo, o.hi
	case o.known:
		lo, hi = min(lo, o.lo), max(hi, o.hi)
	}

	l.extend(lo, hi)
	o.extend(lo, hi)
	op(l.main, l.reverse, o.main, o.reverse)
	l.lo, l.hi, l.known = lo, hi, true
}

// extend grows the window to [lo, hi], the new buckets are unknown (both
// bits set). The caller holds the write lock or owns the lattice.
func (l *Lattice) extend(lo, hi uint64) {
	if !l.known {
		l.main.AddRange(lo, hi+1)
		l.reverse.AddRange(lo, hi+1)
		l.lo, l.hi, l.known = lo, hi, true
		return
	}
	if lo < l.lo {
		l.main.AddRange(lo, l.lo)
		l.reverse.AddRange(lo, l.lo)
	}
	if hi > l.hi {
		l.main.AddRange(l.hi+1, hi+1)
		l.reverse.AddRange(l.hi+1, hi+1)
	}
	l.lo, l.hi = lo, hi
}
