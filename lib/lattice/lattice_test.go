package lattice

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descending(numbers ...int64) func(func(int64) bool) {
	sorted := slices.Clone(numbers)
	slices.Sort(sorted)
	slices.Reverse(sorted)
	return func(yield func(int64) bool) {
		for _, n := range sorted {
			if !yield(n) {
				return
			}
		}
	}
}

func filled(t *testing.T, max int64, numbers ...int64) *Lattice {
	t.Helper()
	l := New()
	require.NoError(t, l.Fill(max, descending(numbers...)))
	return l
}

func TestFillAndCorrect(t *testing.T) {
	// matches in bucket 0 and bucket 3, nothing in 1 and 2
	l := filled(t, 250, 5, 200, 201)

	assert.Equal(t, int64(250), l.Correct(250), "bucket 3 may match, no jump")
	assert.Equal(t, int64(64), l.Correct(192), "buckets 1..2 are empty, jump to top of bucket 0")
	assert.Equal(t, int64(6), l.Correct(6), "inside bucket 0")
	assert.Equal(t, int64(0), l.Correct(1))

	assert.True(t, l.EmptyBit(100))
	assert.False(t, l.EmptyBit(5))
	assert.False(t, l.EmptyBit(10_000), "outside the window nothing is known")

	lo, hi, ok := l.Window()
	assert.True(t, ok)
	assert.Equal(t, int64(0), lo)
	assert.Equal(t, int64(255), hi)
}

func TestCorrectAboveWindowDoesNotJump(t *testing.T) {
	l := filled(t, 100, 3)
	assert.Equal(t, int64(5000), l.Correct(5000))
	assert.Equal(t, int64(64), l.Correct(128))
}

func TestFillRejectsUnorderedFeed(t *testing.T) {
	l := New()
	err := l.Fill(10, func(yield func(int64) bool) {
		yield(3)
		yield(5)
	})
	assert.True(t, errors.Is(err, ErrNotDescending))
}

func TestFullBucketClearsReverse(t *testing.T) {
	numbers := make([]int64, 0, Size)
	for n := int64(Size); n < 2*Size; n++ {
		numbers = append(numbers, n)
	}
	l := filled(t, 2*Size-1, numbers...)

	not := l.Clone()
	not.Revert()
	assert.True(t, not.EmptyBit(Size), "a fully matching bucket has no non-match")
	assert.False(t, not.EmptyBit(1))
}

func TestSetAndUpdate(t *testing.T) {
	l := filled(t, 300, 290)
	assert.True(t, l.EmptyBit(70))
	l.Update(70, 1)
	assert.False(t, l.EmptyBit(70))
	l.Update(70, 0)
	assert.True(t, l.EmptyBit(70))

	l.Set(100_000, true, true) // outside the window, ignored
	_, hi, _ := l.Window()
	assert.Equal(t, int64(319), hi)
}

func TestUnknownLatticeNeverJumps(t *testing.T) {
	l := New()
	for _, from := range []int64{1, 2, 64, 1000} {
		want := from
		if from <= 1 {
			want = 0
		}
		assert.Equal(t, want, l.Correct(from))
	}
	l.Revert()
	assert.Equal(t, int64(1000), l.Correct(1000))
}

// expression mirrors the lattice composition on plain sets
type expression struct {
	name    string
	lattice func(a, b, all *Lattice) *Lattice
	matches func(n int64, a, b, all map[int64]bool) bool
}

var expressions = []expression{
	{"a", func(a, _, _ *Lattice) *Lattice { return a.Clone() },
		func(n int64, a, _, _ map[int64]bool) bool { return a[n] }},
	{"a and b", func(a, b, _ *Lattice) *Lattice { l := a.Clone(); l.And(b); return l },
		func(n int64, a, b, _ map[int64]bool) bool { return a[n] && b[n] }},
	{"a or b", func(a, b, _ *Lattice) *Lattice { l := a.Clone(); l.Or(b); return l },
		func(n int64, a, b, _ map[int64]bool) bool { return a[n] || b[n] }},
	{"not a", func(a, _, all *Lattice) *Lattice { l := a.Clone(); l.Revert(); l.And(all); return l },
		func(n int64, a, _, all map[int64]bool) bool { return all[n] && !a[n] }},
	{"a and not b", func(a, b, all *Lattice) *Lattice {
		nb := b.Clone()
		nb.Revert()
		nb.And(all)
		l := a.Clone()
		l.And(nb)
		return l
	}, func(n int64, a, b, all map[int64]bool) bool { return a[n] && all[n] && !b[n] }},
	{"unknown and a", func(a, _, _ *Lattice) *Lattice { l := New(); l.And(a); return l },
		func(n int64, a, _, _ map[int64]bool) bool { return a[n] }},
}

// TestCorrectNeverSkipsMatches compares Correct against brute force over
// random data: no true match may lie in [Correct(from), from).
func TestCorrectNeverSkipsMatches(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for round := 0; round < 40; round++ {
		max := int64(50 + rnd.Intn(600))
		all, a, b := map[int64]bool{}, map[int64]bool{}, map[int64]bool{}
		var nAll, nA, nB []int64
		density := rnd.Float64()
		for n := int64(1); n <= max; n++ {
			if rnd.Float64() > density {
				continue
			}
			all[n] = true
			nAll = append(nAll, n)
			if rnd.Intn(5) == 0 {
				a[n] = true
				nA = append(nA, n)
			}
			if rnd.Intn(3) == 0 {
				b[n] = true
				nB = append(nB, n)
			}
		}

		la, lb, lall := filled(t, max, nA...), filled(t, max, nB...), filled(t, max, nAll...)
		for _, e := range expressions {
			l := e.lattice(la, lb, lall)
			for from := int64(1); from <= max+Size; from++ {
				r := l.Correct(from)
				require.LessOrEqual(t, r, from, "%s: Correct(%d) moved up", e.name, from)
				for n := r; n < from; n++ {
					if n > 0 && e.matches(n, a, b, all) {
						t.Fatalf("round %d %s: Correct(%d)=%d skipped match %d", round, e.name, from, r, n)
					}
				}
			}
		}
	}
}
