package term

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/infinity/lib/attr"
	"github.com/ValentinKolb/infinity/lib/heap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var color = attr.Must("color")

// collect walks t from TOP and returns the visited numbers
func collect(t *testing.T, h *heap.Heap, tm Term) []int64 {
	t.Helper()
	var got []int64
	err := Walk(NewCursor(h), NewValve(tm), func(c Cursor) bool {
		got = append(got, c.Number())
		return true
	})
	require.NoError(t, err)
	return got
}

// randomHeap creates n messages with holes, each colored red, blue or green
func randomHeap(t *testing.T, seed int64, n int) (*heap.Heap, map[int64]string) {
	t.Helper()
	rnd := rand.New(rand.NewSource(seed))
	h := heap.New(nil)
	colors := map[int64]string{}
	for i := int64(1); i <= int64(n); i++ {
		if rnd.Intn(4) == 0 {
			continue
		}
		m, err := h.Msg(i)
		require.NoError(t, err)
		c := []string{"red", "blue", "green"}[rnd.Intn(3)]
		m.Put(color, c)
		colors[i] = c
	}
	return h, colors
}

func brute(colors map[int64]string, max int64, fn func(string) bool) []int64 {
	var want []int64
	for i := max; i > 0; i-- {
		if c, ok := colors[i]; ok && fn(c) {
			want = append(want, i)
		}
	}
	return want
}

func TestCursorEnd(t *testing.T) {
	h := heap.New(nil)
	c := NewCursor(h)
	assert.Equal(t, TOP, c.Number())
	assert.False(t, c.End())

	end, err := c.Shift(NewAlways(h))
	require.NoError(t, err)
	assert.True(t, end.End())

	_, err = end.Shift(NewAlways(h))
	assert.True(t, errors.Is(err, ErrEndShift))
	assert.True(t, errors.Is(err, ErrInvariant))

	_, err = c.Msg()
	assert.Error(t, err)
}

func TestCursorMsg(t *testing.T) {
	h := heap.New(nil)
	m, _ := h.Msg(7)
	m.Put(color, "red")

	c, err := NewCursor(h).Shift(NewMatcher(h, color, "red"))
	require.NoError(t, err)
	got, err := c.Msg()
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Number())
	assert.Equal(t, c.Number(), c.Copy().Number())
}

func TestTermsMatchBruteForce(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		h, colors := randomHeap(t, seed, 700)
		max := h.Maximum()
		red := func() Term { return NewMatcher(h, color, "red") }
		blue := func() Term { return NewMatcher(h, color, "blue") }

		cases := []struct {
			name string
			term Term
			fn   func(string) bool
		}{
			{"always", NewAlways(h), func(string) bool { return true }},
			{"never", NewNever(h), func(string) bool { return false }},
			{"red", red(), func(c string) bool { return c == "red" }},
			{"red or blue", NewOr(h, red(), blue()), func(c string) bool { return c != "green" }},
			{"not red", NewNot(h, red()), func(c string) bool { return c != "red" }},
			{"red and not blue", NewAnd(h, red(), NewNot(h, blue())), func(c string) bool { return c == "red" }},
			{"red and blue", NewAnd(h, red(), blue()), func(string) bool { return false }},
			{"not (red or blue)", NewNot(h, NewOr(h, red(), blue())), func(c string) bool { return c == "green" }},
			{"scan green", NewScan(h, "green", func(m *attr.Msg) bool { return m.Has(color, "green") }), func(c string) bool { return c == "green" }},
			{"always and red", NewAnd(h, NewAlways(h), red()), func(c string) bool { return c == "red" }},
		}
		for _, tc := range cases {
			t.Run(fmt.Sprintf("%d/%s", seed, tc.name), func(t *testing.T) {
				assert.Equal(t, brute(colors, max, tc.fn), collect(t, h, tc.term))
			})
		}
	}
}

func TestShiftFromMiddle(t *testing.T) {
	h, colors := randomHeap(t, 9, 300)
	red := NewMatcher(h, color, "red")
	not := NewNot(h, red)
	for from := int64(1); from <= 310; from += 7 {
		c := NewCursor(h).to(from)
		r, err := not.Shift(c)
		require.NoError(t, err)
		var want int64
		for i := from - 1; i > 0; i-- {
			if col, ok := colors[i]; ok && col != "red" {
				want = i
				break
			}
		}
		assert.Equal(t, want, r.Number(), "from %d", from)
	}
}

func TestWordMatcher(t *testing.T) {
	h := heap.New(nil)
	m1, _ := h.Msg(1)
	m1.Put(attr.Text, "Hello brave world")
	m2, _ := h.Msg(2)
	m2.Put(attr.Text, "goodbye world")
	m3, _ := h.Msg(3)
	m3.Put(attr.Text, "nothing here")

	assert.Equal(t, []int64{2, 1}, collect(t, h, NewWordMatcher(h, attr.Text, "world")))
	assert.Equal(t, []int64{1}, collect(t, h, NewWordMatcher(h, attr.Text, "brave")))
	assert.True(t, NewWordMatcher(h, attr.Text, "hello").Contains(1))
	assert.False(t, NewWordMatcher(h, attr.Text, "hello").Contains(2))
}

func TestPicker(t *testing.T) {
	h := heap.New(nil)
	for _, n := range []int64{3, 5, 8} {
		_, _ = h.Msg(n)
	}
	assert.Equal(t, []int64{5}, collect(t, h, NewPicker(h, 5)))
	assert.Empty(t, collect(t, h, NewPicker(h, 4)))
}

func TestFilters(t *testing.T) {
	h := heap.New(nil)
	for i := int64(1); i <= 10; i++ {
		m, _ := h.Msg(i)
		m.Put(color, []string{"red", "blue"}[i%2])
	}

	assert.Equal(t, []int64{10, 9, 8}, collect(t, h, NewLimit(h, 3)))
	assert.Equal(t, []int64{7, 6, 5, 4, 3, 2, 1}, collect(t, h, NewFrom(h, 3)))
	assert.Equal(t, []int64{8}, collect(t, h, NewPos(h, 2)))
	assert.Equal(t, []int64{10, 9}, collect(t, h, NewUnique(h, color)))

	// filters run after the stable children agreed
	red := NewMatcher(h, color, "red")
	assert.Equal(t, []int64{10, 8}, collect(t, h, NewAnd(h, NewLimit(h, 2), red)))
	assert.Equal(t, []int64{6, 4}, collect(t, h, NewAnd(h, red, NewFrom(h, 2), NewLimit(h, 2))))
	assert.True(t, IsVolatile(NewAnd(h, red, NewLimit(h, 1))))
	assert.False(t, IsVolatile(NewAnd(h, red, NewAlways(h))))
}

func TestBundled(t *testing.T) {
	h := heap.New(nil)
	markers := map[int64]string{1: "a", 2: "b", 3: "a", 4: "c", 5: "b"}
	for n, mk := range markers {
		m, _ := h.Msg(n)
		m.Put(attr.Bundle, mk)
	}
	_, _ = h.Msg(6) // no marker
	assert.Equal(t, []int64{6, 5, 4, 3}, collect(t, h, NewBundled(h)))
}

// runaway moves the cursor up instead of down
type runaway struct{ Never }

func (r *runaway) Shift(c Cursor) (Cursor, error) { return c.to(c.where + 1), nil }

func TestValveRejectsNonMonotonicShift(t *testing.T) {
	h := heap.New(nil)
	_, _ = h.Msg(1)
	v := NewValve(&runaway{Never{h: h}})
	_, err := v.Shift(NewCursor(h).to(5))
	assert.True(t, errors.Is(err, ErrNonMonotonic))
	assert.True(t, errors.Is(err, ErrInvariant))
}

func TestValveClosesAfterEnd(t *testing.T) {
	h := heap.New(nil)
	_, _ = h.Msg(1)
	v := NewValve(NewAlways(h))
	c, err := v.Shift(NewCursor(h))
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Number())

	_, err = v.Shift(NewCursor(h))
	assert.True(t, errors.Is(err, ErrNonMonotonic), "shift from above the last result")

	end, err := v.Shift(c)
	require.NoError(t, err)
	assert.True(t, end.End())
	_, err = v.Shift(c)
	assert.True(t, errors.Is(err, ErrNonMonotonic))
}

func TestLatticeDoesNotChangeResults(t *testing.T) {
	h, colors := randomHeap(t, 42, 2000)
	and := NewAnd(h, NewNot(h, NewMatcher(h, color, "red")), NewOr(h, NewMatcher(h, color, "green"), NewMatcher(h, color, "blue")))
	want := brute(colors, h.Maximum(), func(c string) bool { return c != "red" })
	assert.Equal(t, want, collect(t, h, and))
	assert.NotNil(t, and.Lattice())
}
