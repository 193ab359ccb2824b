package heap

import (
	"bytes"
	"errors"
	"math"
	"slices"
	"sync"
	"testing"

	"github.com/ValentinKolb/infinity/lib/attr"
	"github.com/ValentinKolb/infinity/lib/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(t *testing.T, h *Heap, numbers ...int64) {
	t.Helper()
	for _, n := range numbers {
		_, err := h.Msg(n)
		require.NoError(t, err)
	}
}

func TestHeapDescendingOrder(t *testing.T) {
	h := New(nil)
	fill(t, h, 5, 1, 42, 17, 3)

	var got []int64
	for m := range h.Descend() {
		got = append(got, m.Number())
	}
	assert.Equal(t, []int64{42, 17, 5, 3, 1}, got)
	assert.Equal(t, int64(42), h.Maximum())
	assert.Equal(t, 5, h.Len())

	n, ok := h.Below(17)
	assert.True(t, ok)
	assert.Equal(t, int64(5), n)

	n, ok = h.Below(math.MaxInt64)
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	_, ok = h.Below(1)
	assert.False(t, ok)
}

func TestHeapRejectsInvalidNumbers(t *testing.T) {
	h := New(nil)
	for _, n := range []int64{0, -1, math.MaxInt64} {
		_, err := h.Msg(n)
		assert.True(t, errors.Is(err, ErrInvalidNumber), "number %d", n)
	}
	assert.Equal(t, int64(0), h.Maximum())
}

func TestHeapPostingsFollowValues(t *testing.T) {
	h := New(nil)
	m10, _ := h.Msg(10)
	m11, _ := h.Msg(11)

	m10.Put(attr.BoutNumber, "42")
	m11.Put(attr.BoutNumber, "42")
	assert.Equal(t, []uint64{10, 11}, h.Postings(attr.BoutNumber, "42").ToArray())

	m11.Put(attr.BoutNumber, "43")
	assert.Equal(t, []uint64{10}, h.Postings(attr.BoutNumber, "42").ToArray())
	assert.True(t, h.PostingHas(attr.BoutNumber, "43", 11))

	n, ok := h.PostingBelow(attr.BoutNumber, "42", 11)
	assert.True(t, ok)
	assert.Equal(t, int64(10), n)
	_, ok = h.PostingBelow(attr.BoutNumber, "42", 10)
	assert.False(t, ok)
}

func TestHeapWordPostings(t *testing.T) {
	h := New(nil)
	m, _ := h.Msg(3)

	m.Put(attr.Text, "Hello, World! hi")
	assert.True(t, h.WordPostings(attr.Text, "hello").Contains(3))
	assert.True(t, h.WordPostings(attr.Text, "world").Contains(3))
	assert.False(t, h.WordPostings(attr.Text, "hi").Contains(3), "short words are not indexed")

	m.Put(attr.Text, "goodbye world")
	assert.False(t, h.WordPostings(attr.Text, "hello").Contains(3))
	assert.True(t, h.WordPostings(attr.Text, "world").Contains(3))

	// a word shared by two alias values survives removal of one of them
	m.Add(attr.AuthorAlias, "Big John")
	m.Add(attr.AuthorAlias, "John Doe")
	m.Remove(attr.AuthorAlias, "Big John")
	assert.True(t, h.WordPostings(attr.AuthorAlias, "john").Contains(3))
	assert.False(t, h.WordPostings(attr.AuthorAlias, "big").Contains(3))

	// non tokenized attributes get no word postings
	m.Put(attr.AuthorName, "urn:test:alice")
	assert.True(t, h.WordPostings(attr.AuthorName, "alice").IsEmpty())
}

func TestWords(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"", []string{}},
		{"hello world", []string{"hello", "world"}},
		{"Hello HELLO hello", []string{"hello"}},
		{"a bc def", []string{"def"}},
		{"x-ray@mail.com", []string{"com", "mail", "ray"}},
		{"Grüße aus Köln", []string{"aus", "grüße", "köln"}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Words(tt.text))
		})
	}
}

func TestHeapConcurrentWriters(t *testing.T) {
	h := New(nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 1; i <= 200; i++ {
				m, err := h.Msg(int64(w*1000 + i))
				if err != nil {
					t.Error(err)
					return
				}
				m.Put(attr.Text, "concurrent text")
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 1600, h.Len())
	assert.Equal(t, uint64(1600), h.WordPostings(attr.Text, "concurrent").GetCardinality())
	assert.Equal(t, int64(7200), h.Maximum())
}

func TestHeapSnapshotRoundTrip(t *testing.T) {
	for _, codec := range []util.Codec{util.CodecNone, util.CodecZstd, util.CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			src := New(nil)
			m1, _ := src.Msg(1)
			m1.Put(attr.Text, "first message")
			m1.Add(attr.TalksWith, "urn:test:alice")
			m1.Add(attr.TalksWith, "urn:test:bob")
			m9, _ := src.Msg(9)
			m9.Put(attr.BoutTitle, "planning")
			assert.True(t, src.AddAlias("urn:test:alice", "ali"))
			assert.False(t, src.AddAlias("urn:test:alice", "ali"))

			var buf bytes.Buffer
			require.NoError(t, src.Save(&buf, Meta{Token: 7, Journal: 42}, codec))

			dst := New(nil)
			meta, err := dst.Load(&buf)
			require.NoError(t, err)
			assert.Equal(t, Meta{Token: 7, Journal: 42}, meta)
			assert.Equal(t, int64(9), dst.Maximum())
			assert.Equal(t, []string{"ali"}, dst.Aliases("urn:test:alice"))
			assert.Empty(t, dst.Aliases("urn:test:bob"))

			got, ok := dst.Lookup(1)
			require.True(t, ok)
			talks := got.All(attr.TalksWith)
			slices.Sort(talks)
			assert.Equal(t, []string{"urn:test:alice", "urn:test:bob"}, talks)
			assert.True(t, dst.WordPostings(attr.BoutTitle, "planning").Contains(9))
		})
	}
}

func TestHeapLoadRejectsGarbage(t *testing.T) {
	h := New(nil)
	_, err := h.Load(bytes.NewReader([]byte("NOTAHEAP\x01")))
	assert.True(t, errors.Is(err, ErrSnapshotFormat))
}
