package query

import (
	"errors"
	"strconv"
	"testing"

	"github.com/ValentinKolb/infinity/lib/attr"
	"github.com/ValentinKolb/infinity/lib/heap"
	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/ValentinKolb/infinity/lib/term"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	number int64
	bout   string
	text   string
	author string
}

func newHeap(t *testing.T, fs ...fixture) *heap.Heap {
	t.Helper()
	h := heap.New(nil)
	for _, f := range fs {
		m, err := h.Msg(f.number)
		require.NoError(t, err)
		m.Put(attr.BoutNumber, f.bout)
		m.Put(attr.Text, f.text)
		if f.author != "" {
			m.Put(attr.AuthorName, f.author)
			m.Put(attr.AuthorNS, notice.Identity(f.author).Namespace())
		}
	}
	return h
}

func run(t *testing.T, h *heap.Heap, q string) []int64 {
	t.Helper()
	tm, err := Parse(q, NewEnv(h))
	require.NoError(t, err, q)
	var got []int64
	require.NoError(t, term.Walk(term.NewCursor(h), term.NewValve(tm), func(c term.Cursor) bool {
		got = append(got, c.Number())
		return true
	}))
	return got
}

func TestExampleQuery(t *testing.T) {
	h := newHeap(t,
		fixture{number: 10, bout: "42", text: "hello world"},
		fixture{number: 11, bout: "42", text: "goodbye"},
		fixture{number: 12, bout: "7", text: "hello there"},
	)
	assert.Equal(t, []int64{10}, run(t, h, "(and (equal $bout.number 42) (matches 'hello' $text))"))
}

func TestPredicates(t *testing.T) {
	h := newHeap(t,
		fixture{number: 1, bout: "1", text: "first message about cats", author: "urn:test:alice"},
		fixture{number: 2, bout: "1", text: "dogs are fine", author: "urn:test:bob"},
		fixture{number: 3, bout: "2", text: "cats and dogs", author: "urn:facebook:carol"},
		fixture{number: 4, bout: "2", text: "ok", author: "urn:test:alice"},
		fixture{number: 5, bout: "3", text: "The CATS strike back", author: "urn:test:bob"},
	)

	tests := []struct {
		q    string
		want []int64
	}{
		{"(always)", []int64{5, 4, 3, 2, 1}},
		{"(never)", nil},
		{"", []int64{5, 4, 3, 2, 1}},
		{"(matches 'cats' $text)", []int64{5, 3, 1}},
		{"(matches 'cats dogs' $text)", []int64{5, 3, 2, 1}},
		{"(matches 'ok' $text)", []int64{5, 4, 3, 2, 1}},
		{"(matches 'alice' $author.name)", []int64{4, 1}},
		{"(equal $author.name 'urn:test:bob')", []int64{5, 2}},
		{"(not (equal $bout.number 2))", []int64{5, 2, 1}},
		{"(or (equal $bout.number 3) (equal $bout.number 1))", []int64{5, 2, 1}},
		{"(greater-than $bout.number 1)", []int64{5, 4, 3}},
		{"(less-than $bout.number 2)", []int64{2, 1}},
		{"(ns 'facebook')", []int64{3}},
		{"(limit 2)", []int64{5, 4}},
		{"(from 3)", []int64{2, 1}},
		{"(pos 1)", []int64{4}},
		{"(unique $bout.number)", []int64{5, 4, 2}},
		{"(and (matches 'cats' $text) (limit 2))", []int64{5, 3}},
		{"(and (equal $author.name 'urn:test:alice') (not (matches 'cats' $text)))", []int64{4}},
		{"cats", []int64{5, 3, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.q, func(t *testing.T) {
			assert.Equal(t, tt.want, run(t, h, tt.q))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "(always)", Normalize("  "))
	assert.Equal(t, "(and (always))", Normalize("(and (always))"))
	assert.Equal(t,
		`(or (matches 'it\'s' $text) (matches 'it\'s' $bout.title) (matches 'it\'s' $author.alias))`,
		Normalize("it's"))

	e, err := ParseExpr("it's")
	require.NoError(t, err)
	assert.Equal(t, "or", e.Name)
	require.Len(t, e.Args, 3)
	assert.Equal(t, "it's", e.Args[0].Expr.Args[0].Str)
}

func TestParseErrors(t *testing.T) {
	h := heap.New(nil)
	tests := []struct {
		q     string
		token string
	}{
		{"(frobnicate)", "frobnicate"},
		{"(and (always)", "and"},
		{"(equal $Bad 'x')", "$Bad"},
		{"(matches 'oops $text)", "'oops $text)"},
		{"(not)", "not"},
		{"(limit -1)", "limit"},
		{"(limit 'x')", "limit"},
		{"(always) (never)", "("},
		{"(equal $text 'a' %)", "%"},
		{"(or (limit 2) (equal $text 'a'))", "or"},
		{"(not (and (always) (from 1)))", "not"},
		{"(or (never) (unique $bout.number))", "or"},
	}
	for _, tt := range tests {
		t.Run(tt.q, func(t *testing.T) {
			_, err := Parse(tt.q, NewEnv(h))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrPredicate))
			var pe *PredicateError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.token, pe.Token)
		})
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	names := r.Names()
	for _, want := range []string{"and", "or", "not", "always", "never", "matches", "equal",
		"greater-than", "less-than", "bundled", "unbundled", "talks-with", "seen-by",
		"from", "limit", "unique", "pos", "ns"} {
		assert.Contains(t, names, want)
	}
	assert.Equal(t, "and", names[0])

	_, err := NewRegistry(Predicate{Name: "x", Build: buildAlways}, Predicate{Name: "x", Build: buildNever})
	assert.Error(t, err)

	custom, err := NewRegistry(Predicate{Name: "everything", Build: buildAlways})
	require.NoError(t, err)
	h := newHeap(t, fixture{number: 3, bout: "1", text: "x"})
	tm, err := NewParser(custom).Parse("(everything)", NewEnv(h))
	require.NoError(t, err)
	assert.Equal(t, "(always)", tm.String())
	_, err = NewParser(custom).Parse("(always)", NewEnv(h))
	assert.True(t, errors.Is(err, ErrPredicate))
}

func TestSeeHooks(t *testing.T) {
	h := heap.New(nil)
	env := NewEnv(h)
	r := DefaultRegistry()

	alice, bob, carol := notice.Identity("urn:test:alice"), notice.Identity("urn:test:bob"), notice.Identity("urn:test:carol")
	bout := notice.Bout{Number: 1, Participants: []notice.Participant{{Identity: alice}, {Identity: bob}}}
	other := notice.Bout{Number: 2, Participants: []notice.Participant{{Identity: bob}, {Identity: alice}}}

	post := func(number int64, b notice.Bout) {
		m, err := h.Msg(number)
		require.NoError(t, err)
		m.Put(attr.BoutNumber, strconv.FormatInt(b.Number, 10))
		require.NoError(t, r.See(env, &notice.MessagePosted{Message: notice.Message{Number: number, Author: alice}, Bout: b}))
	}
	post(1, bout)
	post(2, other)
	post(3, bout)

	assert.Equal(t, []int64{3, 2, 1}, run(t, h, "(talks-with 'urn:test:bob')"))
	assert.Equal(t, []int64{3}, run(t, h, "(bundled)"))
	assert.Equal(t, []int64{2}, run(t, h, "(unbundled 1)"))
	assert.Empty(t, run(t, h, "(unbundled 9)"))

	require.NoError(t, r.See(env, &notice.MessageSeen{Message: notice.Message{Number: 2, Author: alice}, Identity: bob}))
	assert.Equal(t, []int64{2}, run(t, h, "(seen-by 'urn:test:bob')"))

	joined := bout
	joined.Participants = append(append([]notice.Participant(nil), bout.Participants...), notice.Participant{Identity: carol})
	require.NoError(t, r.See(env, &notice.Join{Bout: joined, Identity: carol}))
	assert.Equal(t, []int64{3, 1}, run(t, h, "(talks-with 'urn:test:carol')"))
	assert.Equal(t, []int64{3, 2}, run(t, h, "(bundled)"))

	require.NoError(t, r.See(env, &notice.KickOff{Bout: bout, Identity: carol}))
	assert.Empty(t, run(t, h, "(talks-with 'urn:test:carol')"))
	assert.Equal(t, []int64{3}, run(t, h, "(bundled)"))
}
