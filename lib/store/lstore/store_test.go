package lstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/infinity/lib/attr"
	"github.com/ValentinKolb/infinity/lib/heap"
	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/ValentinKolb/infinity/lib/query"
	"github.com/ValentinKolb/infinity/lib/store"
	"github.com/ValentinKolb/infinity/lib/term"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = notice.Identity("urn:test:alice")
	bob   = notice.Identity("urn:test:bob")
	carol = notice.Identity("urn:other:carol")
	when  = time.UnixMilli(1700000000000).UTC()
)

func bout(number int64, title string, who ...notice.Identity) notice.Bout {
	b := notice.Bout{Number: number, Title: title, Date: when}
	for _, i := range who {
		b.Participants = append(b.Participants, notice.Participant{Identity: i, Confirmed: true})
	}
	return b
}

func post(number int64, author notice.Identity, text string, b notice.Bout) *notice.MessagePosted {
	return &notice.MessagePosted{
		Message: notice.Message{Number: number, Author: author, Text: text, Date: when},
		Bout:    b,
	}
}

func messages(t *testing.T, st store.IStore, q string) []int64 {
	t.Helper()
	tm, err := query.Parse(q, st)
	require.NoError(t, err)
	var got []int64
	require.NoError(t, term.Walk(term.NewCursor(st.Heap()), term.NewValve(tm), func(c term.Cursor) bool {
		got = append(got, c.Number())
		return true
	}))
	return got
}

func TestPostedAttributes(t *testing.T) {
	st := NewLocalStore(heap.New(nil), nil)
	ctx := context.Background()
	require.NoError(t, st.See(ctx, post(10, alice, "hello world", bout(42, "Plans", alice, bob))))

	m, ok := st.Heap().Lookup(10)
	require.True(t, ok)
	assert.Equal(t, map[string][]string{
		"number":         {"10"},
		"text":           {"hello world"},
		"date":           {"1700000000000"},
		"author.name":    {"urn:test:alice"},
		"author.ns":      {"test"},
		"bout.number":    {"42"},
		"bout.title":     {"Plans"},
		"bout.date":      {"1700000000000"},
		"talks-with":     {"urn:test:alice", "urn:test:bob"},
		"bundled.marker": {"urn:test:alice urn:test:bob"},
	}, m.Snapshot())
	assert.Equal(t, uint64(1), st.Applied())
}

func TestExampleQueryOverStore(t *testing.T) {
	st := NewLocalStore(heap.New(nil), nil)
	ctx := context.Background()
	b42 := bout(42, "Plans", alice, bob)
	require.NoError(t, st.See(ctx, post(10, alice, "hello world", b42)))
	require.NoError(t, st.See(ctx, post(11, bob, "goodbye", b42)))
	require.NoError(t, st.See(ctx, post(12, bob, "hello there", bout(7, "Other", bob))))

	assert.Equal(t, []int64{10}, messages(t, st, "(and (equal $bout.number 42) (matches 'hello' $text))"))
	assert.Equal(t, []int64{12, 10}, messages(t, st, "hello"))
	assert.Equal(t, []int64{11, 10}, messages(t, st, "(talks-with 'urn:test:alice')"))
}

func TestAliasesAndRename(t *testing.T) {
	st := NewLocalStore(heap.New(nil), nil)
	ctx := context.Background()
	b := bout(1, "Lunch", alice, bob)
	require.NoError(t, st.See(ctx, post(1, alice, "first", b)))
	require.NoError(t, st.See(ctx, post(2, bob, "second", b)))

	require.NoError(t, st.See(ctx, &notice.AliasAdded{Identity: alice, Alias: "wonderland"}))
	require.NoError(t, st.See(ctx, post(3, alice, "third", b)))
	assert.Equal(t, []int64{3, 1}, messages(t, st, "wonderland"))

	// applying the same alias twice changes nothing
	require.NoError(t, st.See(ctx, &notice.AliasAdded{Identity: alice, Alias: "wonderland"}))
	m, _ := st.Heap().Lookup(1)
	assert.Equal(t, []string{"wonderland"}, m.All(attr.AuthorAlias))

	b.Title = "Dinner"
	require.NoError(t, st.See(ctx, &notice.BoutRenamed{Bout: b}))
	assert.Equal(t, []int64{3, 2, 1}, messages(t, st, "dinner"))
	assert.Empty(t, messages(t, st, "lunch"))
}

func TestSeenAndParticipants(t *testing.T) {
	st := NewLocalStore(heap.New(nil), nil)
	ctx := context.Background()
	b := bout(5, "Team", alice, bob)
	require.NoError(t, st.See(ctx, post(1, alice, "x", b)))

	err := st.See(ctx, &notice.MessageSeen{Message: notice.Message{Number: 9, Author: alice}, Identity: bob})
	var se *store.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, store.RetCUnknownMessage, se.Code)
	assert.False(t, store.Permanent(err))

	require.NoError(t, st.See(ctx, &notice.MessageSeen{Message: notice.Message{Number: 1, Author: alice}, Identity: bob}))
	assert.Equal(t, []int64{1}, messages(t, st, "(seen-by 'urn:test:bob')"))

	joined := bout(5, "Team", alice, bob, carol)
	require.NoError(t, st.See(ctx, &notice.Join{Bout: joined, Identity: carol}))
	assert.Equal(t, []int64{1}, messages(t, st, "(talks-with 'urn:other:carol')"))
	require.NoError(t, st.See(ctx, &notice.KickOff{Bout: b, Identity: carol}))
	assert.Empty(t, messages(t, st, "(talks-with 'urn:other:carol')"))
	assert.Equal(t, []int64{1}, messages(t, st, "(ns 'test')"))
}

func TestInvalidNotice(t *testing.T) {
	st := NewLocalStore(heap.New(nil), nil)
	err := st.See(context.Background(), post(1, alice, "x", notice.Bout{Number: 1}))
	var se *store.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, store.RetCInvalidNotice, se.Code)
	assert.True(t, errors.Is(err, notice.ErrNoDependants))
	assert.True(t, store.Permanent(err))
	assert.Equal(t, uint64(0), st.Applied())
}
