package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ValentinKolb/infinity/lib/heap"
	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/ValentinKolb/infinity/lib/source"
	"github.com/ValentinKolb/infinity/lib/store"
	"github.com/ValentinKolb/infinity/lib/store/lstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackfill(t *testing.T) {
	alice, bob := notice.Identity("urn:test:alice"), notice.Identity("urn:test:bob")
	src := source.NewMemory()
	for b := int64(1); b <= 20; b++ {
		src.PutBout(notice.Bout{Number: b, Participants: []notice.Participant{{Identity: alice}, {Identity: bob}}})
		for i := int64(0); i < 3; i++ {
			n := b*10 + i
			src.PutMessage(b, notice.Message{Number: n, Author: alice, Text: "hello"})
		}
	}
	src.PutBout(notice.Bout{Number: 99, Participants: []notice.Participant{{Identity: bob}}})
	src.PutMessage(99, notice.Message{Number: 990, Author: bob, Text: "not alice's"})

	st := lstore.NewLocalStore(heap.New(nil), nil)
	ctx := context.Background()
	require.NoError(t, st.See(ctx, &notice.MessagePosted{
		Message: notice.Message{Number: 10, Author: alice, Text: "already"},
		Bout:    notice.Bout{Number: 1, Participants: []notice.Participant{{Identity: alice}}},
	}))

	added, err := store.Backfill(ctx, st, src, alice)
	require.NoError(t, err)
	assert.Equal(t, 59, added)
	assert.Equal(t, 60, st.Heap().Len())
	assert.False(t, st.Heap().Has(990))

	added, err = store.Backfill(ctx, st, src, alice)
	require.NoError(t, err)
	assert.Zero(t, added)
}

type failingSource struct{ *source.Memory }

func (failingSource) Message(ctx context.Context, number int64) (notice.Message, error) {
	return notice.Message{}, errors.New("boom")
}

func TestBackfillFailure(t *testing.T) {
	alice := notice.Identity("urn:test:alice")
	mem := source.NewMemory()
	mem.PutBout(notice.Bout{Number: 1, Participants: []notice.Participant{{Identity: alice}}})
	mem.PutMessage(1, notice.Message{Number: 1, Author: alice})

	st := lstore.NewLocalStore(heap.New(nil), nil)
	_, err := store.Backfill(context.Background(), st, failingSource{mem}, alice)
	var se *store.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, store.RetCBackfillFailed, se.Code)
}
