package store

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/ValentinKolb/infinity/lib/source"
	"golang.org/x/sync/errgroup"
)

// BackfillParallelism bounds the bouts fetched at the same time
const BackfillParallelism = 8

// Backfill indexes every message of the identity's bouts that is not indexed
// yet and returns how many were added. Bouts are fetched in parallel; the
// messages are applied in ascending order.
func Backfill(ctx context.Context, st IStore, src source.ISource, identity notice.Identity) (int, error) {
	bouts, err := src.IdentityBouts(ctx, identity)
	if err != nil {
		return 0, Wrap(RetCBackfillFailed, err, "bouts of %s", identity)
	}

	var (
		mu      sync.Mutex
		pending []*notice.MessagePosted
	)
	h := st.Heap()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(BackfillParallelism)
	for _, number := range bouts {
		g.Go(func() error {
			bout, err := src.Bout(gctx, number)
			if err != nil {
				return err
			}
			msgs, err := src.BoutMessages(gctx, number)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				if h.Has(m) {
					continue
				}
				msg, err := src.Message(gctx, m)
				if err != nil {
					return err
				}
				mu.Lock()
				pending = append(pending, &notice.MessagePosted{Message: msg, Bout: bout})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, Wrap(RetCBackfillFailed, err, "backfill of %s", identity)
	}

	slices.SortFunc(pending, func(a, b *notice.MessagePosted) int {
		return cmp.Compare(a.Message.Number, b.Message.Number)
	})
	added := 0
	for _, n := range pending {
		if err := st.See(ctx, n); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
