package infinity

import (
	"errors"
	"time"

	"github.com/ValentinKolb/infinity/lib/clock"
	"github.com/ValentinKolb/infinity/lib/heap"
	"github.com/ValentinKolb/infinity/lib/journal"
	"github.com/ValentinKolb/infinity/lib/mux"
	"github.com/ValentinKolb/infinity/lib/query"
	"github.com/ValentinKolb/infinity/lib/source"
	"github.com/ValentinKolb/infinity/lib/store"
	"github.com/ValentinKolb/infinity/lib/store/lstore"
	"github.com/ValentinKolb/infinity/lib/util"
	"github.com/ValentinKolb/infinity/lib/volume"
)

// Context carries everything an Infinity depends on. Only Store (or Heap)
// is needed, the other collaborators are optional.
type Context struct {
	// Store applies notices. If nil, a local store over Heap (or a new heap)
	// is created with Registry.
	Store store.IStore
	// Heap is used when Store is nil.
	Heap *heap.Heap
	// Registry resolves query predicates, nil means query.DefaultRegistry().
	Registry *query.Registry

	// Mux configures the worker pool. Its Clock defaults to Clock.
	Mux mux.Options

	// Journal receives every accepted notice before it is queued and is
	// replayed by New.
	Journal *journal.Journal
	// Volume guards writes. Must already hold the lease.
	Volume *volume.Volume
	// Source backfills identities on demand.
	Source source.ISource

	// SnapshotPath is loaded by New and written every SnapshotInterval and
	// on Close. Empty disables snapshots.
	SnapshotPath     string
	SnapshotInterval time.Duration
	SnapshotCodec    util.Codec

	Clock clock.Clock
}

// resolve fills the defaults into a copy of c.
func (c *Context) resolve() (*Context, error) {
	if c == nil {
		return nil, errors.New("nil context")
	}
	r := *c
	if r.Clock == nil {
		r.Clock = clock.Real()
	}
	if r.Registry == nil {
		r.Registry = query.DefaultRegistry()
	}
	if r.Store == nil {
		if r.Heap == nil {
			r.Heap = heap.New(nil)
		}
		r.Store = lstore.NewLocalStore(r.Heap, r.Registry)
	}
	r.Heap = r.Store.Heap()
	if r.Mux.Clock == nil {
		r.Mux.Clock = r.Clock
	}
	return &r, nil
}
