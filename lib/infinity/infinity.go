package infinity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/infinity/lib/mux"
	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/ValentinKolb/infinity/lib/query"
	"github.com/ValentinKolb/infinity/lib/store"
	"github.com/ValentinKolb/infinity/lib/term"
	"github.com/ValentinKolb/infinity/lib/volume"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("infinity")

// NotReady is what Eta reports while nothing is indexed yet.
const NotReady = time.Millisecond

var (
	// ErrClosed is returned by See after Close.
	ErrClosed = fmt.Errorf("infinity closed: %w", mux.ErrClosed)
	// ErrNoSource is returned by Backfill without a configured source.
	ErrNoSource = errors.New("no backfill source configured")
)

// Infinity indexes messages from notices and answers queries over them.
//
// Thread-safety: all methods are safe for concurrent use. Queries run on the
// caller's goroutine next to the workers applying notices.
type Infinity struct {
	ctx    *Context
	store  store.IStore
	parser *query.Parser
	mux    *mux.Mux
	set    *metrics.Set

	// gate is held shared by See from journaling to queueing, and
	// exclusively to read a consistent journal position
	gate   sync.RWMutex
	closed bool

	// covered is the last journal record contained in the heap snapshot
	covered  atomic.Uint64
	snapshot chan struct{} // closed to stop the snapshot loop
	wg       sync.WaitGroup
}

// New loads the snapshot, replays the journal and starts the workers.
func New(c *Context) (*Infinity, error) {
	c, err := c.resolve()
	if err != nil {
		return nil, err
	}
	inf := &Infinity{
		ctx:      c,
		store:    c.Store,
		parser:   query.NewParser(c.Registry),
		set:      metrics.NewSet(),
		snapshot: make(chan struct{}),
	}

	if c.SnapshotPath != "" {
		if err := inf.loadSnapshot(); err != nil {
			return nil, err
		}
	}
	if c.Journal != nil {
		if err := inf.replay(context.Background()); err != nil {
			return nil, err
		}
	}

	inf.mux = mux.New(c.Store, c.Mux)
	inf.set.NewGauge("infinity_heap_messages", func() float64 { return float64(c.Heap.Len()) })
	inf.set.NewGauge("infinity_heap_maximum", func() float64 { return float64(c.Heap.Maximum()) })

	if c.SnapshotPath != "" && c.SnapshotInterval > 0 {
		inf.wg.Add(1)
		go inf.snapshotLoop()
	}

	log.Infof("ready with %d messages (maximum %d)", c.Heap.Len(), c.Heap.Maximum())
	return inf, nil
}

// replay rebuilds the index from the journal records the snapshot does not
// contain. Notices are applied directly, one at a time, in journal order.
func (inf *Infinity) replay(ctx context.Context) error {
	start := time.Now()
	j := inf.ctx.Journal
	covered := inf.covered.Load()
	if base := j.Base(); base > covered {
		log.Warningf("%s was compacted up to record %d but the snapshot only covers %d", j.Path(), base, covered)
	}

	var applied, skipped, failed int
	err := j.Replay(ctx, func(seq uint64, n notice.Notice) error {
		if seq <= covered {
			skipped++
			return nil
		}
		if err := inf.store.See(ctx, n); err != nil {
			failed++
			log.Warningf("replay of #%d %s failed: %v", seq, n.Name(), err)
			return nil
		}
		applied++
		return nil
	})
	if err != nil {
		return fmt.Errorf("replaying %s: %w", inf.ctx.Journal.Path(), err)
	}
	log.Infof("replayed %d notices from %s in %s (%d in the snapshot, %d failed)",
		applied, j.Path(), time.Since(start).Round(time.Millisecond), skipped, failed)
	return nil
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// See journals n and queues it. It returns once the notice is queued,
// invalid notices are rejected right away.
func (inf *Infinity) See(n notice.Notice) error {
	inf.gate.RLock()
	defer inf.gate.RUnlock()
	if inf.closed {
		return ErrClosed
	}

	if err := n.Validate(); err != nil {
		log.Warningf("rejected %s: %v", n.Name(), err)
		return err
	}
	if v := inf.ctx.Volume; v != nil {
		if _, err := v.Fence(); err != nil {
			log.Warningf("not accepting %s: %v", n.Name(), err)
			return err
		}
	}
	if j := inf.ctx.Journal; j != nil {
		if _, err := j.Append(n); err != nil {
			log.Errorf("journaling %s failed: %v", n.Name(), err)
			return fmt.Errorf("journaling %s: %w", n.Name(), err)
		}
	}
	if err := inf.mux.Add(n); err != nil {
		if errors.Is(err, mux.ErrClosed) {
			return ErrClosed
		}
		log.Errorf("queueing %s failed: %v", n.Name(), err)
		return err
	}
	return nil
}

// Backfill indexes bouts of identity from the configured source that are
// not indexed yet, see store.Backfill.
func (inf *Infinity) Backfill(ctx context.Context, identity notice.Identity) (int, error) {
	if inf.ctx.Source == nil {
		return 0, ErrNoSource
	}
	return store.Backfill(ctx, inf.store, inf.ctx.Source, identity)
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// Messages compiles q and returns the matching message numbers, newest
// first. Syntax and predicate errors are returned here. The sequence is lazy
// and can be ranged over more than once, every range starts from the top of
// the index as it is then.
func (inf *Infinity) Messages(q string) (iter.Seq[int64], error) {
	expr, err := query.ParseExpr(q)
	if err != nil {
		return nil, err
	}
	env := query.NewEnv(inf.ctx.Heap)
	first, err := inf.parser.Compile(expr, env)
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func(yield func(int64) bool) {
		t := first
		fresh := false
		once.Do(func() { fresh = true })
		if !fresh {
			// terms keep state between shifts, a new range needs a new tree
			var err error
			if t, err = inf.parser.Compile(expr, env); err != nil {
				log.Errorf("recompiling %s: %v", expr, err)
				return
			}
		}

		err := term.Walk(term.NewCursor(inf.ctx.Heap), term.NewValve(t), func(c term.Cursor) bool {
			return yield(c.Number())
		})
		if err != nil {
			log.Errorf("query %s stopped: %v", expr, err)
		}
	}, nil
}

// Eta estimates how long until the notices of identity are applied. It is
// NotReady, never 0, while the index is empty.
func (inf *Infinity) Eta(identity notice.Identity) time.Duration {
	if inf.ctx.Heap.Maximum() == 0 {
		return NotReady
	}
	return inf.mux.Eta(string(identity))
}

// Maximum returns the highest message number indexed.
func (inf *Infinity) Maximum() int64 { return inf.ctx.Heap.Maximum() }

// Stats returns the state of the worker pool.
func (inf *Infinity) Stats() mux.Stats { return inf.mux.Stats() }

// Store returns the underlying store.
func (inf *Infinity) Store() store.IStore { return inf.store }

// WritePrometheus writes the engine gauges in Prometheus text format. The
// mux counters live in the default VictoriaMetrics set.
func (inf *Infinity) WritePrometheus(w io.Writer) {
	inf.set.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Close
// --------------------------------------------------------------------------

// Close drains the workers, writes a final snapshot (compacting the journal
// up to it) and closes the journal and the volume, in that order.
func (inf *Infinity) Close() error {
	inf.gate.Lock()
	if inf.closed {
		inf.gate.Unlock()
		return nil
	}
	inf.closed = true
	inf.gate.Unlock()

	var errs []error
	if err := inf.mux.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing mux: %w", err))
	}

	close(inf.snapshot)
	inf.wg.Wait()
	if inf.ctx.SnapshotPath != "" {
		switch err := inf.SaveSnapshot(); {
		case errors.Is(err, volume.ErrNotOwner), errors.Is(err, volume.ErrLeaseLost):
			log.Warningf("skipping final snapshot: %v", err)
		case err != nil:
			errs = append(errs, fmt.Errorf("final snapshot: %w", err))
		}
	}

	if j := inf.ctx.Journal; j != nil {
		if err := j.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing journal: %w", err))
		}
	}
	if v := inf.ctx.Volume; v != nil {
		if err := v.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing volume: %w", err))
		}
	}
	return errors.Join(errs...)
}
