package volume

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/infinity/lib/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("volume")

var (
	// ErrLeaseLost is returned when another node took the lease over.
	ErrLeaseLost = errors.New("volume lease lost")
	// ErrNotOwner is returned by operations that need the lease before
	// Obtain succeeded.
	ErrNotOwner = errors.New("volume not owned by this node")
)

// Options configures the lease.
type Options struct {
	TTL       time.Duration // lease length, default 15s
	Heartbeat time.Duration // renewal interval, default TTL/3
	PollBase  time.Duration // wait per Obtain cycle, default 250ms
	PollMax   time.Duration // cap of the wait, default 5s
	Addr      string        // written to the markers, default host/pid
	Watch     bool          // watch the directory with fsnotify
	Clock     clock.Clock
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		TTL:      15 * time.Second,
		PollBase: 250 * time.Millisecond,
		PollMax:  5 * time.Second,
		Watch:    true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TTL <= 0 {
		o.TTL = d.TTL
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = o.TTL / 3
	}
	if o.PollBase <= 0 {
		o.PollBase = d.PollBase
	}
	if o.PollMax <= 0 {
		o.PollMax = d.PollMax
	}
	if o.Addr == "" {
		host, _ := os.Hostname()
		o.Addr = fmt.Sprintf("%s/%d", host, os.Getpid())
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	return o
}

// Volume coordinates write access to a shared directory between nodes
// through a lease file with a fencing token.
//
// Thread-safety: all methods are safe for concurrent use.
type Volume struct {
	dir  string
	id   string
	opts Options

	mu       sync.Mutex
	token    uint64
	seen     uint64 // highest token read from MasterFile
	obtained bool
	closed   bool

	lost      chan struct{}
	lostOnce  sync.Once
	isLost    atomic.Bool
	yield     chan struct{}
	yieldOnce sync.Once

	stop    chan struct{}
	wg      sync.WaitGroup
	watcher *fsnotify.Watcher
}

// Open prepares dir (creating it) for a node with a fresh uuid. It does not
// take the lease, see Obtain.
func Open(dir string, opts Options) (*Volume, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating volume directory %s: %w", dir, err)
	}
	return &Volume{
		dir:   dir,
		id:    uuid.NewString(),
		opts:  opts.withDefaults(),
		lost:  make(chan struct{}),
		yield: make(chan struct{}),
		stop:  make(chan struct{}),
	}, nil
}

// ID returns the node identity written to the markers.
func (v *Volume) ID() string { return v.id }

// Dir returns the shared directory.
func (v *Volume) Dir() string { return v.dir }

// Token returns the fencing token of the lease, 0 before Obtain.
func (v *Volume) Token() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.token
}

// Lost is closed once the lease was taken over by another node.
func (v *Volume) Lost() <-chan struct{} { return v.lost }

// Yield is closed once another node asked for the lease.
func (v *Volume) Yield() <-chan struct{} { return v.yield }

func (v *Volume) path(name string) string { return filepath.Join(v.dir, name) }

// observe records a token read from MasterFile and returns the highest one
// seen so far.
func (v *Volume) observe(token uint64) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seen = max(v.seen, token)
	return v.seen
}

func (v *Volume) marker(token uint64, now time.Time) Marker {
	return Marker{
		Owner:   v.id,
		Addr:    v.opts.Addr,
		Token:   token,
		Expires: now.Add(v.opts.TTL),
		Written: now,
	}
}

// --------------------------------------------------------------------------
// Obtain
// --------------------------------------------------------------------------

// Obtain blocks until this node holds the lease or ctx is done. A lease of
// another node is taken over once it expired. An unreadable MasterFile is
// never taken over, its token is unknown. It has to be repaired or removed.
func (v *Volume) Obtain(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrLeaseLost
	}
	if v.obtained {
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()

	clk := v.opts.Clock
	if err := writeMarker(v.path(YieldFile), Marker{Owner: v.id, Addr: v.opts.Addr, Written: clk.Now()}); err != nil {
		return fmt.Errorf("writing %s: %w", YieldFile, err)
	}

	var token uint64
	for cycle := 1; ; cycle++ {
		current, ok, err := readMarker(v.path(MasterFile))
		var seen uint64
		if err != nil {
			log.Errorf("unreadable %s, waiting until it is repaired or removed: %v", MasterFile, err)
		} else {
			seen = v.observe(current.Token)
		}

		now := clk.Now()
		if err == nil && (!ok || current.Owner == v.id || current.Expired(now)) {
			if ok && current.Owner != v.id {
				log.Infof("taking over expired lease of %s (token %d)", current.Addr, current.Token)
			}
			token = seen + 1
			if err := writeMarker(v.path(MasterFile), v.marker(token, now)); err != nil {
				return fmt.Errorf("writing %s: %w", MasterFile, err)
			}
			// two nodes may have raced on the rename
			if won, _, err := readMarker(v.path(MasterFile)); err == nil && won.Owner == v.id {
				break
			}
			continue
		}

		wait := min(time.Duration(cycle)*v.opts.PollBase, v.opts.PollMax)
		log.Debugf("waiting %s for lease held by %s (token %d)", wait, current.Addr, current.Token)
		select {
		case <-ctx.Done():
			_ = removeIfOwned(v.path(YieldFile), v.id)
			return ctx.Err()
		case <-clk.After(wait):
		}
	}

	if err := removeIfOwned(v.path(YieldFile), v.id); err != nil {
		log.Warningf("removing %s: %v", YieldFile, err)
	}

	v.mu.Lock()
	v.token = token
	v.obtained = true
	v.mu.Unlock()
	log.Infof("obtained lease on %s (token %d)", v.dir, token)

	if v.opts.Watch {
		if err := v.watch(); err != nil {
			log.Warningf("not watching %s, relying on heartbeats: %v", v.dir, err)
		}
	}
	v.wg.Add(1)
	go v.heartbeat()
	return nil
}

// IsWritable reports whether this node holds the lease and nobody else is
// waiting for it.
func (v *Volume) IsWritable() bool {
	v.mu.Lock()
	obtained := v.obtained
	v.mu.Unlock()
	if !obtained || v.isLost.Load() {
		return false
	}
	m, ok, err := readMarker(v.path(YieldFile))
	if err != nil {
		return false
	}
	return !ok || m.Owner == v.id
}

// Fence returns the token to stamp on a write. It fails with ErrLeaseLost
// after a takeover and with ErrNotOwner while the lease is not held or
// another node waits for it.
func (v *Volume) Fence() (uint64, error) {
	if v.isLost.Load() {
		return 0, ErrLeaseLost
	}
	if !v.IsWritable() {
		return 0, ErrNotOwner
	}
	return v.Token(), nil
}

// --------------------------------------------------------------------------
// Heartbeat and watcher
// --------------------------------------------------------------------------

func (v *Volume) heartbeat() {
	defer v.wg.Done()
	ticker := v.opts.Clock.NewTicker(v.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-v.stop:
			return
		case <-v.lost:
			return
		case now := <-ticker.C:
			if err := v.renew(now); err != nil {
				log.Warningf("renewing lease: %v", err)
			}
		}
	}
}

// renew rewrites MasterFile with a new expiry unless another node owns it.
func (v *Volume) renew(now time.Time) error {
	if !v.check() {
		return ErrLeaseLost
	}
	return writeMarker(v.path(MasterFile), v.marker(v.Token(), now))
}

// check compares the markers on disk with our lease. It closes Yield when
// another node waits and Lost when another node holds the lease. It returns
// false once the lease is lost.
func (v *Volume) check() bool {
	if v.isLost.Load() {
		return false
	}
	if y, ok, err := readMarker(v.path(YieldFile)); err == nil && ok && y.Owner != v.id {
		v.yieldOnce.Do(func() {
			log.Infof("%s asked for the lease", y.Addr)
			close(v.yield)
		})
	}

	m, ok, err := readMarker(v.path(MasterFile))
	if err != nil {
		// a torn read is retried on the next event or heartbeat
		return true
	}
	if ok {
		v.observe(m.Token)
	}
	token := v.Token()
	if !ok || m.Owner != v.id || m.Token > token {
		v.lostOnce.Do(func() {
			v.isLost.Store(true)
			if ok {
				log.Errorf("lease lost to %s (token %d > %d)", m.Addr, m.Token, token)
			} else {
				log.Errorf("lease lost, %s was removed", MasterFile)
			}
			close(v.lost)
		})
		return false
	}
	return true
}

func (v *Volume) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(v.dir); err != nil {
		w.Close()
		return err
	}
	v.mu.Lock()
	v.watcher = w
	v.mu.Unlock()

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		for {
			select {
			case <-v.stop:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				switch filepath.Base(ev.Name) {
				case MasterFile, YieldFile:
					if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
						v.check()
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warningf("watcher error on %s: %v", v.dir, err)
			}
		}
	}()
	return nil
}

// --------------------------------------------------------------------------
// Close
// --------------------------------------------------------------------------

// Close stops the heartbeat and gives the lease up if this node still holds
// it. It is safe to call more than once.
func (v *Volume) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	obtained := v.obtained
	watcher := v.watcher
	v.mu.Unlock()

	close(v.stop)
	var errs []error
	if watcher != nil {
		errs = append(errs, watcher.Close())
	}
	v.wg.Wait()

	errs = append(errs, removeIfOwned(v.path(YieldFile), v.id))
	if obtained && !v.isLost.Load() {
		if err := removeIfOwned(v.path(MasterFile), v.id); err != nil {
			errs = append(errs, fmt.Errorf("releasing lease: %w", err))
		} else {
			log.Infof("released lease on %s (token %d)", v.dir, v.Token())
		}
	}
	return errors.Join(errs...)
}
