package mux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/ValentinKolb/infinity/lib/store"
	"github.com/ValentinKolb/infinity/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("mux")

var (
	// ErrClosed is returned by Add after Close was called.
	ErrClosed = errors.New("mux closed")
	// ErrPanic wraps a panic recovered from the store.
	ErrPanic = errors.New("task panicked")
	// ErrTimeout marks a task the watchdog cancelled.
	ErrTimeout = errors.New("task exceeded max age")
	// ErrShutdownTimeout is returned by Close when tasks were still running
	// after the force phase.
	ErrShutdownTimeout = errors.New("mux shutdown timed out")
)

type task struct {
	n        notice.Notice
	name     string
	deps     []string
	attempts int
}

// running is the watchdog's view of a task that is being applied.
type running struct {
	cancel   context.CancelFunc
	warnings int
	killed   bool
}

// Mux applies notices to a store on a pool of workers.
//
// Thread-safety: all methods are safe for concurrent use.
type Mux struct {
	store store.IStore
	opts  Options

	queue    *util.LockFreeMPSC[task]
	inflight *xsync.MapOf[string, *task]
	pending  *xsync.MapOf[string, int64]
	window   *util.Window

	// outstanding is the sum of all pending counters
	outstanding atomic.Int64

	// guards ages and running
	mu      sync.Mutex
	ages    *util.AgeHeap
	running map[string]*running

	// ctx is the parent of every task context, cancelled by the force phase
	ctx    context.Context
	cancel context.CancelFunc

	closed    atomic.Bool
	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup // workers and waiting retries
	stopWatch chan struct{}
	watchDone chan struct{}

	executed   atomic.Uint64
	failed     atomic.Uint64
	retried    atomic.Uint64
	dead       atomic.Uint64
	duplicates atomic.Uint64

	registry gometrics.Registry
	meter    gometrics.Meter
}

// New starts a Mux applying notices to st.
func New(st store.IStore, opts Options) *Mux {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	m := &Mux{
		store:     st,
		opts:      opts,
		queue:     util.NewLockFreeMPSC[task](),
		inflight:  xsync.NewMapOf[string, *task](),
		pending:   xsync.NewMapOf[string, int64](),
		window:    util.NewWindow(opts.WindowSize),
		ages:      util.NewAgeHeap(),
		running:   make(map[string]*running),
		ctx:       ctx,
		cancel:    cancel,
		closing:   make(chan struct{}),
		stopWatch: make(chan struct{}),
		watchDone: make(chan struct{}),
		registry:  gometrics.NewRegistry(),
	}
	m.meter = gometrics.GetOrRegisterMeter("tasks", m.registry)

	m.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go m.worker()
	}
	go m.watchdog()

	log.Debugf("started %d workers", opts.Workers)
	return m
}

// Add validates n and queues it. A notice with the same name that is
// already queued or running makes Add a no-op.
func (m *Mux) Add(n notice.Notice) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := n.Validate(); err != nil {
		return err
	}

	t := &task{n: n, name: n.Name(), deps: n.Dependants()}
	if _, loaded := m.inflight.LoadOrStore(t.name, t); loaded {
		m.duplicates.Add(1)
		log.Debugf("dropping duplicate %s", t.name)
		return nil
	}
	for _, id := range t.deps {
		m.pending.Compute(id, func(old int64, _ bool) (int64, bool) {
			return old + 1, false
		})
	}
	m.outstanding.Add(int64(len(t.deps)))

	if !m.queue.Push(t) {
		m.finish(t)
		return ErrClosed
	}
	return nil
}

// Eta estimates how long until every notice naming identity is applied.
// Notices run in queue order, so an identity with outstanding work waits
// for the whole queue: outstanding * mean / workers.
func (m *Mux) Eta(identity string) time.Duration {
	p, ok := m.pending.Load(identity)
	if !ok || p <= 0 {
		return 0
	}
	total := max(m.outstanding.Load(), p)
	return time.Duration(total) * m.window.Mean() / time.Duration(m.opts.Workers)
}

// Outstanding returns the sum of the pending counts of all identities.
func (m *Mux) Outstanding() int64 { return m.outstanding.Load() }

// Pending returns the number of notices naming identity that are not
// applied yet.
func (m *Mux) Pending(identity string) int64 {
	p, _ := m.pending.Load(identity)
	return p
}

// Workers returns the size of the worker pool.
func (m *Mux) Workers() int { return m.opts.Workers }

// --------------------------------------------------------------------------
// Workers
// --------------------------------------------------------------------------

func (m *Mux) worker() {
	defer m.wg.Done()
	for t := range m.queue.Recv() {
		m.run(t)
	}
}

func (m *Mux) run(t *task) {
	t.attempts++
	ctx, cancel := context.WithCancel(m.ctx)
	start := m.opts.Clock.Now()

	rt := &running{cancel: cancel}
	m.mu.Lock()
	m.running[t.name] = rt
	m.ages.Put(t.name, start.UnixNano())
	m.mu.Unlock()

	err := m.apply(ctx, t.n)
	cancel()
	elapsed := m.opts.Clock.Now().Sub(start)

	m.mu.Lock()
	delete(m.running, t.name)
	m.ages.Remove(t.name)
	killed := rt.killed
	m.mu.Unlock()

	if killed {
		err = errors.Join(fmt.Errorf("%w after %s", ErrTimeout, elapsed), err)
	}
	m.window.Add(elapsed)
	taskSeconds.Update(elapsed.Seconds())

	if err == nil {
		m.finish(t)
		m.executed.Add(1)
		tasksOK.Inc()
		m.meter.Mark(1)
		return
	}

	m.failed.Add(1)
	tasksFailed.Inc()
	if store.Permanent(err) || t.attempts >= m.opts.MaxAttempts {
		m.deadLetter(t, err)
		return
	}
	m.retry(t, err)
}

// apply runs the store and turns a panic into an error.
func (m *Mux) apply(ctx context.Context, n notice.Notice) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrPanic, n.Name(), r)
		}
	}()
	return m.store.See(ctx, n)
}

func (m *Mux) retry(t *task, cause error) {
	select {
	case <-m.closing:
		m.deadLetter(t, errors.Join(ErrClosed, cause))
		return
	default:
	}

	delay := m.opts.backoff(t.attempts)
	m.retried.Add(1)
	tasksRetried.Inc()
	log.Debugf("retrying %s in %s (attempt %d/%d): %v", t.name, delay, t.attempts, m.opts.MaxAttempts, cause)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-m.opts.Clock.After(delay):
			if m.queue.Push(t) {
				return
			}
		case <-m.closing:
		}
		m.deadLetter(t, errors.Join(ErrClosed, cause))
	}()
}

func (m *Mux) deadLetter(t *task, cause error) {
	defer func() {
		m.finish(t)
		m.dead.Add(1)
		tasksDead.Inc()
	}()

	if m.opts.DeadLetter == nil {
		log.Errorf("dropping %s after %d attempts: %v", t.name, t.attempts, cause)
		return
	}
	if _, err := m.opts.DeadLetter.Append(t.n); err != nil {
		log.Errorf("failed to dead-letter %s: %v (cause: %v)", t.name, err, cause)
		return
	}
	log.Warningf("dead-lettered %s after %d attempts: %v", t.name, t.attempts, cause)
}

// finish releases the dedup slot and the pending counters of t.
func (m *Mux) finish(t *task) {
	m.inflight.Delete(t.name)
	for _, id := range t.deps {
		m.pending.Compute(id, func(old int64, _ bool) (int64, bool) {
			return old - 1, old <= 1
		})
	}
	m.outstanding.Add(-int64(len(t.deps)))
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close stops intake and drains the queue. See the package documentation
// for the two phases. Calling Close again returns the first result.
func (m *Mux) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.shutdown()
	})
	return m.closeErr
}

func (m *Mux) shutdown() error {
	m.closed.Store(true)
	close(m.closing)
	m.queue.Close()

	defer func() {
		close(m.stopWatch)
		<-m.watchDone
		m.meter.Stop()
	}()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	graceful := time.NewTimer(m.opts.GracefulTimeout)
	defer graceful.Stop()
	select {
	case <-done:
		m.cancel()
		log.Infof("graceful shutdown complete (%d executed, %d dead-lettered)", m.executed.Load(), m.dead.Load())
		return nil
	case <-graceful.C:
	}

	log.Warningf("graceful shutdown timed out after %s, cancelling %d running tasks", m.opts.GracefulTimeout, m.runningCount())
	m.cancel()

	force := time.NewTimer(m.opts.ForceTimeout)
	defer force.Stop()
	select {
	case <-done:
		log.Infof("forced shutdown complete (%d executed, %d dead-lettered)", m.executed.Load(), m.dead.Load())
		return nil
	case <-force.C:
		log.Errorf("forced shutdown timed out after %s, abandoning %d tasks", m.opts.ForceTimeout, m.inflight.Size())
		return ErrShutdownTimeout
	}
}

func (m *Mux) runningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}
