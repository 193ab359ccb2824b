package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/infinity/lib/common"
	"github.com/ValentinKolb/infinity/lib/feed"
	"github.com/ValentinKolb/infinity/lib/infinity"
	"github.com/ValentinKolb/infinity/lib/journal"
	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/ValentinKolb/infinity/lib/source"
	"github.com/ValentinKolb/infinity/lib/volume"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
)

var (
	log = logger.GetLogger("serve")

	errNoSource = errors.New("--backfill needs a --source-dsn")
)

// engine holds everything a running serve command owns
type engine struct {
	cfg     *common.EngineConfig
	volume  *volume.Volume
	journal *journal.Journal
	dead    *journal.Journal
	source  *source.SQLite
	inf     *infinity.Infinity
	feed    *feed.Server
	metrics *http.Server

	backfill     sync.WaitGroup
	stopBackfill context.CancelFunc
}

// run starts the engine and blocks until a signal arrives or the lease has
// to be given up
func run(_ *cobra.Command, _ []string) error {
	cfg := serveCmdConfig
	if err := common.InitLoggers(cfg.LogLevel); err != nil {
		return err
	}

	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	log.Infof("starting infinity engine")
	log.Infof("%s", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := &engine{cfg: cfg}
	if err := e.start(ctx); err != nil {
		return errors.Join(err, e.close())
	}

	select {
	case <-ctx.Done():
		log.Infof("received signal, shutting down")
	case <-e.volume.Yield():
		log.Infof("another node is waiting for %s, handing over the lease", e.volume.Dir())
	case <-e.volume.Lost():
		log.Errorf("lease on %s lost, shutting down", e.volume.Dir())
	}
	return e.close()
}

func (e *engine) start(ctx context.Context) error {
	cfg := e.cfg
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	// 1. lease
	v, err := volume.Open(cfg.Volume(), cfg.ToVolumeOptions())
	if err != nil {
		return err
	}
	e.volume = v
	log.Infof("node %s waiting for the lease on %s", v.ID(), v.Dir())
	if err := v.Obtain(ctx); err != nil {
		return fmt.Errorf("obtaining lease: %w", err)
	}
	log.Infof("lease obtained with token %d", v.Token())

	// 2. journals
	if e.dead, err = journal.Open(cfg.DeadLetterPath(), cfg.ToJournalOptions()); err != nil {
		return err
	}
	if cfg.Journal {
		if e.journal, err = journal.Open(cfg.JournalPath(), cfg.ToJournalOptions()); err != nil {
			return err
		}
	}

	// 3. engine
	c := &infinity.Context{
		Mux:              cfg.ToMuxOptions(),
		Journal:          e.journal,
		Volume:           v,
		SnapshotPath:     cfg.SnapshotPath(),
		SnapshotInterval: cfg.SnapshotInterval,
		SnapshotCodec:    cfg.Codec,
	}
	c.Mux.DeadLetter = e.dead
	if cfg.SourceDSN != "" {
		if e.source, err = source.OpenSQLite(cfg.SourceDSN); err != nil {
			return err
		}
		c.Source = e.source
	}
	if e.inf, err = infinity.New(c); err != nil {
		return err
	}

	// 4. outer surfaces
	if cfg.FeedEndpoint != "" {
		if e.feed, err = feed.NewServer(cfg.ToFeedConfig(), e.inf); err != nil {
			return err
		}
		if err := e.feed.Start(); err != nil {
			return err
		}
	}
	if cfg.MetricsEndpoint != "" {
		e.serveMetrics()
	}

	// 5. backfill in the background
	bctx, cancel := context.WithCancel(ctx)
	e.stopBackfill = cancel
	for _, identity := range cfg.Backfill {
		e.backfill.Add(1)
		go func() {
			defer e.backfill.Done()
			start := time.Now()
			n, err := e.inf.Backfill(bctx, notice.Identity(identity))
			if err != nil {
				log.Errorf("backfill of %s failed after %d notices: %v", identity, n, err)
				return
			}
			log.Infof("backfilled %d messages of %s in %s", n, identity, time.Since(start).Round(time.Millisecond))
		}()
	}

	log.Infof("infinity engine is up with %d messages", e.inf.Store().Heap().Len())
	return nil
}

func (e *engine) serveMetrics() {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
		e.inf.WritePrometheus(w)
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	e.metrics = &http.Server{Addr: e.cfg.MetricsEndpoint, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("serving metrics on %s", e.cfg.MetricsEndpoint)
		if err := e.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
}

// close shuts down in reverse start order. Fields that were never set are
// skipped.
func (e *engine) close() error {
	var errs []error

	if e.feed != nil {
		if err := e.feed.Close(); err != nil {
			errs = append(errs, err)
		}
		accepted, rejected := e.feed.Counts()
		log.Infof("feed closed after %d accepted and %d rejected notices", accepted, rejected)
	}
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if e.stopBackfill != nil {
		e.stopBackfill()
		e.backfill.Wait()
	}

	if e.inf != nil {
		stats := e.inf.Stats()
		// closes the journal and the volume too
		if err := e.inf.Close(); err != nil {
			errs = append(errs, err)
		}
		log.Infof("workers stopped: %s", stats)
	} else {
		if e.journal != nil {
			errs = append(errs, e.journal.Close())
		}
		if e.volume != nil {
			errs = append(errs, e.volume.Close())
		}
	}

	if e.dead != nil {
		errs = append(errs, e.dead.Close())
	}
	if e.source != nil {
		errs = append(errs, e.source.Close())
	}

	err := errors.Join(errs...)
	if err != nil {
		log.Errorf("shutdown: %v", err)
	} else {
		log.Infof("shutdown complete")
	}
	return err
}
