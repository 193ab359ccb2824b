package infinity

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/infinity/lib/heap"
)

func (inf *Infinity) loadSnapshot() error {
	f, err := os.Open(inf.ctx.SnapshotPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Infof("no snapshot at %s, starting empty", inf.ctx.SnapshotPath)
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	meta, err := inf.ctx.Heap.Load(f)
	if err != nil {
		return fmt.Errorf("loading snapshot %s: %w", inf.ctx.SnapshotPath, err)
	}
	inf.covered.Store(meta.Journal)
	log.Infof("loaded %d messages from %s (token %d, journal record %d) in %s",
		inf.ctx.Heap.Len(), inf.ctx.SnapshotPath, meta.Token, meta.Journal, time.Since(start).Round(time.Millisecond))
	return nil
}

// SaveSnapshot writes the heap to the snapshot path, stamped with the
// fencing token of the volume (0 without one) and the last journal record it
// contains. Journal records up to that one are compacted away afterwards. It
// fails if the volume may not be written.
func (inf *Infinity) SaveSnapshot() error {
	path := inf.ctx.SnapshotPath
	if path == "" {
		return errors.New("no snapshot path configured")
	}

	var token uint64
	if v := inf.ctx.Volume; v != nil {
		var err error
		if token, err = v.Fence(); err != nil {
			return err
		}
	}

	j := inf.ctx.Journal
	covered := inf.covered.Load()
	if j != nil {
		if err := j.Sync(); err != nil {
			return err
		}
		// while notices are in flight the heap may miss some of the journal
		if seq, ok := inf.settled(); ok {
			covered = seq
		}
	}

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	w := bufio.NewWriter(f)
	if err := inf.ctx.Heap.Save(w, heap.Meta{Token: token, Journal: covered}, inf.ctx.SnapshotCodec); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	inf.covered.Store(covered)
	log.Debugf("saved %d messages to %s (token %d, journal record %d)", inf.ctx.Heap.Len(), path, token, covered)

	if j != nil && covered > j.Base() {
		if _, err := j.Compact(covered); err != nil {
			return fmt.Errorf("compacting journal: %w", err)
		}
	}
	return nil
}

// settled returns the last journal record if every notice journaled so far
// has been applied or dead-lettered.
func (inf *Infinity) settled() (uint64, bool) {
	inf.gate.Lock()
	defer inf.gate.Unlock()
	if inf.mux.Outstanding() > 0 {
		return 0, false
	}
	return inf.ctx.Journal.Seq(), true
}

func (inf *Infinity) snapshotLoop() {
	defer inf.wg.Done()
	ticker := inf.ctx.Clock.NewTicker(inf.ctx.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-inf.snapshot:
			return
		case <-ticker.C:
			if err := inf.SaveSnapshot(); err != nil {
				log.Warningf("periodic snapshot failed: %v", err)
			}
		}
	}
}
