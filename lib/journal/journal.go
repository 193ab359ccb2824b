package journal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/ValentinKolb/infinity/lib/util"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("journal")

// DeadLetterFile is the name of the dead-letter journal inside a data dir
const DeadLetterFile = "dead.jrnl"

// Options configures a Journal
type Options struct {
	// Codec compresses large payloads
	Codec util.Codec
	// CompressAt is the payload size from which Codec is applied
	CompressAt int
	// Strict reports a torn tail as ErrTruncated instead of cutting it off
	Strict bool
	// SyncEach fsyncs the file after every append. Without it an appended
	// record survives a crash of the process but not of the machine.
	SyncEach bool
}

// DefaultOptions compress payloads of 512 bytes and more with zstd.
func DefaultOptions() Options {
	return Options{Codec: util.CodecZstd, CompressAt: 512}
}

// Journal is an append-only notice log.
//
// Thread-safety: all methods are safe for concurrent use. Replay reads
// through its own file handle and sees every record appended before it
// started.
type Journal struct {
	mu     sync.Mutex
	path   string
	opts   Options
	f      *os.File
	w      *bufio.Writer
	base   uint64
	seq    uint64
	size   int64
	closed bool
}

// Open opens or creates the journal at path.
func Open(path string, opts Options) (*Journal, error) {
	if opts.CompressAt <= 0 {
		opts.CompressAt = DefaultOptions().CompressAt
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	j := &Journal{path: path, opts: opts, f: f}
	if err := j.init(); err != nil {
		_ = f.Close()
		return nil, err
	}
	j.w = bufio.NewWriter(f)
	return j, nil
}

// init writes the header of a new file, or scans an existing one for the
// next sequence number and the end of the last intact record.
func (j *Journal) init() error {
	st, err := j.f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat journal: %w", err)
	}
	if st.Size() == 0 {
		if err := writeHeader(j.f, 0); err != nil {
			return fmt.Errorf("failed to write journal header: %w", err)
		}
		j.size = fileHeader{version: Version}.size()
		return nil
	}

	r := bufio.NewReader(j.f)
	h, err := readHeader(r)
	if err != nil {
		return err
	}
	j.base, j.seq = h.base, h.base
	end := h.size()
	for {
		rec, err := readRecord(r)
		if err == io.EOF {
			break
		}
		if errors.Is(err, ErrTruncated) {
			if j.opts.Strict {
				return fmt.Errorf("%s after record %d: %w", j.path, j.seq, err)
			}
			log.Warningf("cutting torn tail of %s after record %d (%d bytes kept): %v", j.path, j.seq, end, err)
			if err := j.f.Truncate(end); err != nil {
				return fmt.Errorf("failed to truncate journal: %w", err)
			}
			break
		}
		if err != nil {
			return fmt.Errorf("%s record %d: %w", j.path, j.seq+1, err)
		}
		j.seq++
		end += rec.size()
	}
	j.size = end
	if _, err := j.f.Seek(end, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek journal end: %w", err)
	}
	return nil
}

// Append writes a notice and returns its sequence number, starting at 1.
func (j *Journal) Append(n notice.Notice) (uint64, error) {
	payload, err := notice.Marshal(n)
	if err != nil {
		return 0, err
	}
	rec, err := encodeRecord(payload, j.opts.Codec, j.opts.CompressAt)
	if err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, ErrClosed
	}
	if _, err := j.w.Write(rec); err != nil {
		return 0, fmt.Errorf("failed to append to journal: %w", err)
	}
	// the record has to reach the file before the notice is acknowledged
	if err := j.w.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush journal: %w", err)
	}
	if j.opts.SyncEach {
		if err := j.f.Sync(); err != nil {
			return 0, fmt.Errorf("failed to sync journal: %w", err)
		}
	}
	j.seq++
	j.size += int64(len(rec))
	return j.seq, nil
}

// Sync flushes buffered records and syncs the file.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	return j.syncLocked()
}

func (j *Journal) syncLocked() error {
	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush journal: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// Seq returns the sequence number of the last record.
func (j *Journal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Base returns the sequence number of the last record compacted away, 0 if
// the journal was never compacted.
func (j *Journal) Base() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.base
}

// Size returns the file size.
func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Replay calls fn for every record in order. It stops at the first error
// returned by fn or when ctx is done.
func (j *Journal) Replay(ctx context.Context, fn func(seq uint64, n notice.Notice) error) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrClosed
	}
	if err := j.w.Flush(); err != nil {
		j.mu.Unlock()
		return fmt.Errorf("failed to flush journal: %w", err)
	}
	last := j.seq
	j.mu.Unlock()

	return replayFile(ctx, j.path, j.opts.Strict, last, fn)
}

// Compact drops the records up to and including upTo by rewriting the file.
// The remaining records keep their sequence numbers. It returns the number of
// records dropped.
func (j *Journal) Compact(upTo uint64) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, ErrClosed
	}
	upTo = min(upTo, j.seq)
	if upTo <= j.base {
		return 0, nil
	}
	if err := j.syncLocked(); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.path), "."+filepath.Base(j.path)+".*")
	if err != nil {
		return 0, fmt.Errorf("failed to create compacted journal: %w", err)
	}
	defer os.Remove(tmp.Name())
	size, err := copyTail(j.path, tmp, upTo)
	if err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close compacted journal: %w", err)
	}
	if err := os.Rename(tmp.Name(), j.path); err != nil {
		return 0, fmt.Errorf("failed to replace journal: %w", err)
	}

	_ = j.f.Close()
	f, err := os.OpenFile(j.path, os.O_RDWR, 0600)
	if err == nil {
		_, err = f.Seek(size, io.SeekStart)
	}
	if err != nil {
		j.closed = true
		return 0, fmt.Errorf("failed to reopen compacted journal: %w", err)
	}
	dropped := upTo - j.base
	j.f, j.w = f, bufio.NewWriter(f)
	j.base, j.size = upTo, size
	log.Infof("compacted %s: dropped %d records, %d left", j.path, dropped, j.seq-upTo)
	return dropped, nil
}

// copyTail writes a journal with base upTo and the records of path after
// upTo to dst, and syncs it. It returns the size written.
func copyTail(path string, dst *os.File, upTo uint64) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open journal: %w", err)
	}
	defer src.Close()

	r := bufio.NewReader(src)
	h, err := readHeader(r)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(dst)
	if err := writeHeader(w, upTo); err != nil {
		return 0, err
	}
	size := fileHeader{version: Version}.size()
	for seq := h.base; ; {
		rec, err := readRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("record %d: %w", seq+1, err)
		}
		if seq++; seq <= upTo {
			continue
		}
		if _, err := w.Write(rec.frame()); err != nil {
			return 0, err
		}
		size += rec.size()
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}
	return size, dst.Sync()
}

// Close flushes, syncs and closes the file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	err := j.syncLocked()
	if cerr := j.f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close journal: %w", cerr)
	}
	return err
}

// --------------------------------------------------------------------------
// Reading without a writer
// --------------------------------------------------------------------------

// ReplayFile replays a journal file read-only, without opening it for
// appending.
func ReplayFile(ctx context.Context, path string, strict bool, fn func(seq uint64, n notice.Notice) error) error {
	return replayFile(ctx, path, strict, 0, fn)
}

// replayFile stops after record last, 0 means all. Sequence numbers start
// after the base of the file.
func replayFile(ctx context.Context, path string, strict bool, last uint64, fn func(seq uint64, n notice.Notice) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	h, err := readHeader(r)
	if err != nil {
		return err
	}
	seq := h.base
	for last == 0 || seq < last {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := readRecord(r)
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, ErrTruncated) {
			if strict {
				return fmt.Errorf("after record %d: %w", seq, err)
			}
			log.Warningf("%s ends with a torn record after %d records", path, seq)
			return nil
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", seq+1, err)
		}
		seq++
		payload, err := rec.payload()
		if err != nil {
			return fmt.Errorf("record %d: %w", seq, err)
		}
		n, err := notice.Unmarshal(payload)
		if err != nil {
			return fmt.Errorf("%w: record %d: %w", ErrCorrupt, seq, err)
		}
		if err := fn(seq, n); err != nil {
			return err
		}
	}
	return nil
}

// Summary describes the contents of a journal file.
type Summary struct {
	Base       uint64
	Records    uint64
	Bytes      int64
	Compressed uint64
	Kinds      map[notice.Kind]uint64
	Torn       bool
}

// Stat scans a journal file without decoding notices beyond their kind.
func Stat(ctx context.Context, path string) (Summary, error) {
	s := Summary{Kinds: make(map[notice.Kind]uint64)}
	f, err := os.Open(path)
	if err != nil {
		return s, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	h, err := readHeader(r)
	if err != nil {
		return s, err
	}
	s.Base = h.base
	s.Bytes = h.size()
	for {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		rec, err := readRecord(r)
		if err == io.EOF {
			return s, nil
		}
		if errors.Is(err, ErrTruncated) {
			s.Torn = true
			return s, nil
		}
		if err != nil {
			return s, fmt.Errorf("record %d: %w", s.Records+1, err)
		}
		s.Records++
		s.Bytes += rec.size()
		if rec.codec != util.CodecNone {
			s.Compressed++
		}
		payload, err := rec.payload()
		if err != nil {
			return s, err
		}
		n, err := notice.Unmarshal(payload)
		if err != nil {
			return s, fmt.Errorf("%w: record %d: %w", ErrCorrupt, s.Records, err)
		}
		s.Kinds[n.Kind()]++
	}
}
