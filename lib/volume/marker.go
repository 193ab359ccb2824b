package volume

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// MasterFile names the lease holder.
	MasterFile = "master.txt"
	// YieldFile is written by a node waiting for the lease.
	YieldFile = "yield.txt"
)

// Marker is the content of MasterFile and YieldFile: one key=value pair
// per line.
type Marker struct {
	Owner   string    // node uuid
	Addr    string    // host/pid
	Token   uint64    // fencing token, 0 in yield markers
	Expires time.Time // lease expiry, zero in yield markers
	Written time.Time
}

// Expired reports whether the lease described by m ended before now.
func (m Marker) Expired(now time.Time) bool {
	return !m.Expires.IsZero() && !now.Before(m.Expires)
}

func (m Marker) String() string {
	return fmt.Sprintf("owner=%s addr=%s token=%d expires=%s", m.Owner, m.Addr, m.Token, m.Expires.Format(time.RFC3339))
}

func (m Marker) encode() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "owner=%s\n", m.Owner)
	fmt.Fprintf(&b, "addr=%s\n", m.Addr)
	fmt.Fprintf(&b, "token=%d\n", m.Token)
	if !m.Expires.IsZero() {
		fmt.Fprintf(&b, "expires=%s\n", m.Expires.UTC().Format(time.RFC3339Nano))
	}
	fmt.Fprintf(&b, "written=%s\n", m.Written.UTC().Format(time.RFC3339Nano))
	return b.Bytes()
}

// parseMarker reads the key=value form. Unknown keys and blank lines are
// skipped, a marker without owner is rejected.
func parseMarker(data []byte) (Marker, error) {
	var m Marker
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Marker{}, fmt.Errorf("malformed marker line %q", line)
		}
		var err error
		switch key {
		case "owner":
			m.Owner = value
		case "addr":
			m.Addr = value
		case "token":
			m.Token, err = strconv.ParseUint(value, 10, 64)
		case "expires":
			m.Expires, err = time.Parse(time.RFC3339Nano, value)
		case "written":
			m.Written, err = time.Parse(time.RFC3339Nano, value)
		}
		if err != nil {
			return Marker{}, fmt.Errorf("marker key %s: %w", key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return Marker{}, err
	}
	if m.Owner == "" {
		return Marker{}, errors.New("marker without owner")
	}
	return m, nil
}

// readMarker returns ok=false if the file does not exist.
func readMarker(path string) (Marker, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Marker{}, false, nil
	}
	if err != nil {
		return Marker{}, false, err
	}
	m, err := parseMarker(data)
	if err != nil {
		return Marker{}, false, fmt.Errorf("%s: %w", path, err)
	}
	return m, true, nil
}

// writeMarker replaces path atomically: temp file, fsync, rename.
func writeMarker(path string, m Marker) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op after a successful rename

	if _, err := f.Write(m.encode()); err != nil {
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
	return os.Rename(tmp, path)
}

// removeIfOwned deletes path when it holds a marker of owner.
func removeIfOwned(path, owner string) error {
	m, ok, err := readMarker(path)
	if err != nil || !ok || m.Owner != owner {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ReadMaster returns the current lease holder of dir.
func ReadMaster(dir string) (Marker, bool, error) {
	return readMarker(filepath.Join(dir, MasterFile))
}
