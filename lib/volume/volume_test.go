package volume

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/infinity/lib/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

func testOptions(clk clock.Clock) Options {
	o := DefaultOptions()
	o.Watch = false
	o.Addr = "test/1"
	o.Clock = clk
	return o
}

func foreign(token uint64, expires time.Time) Marker {
	return Marker{Owner: "other-node", Addr: "other/2", Token: token, Expires: expires, Written: epoch}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	m := Marker{Owner: "abc", Addr: "host/42", Token: 9, Expires: epoch.Add(15 * time.Second), Written: epoch}
	got, err := parseMarker(m.encode())
	require.NoError(t, err)
	assert.Equal(t, m.Owner, got.Owner)
	assert.Equal(t, m.Addr, got.Addr)
	assert.Equal(t, m.Token, got.Token)
	assert.True(t, m.Expires.Equal(got.Expires))
	assert.True(t, m.Written.Equal(got.Written))

	_, err = parseMarker([]byte("owner=abc\nthis is not a pair\n"))
	assert.Error(t, err)
	_, err = parseMarker([]byte("token=3\n"))
	assert.Error(t, err, "owner is required")
	_, err = parseMarker([]byte("owner=abc\ntoken=minus\n"))
	assert.Error(t, err)

	got, err = parseMarker([]byte("# comment\n\nowner=abc\nfuture=1\n"))
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Owner)
}

func TestMarkerExpired(t *testing.T) {
	m := foreign(1, epoch)
	assert.False(t, m.Expired(epoch.Add(-time.Second)))
	assert.True(t, m.Expired(epoch))
	assert.False(t, Marker{Owner: "x"}.Expired(epoch), "yield markers never expire")
}

func TestObtainEmptyDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vol")
	clk := clock.Fake(epoch)
	v, err := Open(dir, testOptions(clk))
	require.NoError(t, err)

	_, err = v.Fence()
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.False(t, v.IsWritable())

	require.NoError(t, v.Obtain(context.Background()))
	assert.Equal(t, uint64(1), v.Token())
	assert.True(t, v.IsWritable())

	m, ok, err := ReadMaster(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v.ID(), m.Owner)
	assert.Equal(t, "test/1", m.Addr)
	assert.True(t, m.Expires.Equal(epoch.Add(15*time.Second)))

	_, err = os.Stat(filepath.Join(dir, YieldFile))
	assert.True(t, os.IsNotExist(err), "own yield marker is removed")

	token, err := v.Fence()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), token)

	require.NoError(t, v.Close())
	_, ok, err = ReadMaster(dir)
	require.NoError(t, err)
	assert.False(t, ok, "close releases the lease")
	require.NoError(t, v.Close())
}

func TestObtainTakesOverExpiredLease(t *testing.T) {
	dir := t.TempDir()
	clk := clock.Fake(epoch)
	require.NoError(t, writeMarker(filepath.Join(dir, MasterFile), foreign(7, epoch.Add(10*time.Second))))

	v, err := Open(dir, testOptions(clk))
	require.NoError(t, err)
	defer v.Close()

	done := make(chan error, 1)
	go func() { done <- v.Obtain(context.Background()) }()

	require.Eventually(t, func() bool { return clk.Pending() > 0 }, time.Second, time.Millisecond)
	y, ok, err := readMarker(filepath.Join(dir, YieldFile))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v.ID(), y.Owner, "waiting node announces itself")

	clk.Advance(11 * time.Second)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("obtain did not return after the lease expired")
	}
	assert.Equal(t, uint64(8), v.Token(), "fencing token increases")
}

func TestObtainCancelled(t *testing.T) {
	dir := t.TempDir()
	clk := clock.Fake(epoch)
	require.NoError(t, writeMarker(filepath.Join(dir, MasterFile), foreign(3, epoch.Add(time.Hour))))

	v, err := Open(dir, testOptions(clk))
	require.NoError(t, err)
	defer v.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Obtain(ctx) }()

	require.Eventually(t, func() bool { return clk.Pending() > 0 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	_, ok, err := readMarker(filepath.Join(dir, YieldFile))
	require.NoError(t, err)
	assert.False(t, ok)

	m, _, err := ReadMaster(dir)
	require.NoError(t, err)
	assert.Equal(t, "other-node", m.Owner, "foreign lease untouched")
}

func TestObtainKeepsTokensIncreasing(t *testing.T) {
	dir := t.TempDir()
	master := filepath.Join(dir, MasterFile)
	clk := clock.Fake(epoch)
	require.NoError(t, writeMarker(master, foreign(7, epoch.Add(10*time.Second))))

	v, err := Open(dir, testOptions(clk))
	require.NoError(t, err)
	defer v.Close()

	done := make(chan error, 1)
	go func() { done <- v.Obtain(context.Background()) }()
	require.Eventually(t, func() bool { return clk.Pending() > 0 }, time.Second, time.Millisecond)

	// a garbled lease is not taken over, even long after it would expire
	require.NoError(t, os.WriteFile(master, []byte("owner=other-node\ntoken=garbled\n"), 0o644))
	for range 3 {
		clk.Advance(time.Minute)
		require.Eventually(t, func() bool { return clk.Pending() > 0 }, time.Second, time.Millisecond)
	}
	select {
	case err := <-done:
		t.Fatalf("obtained an unreadable lease: %v", err)
	default:
	}

	// removing it lets the node in, above the last token it read
	require.NoError(t, os.Remove(master))
	clk.Advance(time.Minute)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("obtain did not return after the lease was removed")
	}
	assert.Equal(t, uint64(8), v.Token())
}

func TestHeartbeatRenews(t *testing.T) {
	dir := t.TempDir()
	clk := clock.Fake(epoch)
	v, err := Open(dir, testOptions(clk))
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Obtain(context.Background()))
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)

	clk.Advance(5 * time.Second)
	want := epoch.Add(20 * time.Second)
	require.Eventually(t, func() bool {
		m, ok, err := ReadMaster(dir)
		return err == nil && ok && m.Expires.Equal(want)
	}, time.Second, time.Millisecond)
	assert.True(t, v.IsWritable())
}

func TestLeaseLostToHigherToken(t *testing.T) {
	dir := t.TempDir()
	clk := clock.Fake(epoch)
	v, err := Open(dir, testOptions(clk))
	require.NoError(t, err)

	require.NoError(t, v.Obtain(context.Background()))
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, writeMarker(filepath.Join(dir, MasterFile), foreign(99, epoch.Add(time.Hour))))
	clk.Advance(5 * time.Second)

	require.Eventually(t, func() bool { return closed(v.Lost()) }, time.Second, time.Millisecond)
	assert.False(t, v.IsWritable())
	_, err = v.Fence()
	assert.ErrorIs(t, err, ErrLeaseLost)

	require.NoError(t, v.Close())
	m, ok, err := ReadMaster(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(99), m.Token, "close leaves the new holder alone")
}

func TestYieldMakesReadOnly(t *testing.T) {
	dir := t.TempDir()
	clk := clock.Fake(epoch)
	v, err := Open(dir, testOptions(clk))
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Obtain(context.Background()))
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)
	assert.False(t, closed(v.Yield()))

	require.NoError(t, writeMarker(filepath.Join(dir, YieldFile), Marker{Owner: "other-node", Addr: "other/2", Written: epoch}))
	assert.False(t, v.IsWritable())
	_, err = v.Fence()
	assert.ErrorIs(t, err, ErrNotOwner)

	clk.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return closed(v.Yield()) }, time.Second, time.Millisecond)
	assert.False(t, closed(v.Lost()), "yielding is not losing")
}

func TestWatcherSeesYield(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(clock.Real())
	opts.Watch = true
	opts.TTL = time.Hour
	v, err := Open(dir, opts)
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Obtain(context.Background()))
	require.NoError(t, writeMarker(filepath.Join(dir, YieldFile), Marker{Owner: "other-node", Addr: "other/2", Written: epoch}))

	require.Eventually(t, func() bool { return closed(v.Yield()) }, 2*time.Second, 5*time.Millisecond)
}
