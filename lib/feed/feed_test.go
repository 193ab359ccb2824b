package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/infinity/lib/mux"
	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (r *recorder) See(n notice.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.seen = append(r.seen, n.Name())
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func variants() []notice.Notice {
	b := notice.Bout{
		Number: 42,
		Title:  "standup",
		Participants: []notice.Participant{
			{Identity: "urn:user:alice", Leader: true, Confirmed: true},
			{Identity: "urn:user:bob", Confirmed: true},
		},
	}
	m := notice.Message{Number: 10, Author: "urn:user:alice", Text: "hello", Date: time.UnixMilli(1_700_000_000_000)}
	return []notice.Notice{
		&notice.MessagePosted{Message: m, Bout: b},
		&notice.MessageSeen{Message: m, Identity: "urn:user:bob"},
		&notice.AliasAdded{Identity: "urn:user:alice", Alias: "ali"},
		&notice.BoutRenamed{Bout: b},
		&notice.KickOff{Bout: b, Identity: "urn:user:bob"},
		&notice.Join{Bout: b, Identity: "urn:user:carol"},
	}
}

func startServer(t *testing.T, cfg Config, h Handler) *Server {
	t.Helper()
	srv, err := NewServer(cfg, h)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestFrameRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	payload := bytes.Repeat([]byte("x"), 1000)
	go func() {
		_ = writeFrame(a, 77, payload)
		_ = writeFrame(a, 78, nil)
	}()

	id, data, err := readFrame(b, make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, uint64(77), id)
	assert.Equal(t, payload, data)

	id, data, err = readFrame(b, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(78), id)
	assert.Empty(t, data)
}

func TestFrameTooLarge(t *testing.T) {
	header := []byte{0, 0, 0, 0, 0, 0, 0, 1, 0xff, 0xff, 0xff, 0xff}
	_, _, err := readFrame(bytes.NewReader(header), nil)
	assert.Error(t, err)
}

func TestResponseDecoding(t *testing.T) {
	assert.NoError(t, decodeResponse(encodeResponse(StatusOK, "")))

	err := decodeResponse(encodeResponse(StatusInvalid, "bad notice"))
	assert.ErrorIs(t, err, ErrRejected)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "bad notice")

	assert.ErrorIs(t, decodeResponse(encodeResponse(StatusUnavailable, "closing")), ErrUnavailable)
	assert.Error(t, decodeResponse(nil))
}

func TestPushAllVariantsTCP(t *testing.T) {
	rec := &recorder{}
	srv := startServer(t, DefaultConfig("127.0.0.1:0"), rec)

	ctx := context.Background()
	c, err := Dial(ctx, DefaultConfig(srv.Addr().String()))
	require.NoError(t, err)
	defer c.Close()

	var want []string
	for _, n := range variants() {
		require.NoError(t, c.Push(ctx, n))
		want = append(want, n.Name())
	}
	assert.Equal(t, want, rec.names())

	accepted, rejected := srv.Counts()
	assert.Equal(t, uint64(len(want)), accepted)
	assert.Zero(t, rejected)
}

func TestConcurrentPushes(t *testing.T) {
	rec := &recorder{}
	srv := startServer(t, DefaultConfig("127.0.0.1:0"), rec)

	ctx := context.Background()
	c, err := Dial(ctx, DefaultConfig(srv.Addr().String()))
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- c.Push(ctx, &notice.AliasAdded{Identity: "urn:user:alice", Alias: fmt.Sprintf("a%d", i)})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, rec.names(), 50)
}

func TestPushRejections(t *testing.T) {
	rec := &recorder{}
	srv := startServer(t, DefaultConfig("127.0.0.1:0"), rec)

	ctx := context.Background()
	c, err := Dial(ctx, DefaultConfig(srv.Addr().String()))
	require.NoError(t, err)
	defer c.Close()

	rec.mu.Lock()
	rec.err = fmt.Errorf("see: %w", notice.ErrInvalid)
	rec.mu.Unlock()
	err = c.Push(ctx, variants()[2])
	assert.ErrorIs(t, err, ErrRejected)

	rec.mu.Lock()
	rec.err = fmt.Errorf("see: %w", mux.ErrClosed)
	rec.mu.Unlock()
	err = c.Push(ctx, variants()[2])
	assert.ErrorIs(t, err, ErrUnavailable)

	rec.mu.Lock()
	rec.err = errors.New("disk full")
	rec.mu.Unlock()
	err = c.Push(ctx, variants()[2])
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, StatusError, remote.Status)

	_, rejected := srv.Counts()
	assert.Equal(t, uint64(3), rejected)
}

func TestServerRejectsGarbage(t *testing.T) {
	srv := startServer(t, DefaultConfig("127.0.0.1:0"), &recorder{})

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, writeFrame(conn, 5, []byte{0, 3, 'b', 'a', 'd'}))
	id, data, err := readFrame(conn, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), id)
	assert.ErrorIs(t, decodeResponse(data), ErrRejected)
}

func TestUnixReconnect(t *testing.T) {
	dir, err := os.MkdirTemp("", "feed")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	socket := filepath.Join(dir, "feed.sock")

	cfg := DefaultConfig(socket)
	cfg.Transport = "unix"

	rec := &recorder{}
	first, err := NewServer(cfg, rec)
	require.NoError(t, err)
	require.NoError(t, first.Start())

	ctx := context.Background()
	c, err := Dial(ctx, cfg)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Push(ctx, variants()[0]))

	require.NoError(t, first.Close())
	startServer(t, cfg, rec)

	require.NoError(t, c.Push(ctx, variants()[1]), "client redials after the server restarted")
	assert.Len(t, rec.names(), 2)
}

func TestPushAfterClose(t *testing.T) {
	srv := startServer(t, DefaultConfig("127.0.0.1:0"), &recorder{})
	c, err := Dial(context.Background(), DefaultConfig(srv.Addr().String()))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Push(context.Background(), variants()[2]), ErrClosed)
}

func TestUnknownTransport(t *testing.T) {
	_, err := NewServer(Config{Transport: "udp", Endpoint: ":0"}, &recorder{})
	assert.Error(t, err)
}
