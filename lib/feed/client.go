package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrRejected matches responses for notices the server will never accept.
	ErrRejected = errors.New("notice rejected")
	// ErrUnavailable matches responses of a server that is shutting down.
	ErrUnavailable = errors.New("feed unavailable")
	// ErrClosed is returned by Push after Close.
	ErrClosed = errors.New("feed client closed")
)

type result struct {
	err error
}

// link is one established connection with its response reader.
type link struct {
	conn    net.Conn
	pending *xsync.MapOf[uint64, chan result]
	writeMu sync.Mutex
	done    chan struct{}
	err     error // set before done is closed
}

// Client pushes notices to a Server. Concurrent Push calls share one
// connection, which is re-established after transport errors.
//
// Thread-safety: all methods are safe for concurrent use.
type Client struct {
	cfg       Config
	connector connector

	mu     sync.Mutex
	link   *link
	closed bool

	nextID atomic.Uint64
}

// Dial connects to the server described by cfg.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	conn, err := connectorFor(cfg.Transport)
	if err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, connector: conn}
	if _, err := c.current(ctx); err != nil {
		return nil, err
	}
	log.Infof("connected to %s feed on %s", conn.Name(), cfg.Endpoint)
	return c, nil
}

// Push sends n and waits for the server's answer. Transport errors are
// retried with backoff, a rejection by the server is returned at once and
// matches ErrRejected or ErrUnavailable.
func (c *Client) Push(ctx context.Context, n notice.Notice) error {
	data, err := notice.Marshal(n)
	if err != nil {
		return err
	}

	var lastErr error
	backoff := 50 * time.Millisecond
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		l, err := c.current(ctx)
		if err == nil {
			err = c.send(ctx, l, data)
		}

		var remote *RemoteError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &remote), errors.Is(err, ErrClosed), ctx.Err() != nil:
			return err
		}

		lastErr = err
		log.Debugf("push attempt %d/%d of %s failed: %v", attempt, c.cfg.Retries, n.Name(), err)
		if attempt == c.cfg.Retries {
			break
		}

		// exponential backoff with +-10% jitter
		jitter := time.Duration(float64(backoff) * (0.9 + 0.2*rand.Float64()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter):
		}
		backoff *= 2
	}
	return fmt.Errorf("failed to push %s after %d attempts: %w", n.Name(), c.cfg.Retries, lastErr)
}

// Close closes the connection. Pending pushes fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.link != nil {
		return c.link.conn.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// current returns the live link, dialing a new one if the last one broke.
func (c *Client) current(ctx context.Context) (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.link != nil {
		select {
		case <-c.link.done:
		default:
			return c.link, nil
		}
	}

	conn, err := c.connector.Dial(ctx, c.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.cfg.Endpoint, err)
	}
	if err := c.connector.Upgrade(conn, c.cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", c.cfg.Endpoint, err)
	}

	l := &link{
		conn:    conn,
		pending: xsync.NewMapOf[uint64, chan result](),
		done:    make(chan struct{}),
	}
	c.link = l
	go c.readResponses(l)
	return l, nil
}

func (c *Client) send(ctx context.Context, l *link, data []byte) error {
	id := c.nextID.Add(1)
	ch := make(chan result, 1)
	l.pending.Store(id, ch)
	defer l.pending.Delete(id)

	l.writeMu.Lock()
	if c.cfg.Timeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout))
	}
	err := writeFrame(l.conn, id, data)
	l.writeMu.Unlock()
	if err != nil {
		l.conn.Close()
		return err
	}

	var timeout <-chan time.Time
	if c.cfg.Timeout > 0 {
		t := time.NewTimer(c.cfg.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case r := <-ch:
		return r.err
	case <-l.done:
		return l.err
	case <-timeout:
		return fmt.Errorf("push %d timed out after %s", id, c.cfg.Timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readResponses delivers response frames to the waiting pushes until the
// connection fails.
func (c *Client) readResponses(l *link) {
	for {
		id, data, err := readFrame(l.conn, nil)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				l.err = ErrClosed
			} else {
				l.err = fmt.Errorf("connection to %s lost: %w", c.cfg.Endpoint, err)
				log.Warningf("%v", l.err)
			}
			l.conn.Close()
			close(l.done)
			return
		}

		ch, ok := l.pending.Load(id)
		if !ok {
			log.Warningf("received response for unknown request id %d", id)
			continue
		}
		ch <- result{err: decodeResponse(data)}
	}
}
