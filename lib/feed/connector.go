package feed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"
)

// Config holds the settings shared by Server and Client.
type Config struct {
	Transport string        // "tcp" or "unix"
	Endpoint  string        // host:port or socket path
	Timeout   time.Duration // per frame read/write deadline, 0 disables

	// server only
	WorkersPerConn int  // concurrent notices per connection, default 4
	BufferSize     int  // read buffer per frame, default 64 KB
	TCPNoDelay     bool // disable Nagle's algorithm

	// client only
	Retries int // attempts per Push on transport errors, default 3
}

// DefaultConfig returns a tcp config for endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Transport:      "tcp",
		Endpoint:       endpoint,
		Timeout:        10 * time.Second,
		WorkersPerConn: 4,
		BufferSize:     64 * 1024,
		TCPNoDelay:     true,
		Retries:        3,
	}
}

func (c Config) withDefaults() Config {
	if c.Transport == "" {
		c.Transport = "tcp"
	}
	if c.WorkersPerConn < 1 {
		c.WorkersPerConn = 4
	}
	if c.BufferSize < headerSize {
		c.BufferSize = 64 * 1024
	}
	if c.Retries < 1 {
		c.Retries = 3
	}
	return c
}

// --------------------------------------------------------------------------
// Connectors
// --------------------------------------------------------------------------

// connector hides the transport specific parts of listening and dialing.
type connector interface {
	Name() string
	Listen(endpoint string) (net.Listener, error)
	Dial(ctx context.Context, endpoint string) (net.Conn, error)
	// Upgrade applies socket options to an established connection.
	Upgrade(conn net.Conn, cfg Config) error
}

func connectorFor(transport string) (connector, error) {
	switch transport {
	case "tcp":
		return tcpConnector{}, nil
	case "unix":
		return unixConnector{}, nil
	default:
		return nil, fmt.Errorf("unknown feed transport %q (expected tcp or unix)", transport)
	}
}

type tcpConnector struct{}

func (tcpConnector) Name() string { return "tcp" }

func (tcpConnector) Listen(endpoint string) (net.Listener, error) {
	l, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create tcp socket: %w", err)
	}
	return l, nil
}

func (tcpConnector) Dial(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", endpoint)
}

func (tcpConnector) Upgrade(conn net.Conn, cfg Config) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	return tcpConn.SetNoDelay(cfg.TCPNoDelay)
}

type unixConnector struct{}

func (unixConnector) Name() string { return "unix" }

func (unixConnector) Listen(endpoint string) (net.Listener, error) {
	if err := os.Remove(endpoint); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}
	l, err := net.Listen("unix", endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create unix socket: %w", err)
	}
	return l, nil
}

func (unixConnector) Dial(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", endpoint)
}

func (unixConnector) Upgrade(net.Conn, Config) error { return nil }
