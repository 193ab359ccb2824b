package feed

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/infinity/lib/mux"
	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/ValentinKolb/infinity/lib/store"
	"github.com/ValentinKolb/infinity/lib/volume"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("feed")

// Handler accepts decoded notices. *infinity.Infinity implements it.
type Handler interface {
	See(n notice.Notice) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(n notice.Notice) error

func (f HandlerFunc) See(n notice.Notice) error { return f(n) }

// Server reads notice frames from its connections and hands them to a
// Handler. Every request frame is answered with one response frame carrying
// the same request id.
type Server struct {
	cfg       Config
	connector connector
	handler   Handler

	listener   net.Listener
	bufferPool sync.Pool

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
	closed atomic.Bool

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// NewServer validates cfg. Call Start to listen.
func NewServer(cfg Config, h Handler) (*Server, error) {
	cfg = cfg.withDefaults()
	c, err := connectorFor(cfg.Transport)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:       cfg,
		connector: c,
		handler:   h,
		conns:     make(map[net.Conn]struct{}),
	}
	s.bufferPool.New = func() any { return make([]byte, cfg.BufferSize) }
	return s, nil
}

// Start binds the endpoint and accepts connections in the background.
func (s *Server) Start() error {
	l, err := s.connector.Listen(s.cfg.Endpoint)
	if err != nil {
		return err
	}
	s.listener = l
	log.Infof("starting %s feed on %s with %d workers per connection",
		s.connector.Name(), l.Addr(), s.cfg.WorkersPerConn)

	s.wg.Add(1)
	go s.accept()
	return nil
}

// Addr returns the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Counts returns the number of accepted and rejected notices.
func (s *Server) Counts() (accepted, rejected uint64) {
	return s.accepted.Load(), s.rejected.Load()
}

// Close stops accepting, closes all connections and waits for the
// handlers in flight.
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	log.Infof("feed on %s closed", s.cfg.Endpoint)
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return
			}
			log.Errorf("accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err := s.connector.Upgrade(conn, s.cfg); err != nil {
			log.Warningf("failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConnection(conn)
	}
}

// handleConnection serves one connection. Up to WorkersPerConn notices of
// the connection are handled at the same time, responses may leave in a
// different order than the requests came in.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	sem := make(chan struct{}, s.cfg.WorkersPerConn)
	var workers sync.WaitGroup
	var writeMu sync.Mutex

	respond := func(requestID uint64, data []byte) {
		resp := s.handle(data)

		writeMu.Lock()
		defer writeMu.Unlock()
		if s.cfg.Timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
				log.Errorf("failed to set write deadline: %v", err)
				return
			}
		}
		if err := writeFrame(conn, requestID, resp); err != nil {
			log.Errorf("failed to write response %d: %v", requestID, err)
		}
	}

read:
	for {
		if s.cfg.Timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
				log.Errorf("failed to set read deadline: %v", err)
				break read
			}
		}
		buf := s.bufferPool.Get().([]byte)
		requestID, data, err := readFrame(conn, buf)
		if err != nil {
			s.bufferPool.Put(buf)
			var ne net.Error
			switch {
			case errors.Is(err, io.EOF):
				log.Debugf("connection from %s closed by client", conn.RemoteAddr())
			case errors.As(err, &ne) && ne.Timeout():
				log.Debugf("closing idle connection from %s", conn.RemoteAddr())
			case !s.closed.Load():
				log.Errorf("error reading from %s: %v", conn.RemoteAddr(), err)
			}
			break read
		}

		sem <- struct{}{}
		workers.Add(1)
		go func() {
			defer func() {
				s.bufferPool.Put(buf)
				<-sem
				workers.Done()
			}()
			respond(requestID, data)
		}()
	}
	workers.Wait()
}

// handle decodes one notice and passes it on.
func (s *Server) handle(data []byte) []byte {
	n, err := notice.Unmarshal(data)
	if err == nil {
		err = s.handler.See(n)
	}
	if err == nil {
		s.accepted.Add(1)
		return encodeResponse(StatusOK, "")
	}

	s.rejected.Add(1)
	status := classify(err)
	log.Debugf("rejected notice (%s): %v", status, err)
	return encodeResponse(status, err.Error())
}

func classify(err error) Status {
	switch {
	case store.Permanent(err), errors.Is(err, notice.ErrUnknownKind), errors.Is(err, notice.ErrShortData):
		return StatusInvalid
	case errors.Is(err, mux.ErrClosed), errors.Is(err, volume.ErrNotOwner), errors.Is(err, volume.ErrLeaseLost):
		return StatusUnavailable
	default:
		return StatusError
	}
}

// RemoteError is a non-ok response of the server.
type RemoteError struct {
	Status Status
	Msg    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("feed: %s: %s", e.Status, e.Msg)
}

// Is lets errors.Is match ErrRejected and ErrUnavailable.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return e.Status == StatusInvalid
	case ErrUnavailable:
		return e.Status == StatusUnavailable
	}
	return false
}
