// Package server accepts client connections and runs the per-request
// forwarding state machine against the cache and the origin connector.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skaris/proxyd/pkg/access"
	"github.com/skaris/proxyd/pkg/cache"
	"github.com/skaris/proxyd/pkg/upstream"
)

var (
	ErrServerClosed  = errors.New("server closed")
	errMissingCache  = errors.New("missing cache")
	errMissingDialer = errors.New("missing origin connector")
)

var nopLogger = zap.NewNop()

type Opts struct {
	// Logger optionally specifies a logger for the server logging.
	// A nil Logger will disable the logging.
	Logger *zap.Logger

	// Cache is the shared response cache. Required.
	Cache *cache.Cache

	// Connector dials origins on cache misses. Required.
	Connector *upstream.Connector

	// Blocklist optionally rejects requests for listed hosts.
	Blocklist *access.Blocklist

	// ReadTimeout limits how long a client may take to deliver its
	// request head. Default is 30s.
	ReadTimeout time.Duration
}

func (opts *Opts) init() {
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = time.Second * 30
	}
}

type Server struct {
	opts Opts

	m             sync.Mutex
	closed        bool
	closerTracker map[io.Closer]struct{}
	wg            sync.WaitGroup
}

func NewServer(opts Opts) (*Server, error) {
	if opts.Cache == nil {
		return nil, errMissingCache
	}
	if opts.Connector == nil {
		return nil, errMissingDialer
	}
	opts.init()
	return &Server{
		opts: opts,
	}, nil
}

// Closed returns true if server was closed.
func (s *Server) Closed() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.closed
}

// trackCloser adds or removes c to the Server and return true if Server is not closed.
func (s *Server) trackCloser(c io.Closer, add bool) bool {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closerTracker == nil {
		s.closerTracker = make(map[io.Closer]struct{})
	}

	if add {
		if s.closed {
			return false
		}
		s.closerTracker[c] = struct{}{}
	} else {
		delete(s.closerTracker, c)
	}
	return true
}

// Close closes the Server and all its inner listeners and connections,
// then waits for the connection goroutines to drain.
func (s *Server) Close() {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return
	}

	s.closed = true

	// Copy the closers out so none of their Close methods runs under
	// the server lock.
	closers := make([]io.Closer, 0, len(s.closerTracker))
	for c := range s.closerTracker {
		closers = append(closers, c)
	}
	s.closerTracker = nil
	s.m.Unlock()

	for _, c := range closers {
		_ = c.Close()
	}

	s.wg.Wait()
}

// ServeTCP accepts connections from l until the server is closed, one
// goroutine per connection.
func (s *Server) ServeTCP(l net.Listener) error {
	defer l.Close()

	if ok := s.trackCloser(l, true); !ok {
		return ErrServerClosed
	}
	defer s.trackCloser(l, false)

	for {
		c, err := l.Accept()
		if err != nil {
			if s.Closed() {
				return ErrServerClosed
			}
			if err, ok := err.(net.Error); ok && err.Temporary() {
				continue
			}
			return fmt.Errorf("unexpected listener err: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(c)
		}()
	}
}
