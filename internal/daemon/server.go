// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package daemon implements the FGP postgres daemon: the Unix-socket
// dispatcher that accepts concurrent client requests, routes them to
// method handlers over pooled backend sessions, and the lifecycle
// controller that owns socket claim, warm-up, and graceful shutdown.
package daemon

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"fgp/postgres/internal/dsn"
	"fgp/postgres/internal/errors"
	"fgp/postgres/internal/logging"
	"fgp/postgres/internal/pool"
	"fgp/postgres/internal/protocol"
	"fgp/postgres/internal/sqlexec"
)

const (
	// DefaultDrainTimeout bounds how long Stop waits for in-flight
	// requests before tearing the pool down anyway.
	DefaultDrainTimeout = 10 * time.Second

	// defaultWarmConns is how many sessions Start pre-establishes.
	defaultWarmConns = 1
)

// Config configures the daemon.
type Config struct {
	SocketPath     string
	DSN            string // resolved connection string
	MaxConns       int
	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration // 0 means requests are unbounded
	DrainTimeout   time.Duration
	WarmConns      int
	Logger         *zap.Logger

	// Dial overrides the backend dialer. Tests use it; the default
	// connects with pgx against Config.DSN.
	Dial pool.DialFunc
}

// Server listens on a Unix domain socket and dispatches FGP requests.
type Server struct {
	cfg     Config
	log     *zap.Logger
	pool    *pool.Pool
	info    *dsn.Info
	methods map[string]*method

	listener  net.Listener
	startedAt time.Time
	requests  atomic.Int64

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	inflight sync.WaitGroup // request handlers
	connWG   sync.WaitGroup // client connections

	done     chan struct{} // closed when shutdown begins
	stopped  chan struct{} // closed when shutdown finishes
	stopOnce sync.Once
}

// New creates a server. The socket is not opened and no backend
// session is dialed until Start.
func New(cfg Config) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, errors.New(errors.SocketError, "socket path must not be empty")
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.WarmConns <= 0 {
		cfg.WarmConns = defaultWarmConns
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	dial := cfg.Dial
	if dial == nil {
		if cfg.DSN == "" {
			return nil, errors.New(errors.ConfigError, "no connection target configured")
		}
		target := cfg.DSN
		dial = func(ctx context.Context) (pool.Session, error) {
			return pgx.Connect(ctx, target)
		}
	}

	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		conns:   make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	if cfg.DSN != "" {
		// Best effort; the DSN arrives normalized from the resolver.
		s.info, _ = dsn.Parse(cfg.DSN)
	}

	s.pool = pool.New(pool.Config{
		MaxConns:       cfg.MaxConns,
		AcquireTimeout: cfg.AcquireTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		Dial:           dial,
		Logger:         cfg.Logger,
	})

	s.registerMethods()
	return s, nil
}

// Start claims the socket, warms the pool, and begins accepting
// connections. A live daemon on the same path fails the start with
// ErrAlreadyRunning in the error chain; a stale socket file is
// replaced.
func (s *Server) Start() error {
	listener, err := claimSocket(s.cfg.SocketPath, s.log)
	if err != nil {
		return err
	}

	s.listener = listener
	s.startedAt = time.Now()

	if err := writePID(s.cfg.SocketPath); err != nil {
		s.log.Warn("failed to write PID file", zap.Error(err))
	}

	// Warm-up failure is not fatal: the backend may come up later and
	// the pool dials lazily on demand.
	warmCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.pool.Warm(warmCtx, s.cfg.WarmConns)
	cancel()

	s.log.Info("daemon listening", zap.String("socket", s.cfg.SocketPath))
	if s.cfg.DSN != "" {
		s.log.Info("backend target", zap.String("dsn", logging.Mask(s.cfg.DSN)))
	}

	go s.accept()
	return nil
}

// Done is closed when the server has begun shutting down.
func (s *Server) Done() <-chan struct{} { return s.done }

// Wait blocks until shutdown has finished.
func (s *Server) Wait() { <-s.stopped }

// Stop shuts the daemon down gracefully: the listener closes so no new
// clients are accepted, in-flight requests get DrainTimeout to finish,
// then client connections and the pool are torn down and the socket and
// PID files removed.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)

		if s.listener != nil {
			s.listener.Close()
		}

		drained := make(chan struct{})
		go func() {
			s.inflight.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(s.cfg.DrainTimeout):
			s.log.Warn("drain timeout exceeded, aborting in-flight requests")
		}

		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.connWG.Wait()

		closeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
		if err := s.pool.Close(closeCtx); err != nil {
			s.log.Warn("pool close", zap.Error(err))
		}
		cancel()

		removeRuntimeFiles(s.cfg.SocketPath)
		s.log.Info("daemon stopped")
		close(s.stopped)
	})

	<-s.stopped
	return nil
}

// accept runs the listener loop until shutdown.
func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.log.Error("accept failed", zap.Error(err))
				continue
			}
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.connWG.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn serves one client connection: a read loop decodes one
// envelope per line and hands each request to its own goroutine, so a
// slow query does not block later requests on the same connection.
// Responses may therefore arrive out of order; clients correlate by id.
// A malformed envelope produces a protocol error response and the
// connection stays open.
func (s *Server) handleConn(conn net.Conn) {
	defer s.connWG.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	var wmu sync.Mutex // serializes response writes
	var reqWG sync.WaitGroup
	defer reqWG.Wait()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				s.log.Debug("client read", zap.Error(err))
			}
			return
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		req, derr := protocol.DecodeRequest(line)
		if derr != nil {
			s.write(conn, &wmu, protocol.Fail(req.ID, derr))
			continue
		}

		s.requests.Add(1)
		s.inflight.Add(1)
		reqWG.Add(1)
		go func(req *protocol.Request) {
			defer reqWG.Done()
			defer s.inflight.Done()
			s.write(conn, &wmu, s.serveRequest(req))
		}(req)
	}
}

// serveRequest dispatches one request to its handler and shapes the
// response. Per-request failures never escape as anything but an
// ok:false envelope.
func (s *Server) serveRequest(req *protocol.Request) *protocol.Response {
	m, ok := s.methods[req.Method]
	if !ok {
		return protocol.Fail(req.ID, errors.Newf(errors.MethodNotFound, "unknown method: %s", req.Method))
	}

	// The handler context is deliberately not tied to the client
	// connection: a disconnect mid-request lets the backend operation
	// finish so the session is not left in an indeterminate state.
	ctx := context.Background()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	var result any
	var err error
	if m.session {
		var leased *pool.Conn
		leased, err = s.pool.Acquire(ctx)
		if err == nil {
			result, err = s.invoke(ctx, m, leased, req.Params)
		}
	} else {
		result, err = m.handler(ctx, nil, req.Params)
	}

	if err != nil {
		s.log.Debug("request failed",
			zap.String("method", req.Method),
			zap.String("code", string(errors.KindOf(err))),
			zap.Error(err))
		return protocol.Fail(req.ID, err)
	}
	return protocol.OK(req.ID, result)
}

// invoke runs a session-bound handler with the release-exactly-once
// guarantee: whatever exit path the handler takes, including a panic,
// the leased session goes back to the pool exactly once, and a session
// suspected unhealthy is discarded instead of pooled.
func (s *Server) invoke(ctx context.Context, m *method, leased *pool.Conn, params []byte) (result any, err error) {
	healthy := true
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic", zap.String("method", m.name), zap.Any("panic", r))
			err = errors.Newf(errors.Internal, "internal fault in %s", m.name)
			healthy = false
		}
		if leased.Session().IsClosed() {
			healthy = false
		}
		s.pool.Release(leased, healthy)
	}()

	result, err = m.handler(ctx, leased.Session(), params)
	if err != nil && sqlexec.Fatal(err) {
		healthy = false
	}
	return result, err
}

// write sends one response line; writes from concurrent request
// goroutines are serialized per connection.
func (s *Server) write(conn net.Conn, wmu *sync.Mutex, resp *protocol.Response) {
	data, err := protocol.Encode(resp)
	if err != nil {
		// The result failed to marshal; fall back to a plain error
		// envelope so the client at least gets an answer.
		s.log.Error("response encode failed", zap.Error(err))
		data, _ = protocol.Encode(protocol.Fail(resp.ID, errors.New(errors.Internal, "failed to encode response")))
	}

	wmu.Lock()
	defer wmu.Unlock()
	if _, err := conn.Write(data); err != nil {
		s.log.Debug("response write failed", zap.Error(err))
	}
}
