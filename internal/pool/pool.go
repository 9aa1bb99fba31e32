// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package pool implements the daemon's bounded backend connection pool.
// A pool owns a small set of live PostgreSQL sessions, leases each one
// to exactly one in-flight request at a time, and enforces the capacity
// and no-double-lease invariants the dispatcher relies on.
//
// Lease capacity is a slot semaphore: a slot is held for the whole
// lease. The idle set and the live-session count live behind one mutex,
// and a new session is only dialed while holding a slot with the idle
// set observed empty under that mutex, so the number of live sessions
// can never exceed the configured maximum.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fgp/postgres/internal/errors"
)

// Session is the backend connection the pool manages. *pgx.Conn
// satisfies it; tests substitute fakes.
type Session interface {
	Close(ctx context.Context) error
	IsClosed() bool
}

// DialFunc opens a new backend session.
type DialFunc func(ctx context.Context) (Session, error)

const (
	// DefaultMaxConns bounds the pool when no size is configured.
	DefaultMaxConns = 4

	// DefaultAcquireTimeout bounds Acquire when the caller's context
	// carries no deadline of its own.
	DefaultAcquireTimeout = 5 * time.Second

	// DefaultIdleTimeout is the reap threshold for idle sessions. The
	// backend may silently close sessions that sit idle longer; reaping
	// them first avoids handing a dead session to a request.
	DefaultIdleTimeout = 5 * time.Minute

	// DefaultMaxLifetime retires a session after an hour regardless of
	// use, so server-side state (prepared statements, GUCs, planner
	// cache) cannot accumulate without bound on a busy pool.
	DefaultMaxLifetime = time.Hour

	// closeGrace bounds how long a discarded session may take to close.
	closeGrace = 5 * time.Second
)

// Config configures a Pool.
type Config struct {
	MaxConns       int
	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	Dial           DialFunc
	Logger         *zap.Logger
}

// Conn is a leased backend session. A Conn belongs to exactly one
// request between Acquire and Release.
type Conn struct {
	sess      Session
	createdAt time.Time
	lastUsed  time.Time
	released  atomic.Bool
}

// Session returns the underlying backend session.
func (c *Conn) Session() Session { return c.sess }

// Pool is a bounded collection of backend sessions.
type Pool struct {
	dial           DialFunc
	maxConns       int
	acquireTimeout time.Duration
	idleTimeout    time.Duration
	maxLifetime    time.Duration
	log            *zap.Logger

	slots chan struct{} // lease semaphore; one slot per in-flight lease

	mu   sync.Mutex
	idle []*Conn // released healthy sessions, most recent last
	live int     // sessions open or being dialed

	liveWG sync.WaitGroup // mirrors live for Close
	done   chan struct{}
	closed atomic.Bool
	reapWG sync.WaitGroup
}

// New creates a pool. No sessions are dialed until Acquire or Warm.
func New(cfg Config) *Pool {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = DefaultMaxLifetime
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &Pool{
		dial:           cfg.Dial,
		maxConns:       cfg.MaxConns,
		acquireTimeout: cfg.AcquireTimeout,
		idleTimeout:    cfg.IdleTimeout,
		maxLifetime:    cfg.MaxLifetime,
		log:            cfg.Logger,
		slots:          make(chan struct{}, cfg.MaxConns),
		done:           make(chan struct{}),
	}

	p.reapWG.Add(1)
	go p.reap()

	return p
}

// Acquire leases a session, reusing an idle one when possible and
// dialing a new one while below capacity. It blocks until a session is
// available or the deadline passes, in which case it fails with a
// PoolExhausted error. Dial failures surface as ConnectionError and
// leave the pool usable for later attempts.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if p.closed.Load() {
		return nil, errors.New(errors.ConnectionError, "pool is closed")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Wrap(errors.PoolExhausted, "no connection available", ctx.Err())
	case <-p.done:
		return nil, errors.New(errors.ConnectionError, "pool is closed")
	}

	// Slot held: reuse an idle session or open a new one.
	c, err := p.take(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return c, nil
}

// take pops a usable idle session or dials a new one. The caller must
// hold a slot.
func (p *Pool) take(ctx context.Context) (*Conn, error) {
	for {
		p.mu.Lock()
		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			if p.stale(c) {
				p.live--
				p.mu.Unlock()
				p.close(c.sess, "stale idle session")
				continue
			}
			p.mu.Unlock()
			c.released.Store(false)
			return c, nil
		}

		// Idle set empty while a slot is held: below capacity, open a
		// new session. The reservation keeps live accurate while the
		// dial is in flight.
		p.live++
		p.liveWG.Add(1)
		p.mu.Unlock()

		sess, err := p.dial(ctx)
		if err != nil {
			p.mu.Lock()
			p.live--
			p.mu.Unlock()
			p.liveWG.Done()
			return nil, errors.Wrap(errors.ConnectionError, "failed to open backend connection", err)
		}

		now := time.Now()
		return &Conn{sess: sess, createdAt: now, lastUsed: now}, nil
	}
}

// Release returns a leased session to the pool. Healthy sessions join
// the idle set; unhealthy ones are discarded, and a replacement is
// dialed lazily by a later Acquire rather than eagerly here, so a
// flapping backend does not trigger a reconnect storm. Release is
// idempotent per lease; extra calls are ignored.
func (p *Pool) Release(c *Conn, healthy bool) {
	if c == nil || !c.released.CompareAndSwap(false, true) {
		return
	}

	pooled := false
	if healthy && !c.sess.IsClosed() {
		c.lastUsed = time.Now()
		// The closed check and the idle push must sit under one lock:
		// a Close interleaved between them would drain the idle set
		// without this session and leak it.
		p.mu.Lock()
		if !p.closed.Load() {
			p.idle = append(p.idle, c)
			pooled = true
		}
		p.mu.Unlock()
	}
	if !pooled {
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		p.close(c.sess, "session discarded")
	}

	// The idle push happens before the slot is freed, so a woken
	// acquirer always finds the session it is entitled to.
	<-p.slots
}

// Warm pre-establishes up to n idle sessions so the first request does
// not pay connection-setup latency. Failures are logged and tolerated;
// the backend may simply not be reachable yet.
func (p *Pool) Warm(ctx context.Context, n int) {
	if n > p.maxConns {
		n = p.maxConns
	}

	// Hold all n leases at once; releasing as we go would hand the same
	// session back on every iteration.
	var conns []*Conn
loop:
	for i := 0; i < n; i++ {
		select {
		case p.slots <- struct{}{}:
		default:
			break loop // capacity already in use
		}

		c, err := p.take(ctx)
		if err != nil {
			<-p.slots
			p.log.Warn("pool warm-up failed", zap.Int("established", i), zap.Error(err))
			break loop
		}
		conns = append(conns, c)
	}

	for _, c := range conns {
		p.Release(c, true)
	}

	p.log.Debug("pool warmed", zap.Int("sessions", len(conns)))
}

// Stats reports the number of open and idle sessions.
func (p *Pool) Stats() (open, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live, len(p.idle)
}

// Close shuts the pool down: the reaper stops, idle sessions are
// closed, and leased sessions are waited for until ctx expires. Any
// session released after Close is closed instead of pooled.
func (p *Pool) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.done)
	p.reapWG.Wait()

	p.mu.Lock()
	drained := p.idle
	p.idle = nil
	p.live -= len(drained)
	p.mu.Unlock()

	for _, c := range drained {
		p.close(c.sess, "pool closed")
	}

	waited := make(chan struct{})
	go func() {
		p.liveWG.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ConnectionError, "pool closed with sessions still leased", ctx.Err())
	}
}

// close closes a session and settles its live accounting.
func (p *Pool) close(sess Session, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()

	if err := sess.Close(ctx); err != nil {
		p.log.Debug("session close failed", zap.String("reason", reason), zap.Error(err))
	}
	p.liveWG.Done()
}

// stale reports whether an idle session should not be served again.
// Caller holds p.mu, but only cheap checks happen here.
func (p *Pool) stale(c *Conn) bool {
	if c.sess.IsClosed() {
		return true
	}
	if time.Since(c.createdAt) > p.maxLifetime {
		return true
	}
	return time.Since(c.lastUsed) > p.idleTimeout
}

// reap proactively closes idle sessions past the reap threshold so a
// backend-closed session is not served silently. Replacements are
// dialed lazily by the next Acquire.
func (p *Pool) reap() {
	defer p.reapWG.Done()

	interval := p.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

// reapOnce removes stale sessions from the idle set and closes them.
func (p *Pool) reapOnce() {
	p.mu.Lock()
	var keep, expired []*Conn
	for _, c := range p.idle {
		if p.stale(c) {
			expired = append(expired, c)
		} else {
			keep = append(keep, c)
		}
	}
	p.idle = keep
	p.live -= len(expired)
	p.mu.Unlock()

	for _, c := range expired {
		p.close(c.sess, "idle past reap threshold")
	}
}
