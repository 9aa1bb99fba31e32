// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package pool

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fgp/postgres/internal/errors"
)

type fakeSession struct {
	closed atomic.Bool
}

func (f *fakeSession) Close(context.Context) error {
	f.closed.Store(true)
	return nil
}

func (f *fakeSession) IsClosed() bool { return f.closed.Load() }

// countingDialer tracks how many sessions a test pool has opened.
type countingDialer struct {
	dials    atomic.Int32
	sessions sync.Map // *fakeSession -> struct{}
}

func (d *countingDialer) dial(context.Context) (Session, error) {
	d.dials.Add(1)
	s := &fakeSession{}
	d.sessions.Store(s, struct{}{})
	return s, nil
}

func newTestPool(t *testing.T, cfg Config, d *countingDialer) *Pool {
	t.Helper()
	if cfg.Dial == nil {
		cfg.Dial = d.dial
	}
	p := New(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return p
}

func TestAcquireReusesIdleSession(t *testing.T) {
	d := &countingDialer{}
	p := newTestPool(t, Config{MaxConns: 4}, d)

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	first := c1.Session()
	p.Release(c1, true)

	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Same(t, first, c2.Session())
	require.EqualValues(t, 1, d.dials.Load())
	p.Release(c2, true)
}

func TestCapacityNeverExceeded(t *testing.T) {
	const maxConns = 3
	d := &countingDialer{}
	p := newTestPool(t, Config{MaxConns: maxConns, AcquireTimeout: 5 * time.Second}, d)

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Acquire(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			p.Release(c, true)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int32(maxConns))
	require.LessOrEqual(t, d.dials.Load(), int32(maxConns))

	open, idle := p.Stats()
	require.LessOrEqual(t, open, maxConns)
	require.Equal(t, open, idle)
}

func TestAcquireTimesOutWhenExhausted(t *testing.T) {
	d := &countingDialer{}
	p := newTestPool(t, Config{MaxConns: 1}, d)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(held, true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	require.Equal(t, errors.PoolExhausted, errors.KindOf(err))
}

func TestAcquireFailsImmediatelyWithExpiredContext(t *testing.T) {
	d := &countingDialer{}
	p := newTestPool(t, Config{MaxConns: 1}, d)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(held, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err = p.Acquire(ctx)
	require.Equal(t, errors.PoolExhausted, errors.KindOf(err))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestUnhealthyReleaseDiscardsSession(t *testing.T) {
	d := &countingDialer{}
	p := newTestPool(t, Config{MaxConns: 2}, d)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	bad := c.Session().(*fakeSession)
	p.Release(c, false)

	require.True(t, bad.IsClosed())
	open, idle := p.Stats()
	require.Equal(t, 0, open)
	require.Equal(t, 0, idle)

	// The replacement is dialed lazily by the next Acquire.
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotSame(t, bad, c2.Session())
	require.EqualValues(t, 2, d.dials.Load())
	p.Release(c2, true)
}

func TestDialFailureLeavesPoolUsable(t *testing.T) {
	boom := stderrors.New("connection refused")
	var fail atomic.Bool
	fail.Store(true)
	d := &countingDialer{}

	p := newTestPool(t, Config{
		MaxConns: 1,
		Dial: func(ctx context.Context) (Session, error) {
			if fail.Load() {
				return nil, boom
			}
			return d.dial(ctx)
		},
	}, d)

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	require.Equal(t, errors.ConnectionError, errors.KindOf(err))
	require.ErrorIs(t, err, boom)

	// The failed dial must not leak its slot or its live reservation.
	fail.Store(false)
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c, true)
}

func TestReleaseIsIdempotent(t *testing.T) {
	d := &countingDialer{}
	p := newTestPool(t, Config{MaxConns: 1}, d)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c, true)
	p.Release(c, true) // extra release must not free a second slot

	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.Equal(t, errors.PoolExhausted, errors.KindOf(err))
	p.Release(c2, true)
}

func TestWarmEstablishesIdleSessions(t *testing.T) {
	d := &countingDialer{}
	p := newTestPool(t, Config{MaxConns: 4}, d)

	p.Warm(context.Background(), 3)

	open, idle := p.Stats()
	require.Equal(t, 3, open)
	require.Equal(t, 3, idle)
	require.EqualValues(t, 3, d.dials.Load())
}

func TestWarmIsCappedAtMaxConns(t *testing.T) {
	d := &countingDialer{}
	p := newTestPool(t, Config{MaxConns: 2}, d)

	p.Warm(context.Background(), 10)

	open, idle := p.Stats()
	require.Equal(t, 2, open)
	require.Equal(t, 2, idle)
}

func TestReapClosesStaleIdleSessions(t *testing.T) {
	d := &countingDialer{}
	p := newTestPool(t, Config{MaxConns: 2, IdleTimeout: 10 * time.Millisecond}, d)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	sess := c.Session().(*fakeSession)
	p.Release(c, true)

	time.Sleep(20 * time.Millisecond)
	p.reapOnce()

	require.True(t, sess.IsClosed())
	open, idle := p.Stats()
	require.Equal(t, 0, open)
	require.Equal(t, 0, idle)
}

func TestMaxLifetimeRetiresIdleSessions(t *testing.T) {
	d := &countingDialer{}
	p := newTestPool(t, Config{MaxConns: 2, MaxLifetime: 10 * time.Millisecond}, d)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	sess := c.Session().(*fakeSession)
	p.Release(c, true)

	time.Sleep(20 * time.Millisecond)
	p.reapOnce()

	require.True(t, sess.IsClosed())
	open, idle := p.Stats()
	require.Equal(t, 0, open)
	require.Equal(t, 0, idle)

	// A session past its lifetime is replaced, not reused.
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotSame(t, sess, c2.Session())
	require.EqualValues(t, 2, d.dials.Load())
	p.Release(c2, true)
}

func TestCloseDrainsIdleAndRejectsAcquire(t *testing.T) {
	d := &countingDialer{}
	p := New(Config{MaxConns: 2, Dial: d.dial})

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	sess := c.Session().(*fakeSession)
	p.Release(c, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))
	require.True(t, sess.IsClosed())

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	require.Equal(t, errors.ConnectionError, errors.KindOf(err))
}

func TestCloseDoesNotLeakConcurrentlyReleasedSessions(t *testing.T) {
	d := &countingDialer{}
	p := New(Config{MaxConns: 4, Dial: d.dial})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				c, err := p.Acquire(context.Background())
				if err != nil {
					return // pool closed
				}
				p.Release(c, true)
			}
		}()
	}

	// Close while releases are in flight; a session released between
	// the closed check and the idle push must still end up closed.
	time.Sleep(10 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))
	close(stop)
	wg.Wait()

	d.sessions.Range(func(key, _ any) bool {
		require.True(t, key.(*fakeSession).IsClosed())
		return true
	})
}

func TestCloseWaitsForLeasedSessions(t *testing.T) {
	d := &countingDialer{}
	p := New(Config{MaxConns: 1, Dial: d.dial})

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		p.Release(c, true)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))
}
