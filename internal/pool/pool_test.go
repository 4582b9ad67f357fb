package pool

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonntp/config"
	ncerr "gonntp/internal/errors"
	"gonntp/internal/metrics"
	"gonntp/internal/retry"
	"gonntp/internal/session"
)

// newsServer answers the handful of commands a pool sends.
type newsServer struct {
	ln         net.Listener
	accepted   atomic.Int32
	busyFirst  atomic.Int32 // greet this many connections with 400
	silentDate atomic.Bool
	caps       string // CAPABILITIES body lines; empty answers 500
	mu         sync.Mutex
	conns      []net.Conn
	commands   []string
}

func (s *newsServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func startServer(t *testing.T) *newsServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &newsServer{ln: ln}
	go srv.accept()
	t.Cleanup(func() {
		ln.Close()
		srv.mu.Lock()
		for _, c := range srv.conns {
			c.Close()
		}
		srv.mu.Unlock()
	})
	return srv
}

func (s *newsServer) accept() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()
		n := s.accepted.Add(1)
		go s.serve(c, n <= s.busyFirst.Load())
	}
}

func (s *newsServer) serve(c net.Conn, busy bool) {
	defer c.Close()
	if busy {
		c.Write([]byte("400 too many connections\r\n"))
		return
	}
	c.Write([]byte("200 pool test ready\r\n"))
	r := bufio.NewReader(c)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()
		switch cmd {
		case "CAPABILITIES":
			s.mu.Lock()
			caps := s.caps
			s.mu.Unlock()
			if caps == "" {
				c.Write([]byte("500 what?\r\n"))
				break
			}
			c.Write([]byte("101 capability list\r\n" + caps + ".\r\n"))
		case "DATE":
			if !s.silentDate.Load() {
				c.Write([]byte("111 20240101000000\r\n"))
			}
		case "QUIT":
			c.Write([]byte("205 bye\r\n"))
			return
		default:
			c.Write([]byte("500 what?\r\n"))
		}
	}
}

func (s *newsServer) poolConfig(maxSize int) *config.Config {
	host, port, _ := net.SplitHostPort(s.ln.Addr().String())
	cfg := config.Default()
	cfg.Server = config.PlainServer(host, "", "")
	cfg.Server.Port, _ = strconv.Atoi(port)
	cfg.Server.Compress = false
	cfg.Server.ConnectTimeout = time.Second
	cfg.Server.SingleLineTimeout = time.Second
	cfg.Server.MultiLineTimeout = time.Second
	cfg.Pool.MaxSize = maxSize
	cfg.Pool.HealthCheckTimeout = 200 * time.Millisecond
	cfg.Pool.ReapInterval = 0
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	return cfg
}

func newPool(t *testing.T, cfg *config.Config, opts ...Option) *Pool {
	t.Helper()
	p := New(cfg, opts...)
	t.Cleanup(func() { p.Close(context.Background()) })
	return p
}

var bg = context.Background()

// ── Leasing ──────────────────────────────────────────────────────────

func TestConnect_CapabilitiesGuideCompression(t *testing.T) {
	tests := []struct {
		name string
		caps string
		want []string
	}{
		{"gzip only advertised", "VERSION 2\r\nCOMPRESS GZIP\r\n",
			[]string{"CAPABILITIES", "XFEATURE COMPRESS GZIP"}},
		{"nothing advertised", "VERSION 2\r\nREADER\r\n",
			[]string{"CAPABILITIES", "COMPRESS DEFLATE", "XFEATURE COMPRESS GZIP"}},
		{"no capabilities command", "",
			[]string{"CAPABILITIES", "COMPRESS DEFLATE", "XFEATURE COMPRESS GZIP"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := startServer(t)
			srv.mu.Lock()
			srv.caps = tt.caps
			srv.mu.Unlock()
			cfg := srv.poolConfig(1)
			cfg.Server.Compress = true
			p := newPool(t, cfg)

			l, err := p.Get(bg)
			require.NoError(t, err)
			defer l.Release()
			assert.False(t, l.Session().IsBroken())
			assert.Equal(t, tt.want, srv.Commands())
		})
	}
}

func TestGet_ReusesIdleSession(t *testing.T) {
	srv := startServer(t)
	m := metrics.New()
	p := newPool(t, srv.poolConfig(2), WithMetrics(m))

	l1, err := p.Get(bg)
	require.NoError(t, err)
	id := l1.Session().ID()
	assert.Equal(t, Stats{Idle: 0, Leased: 1, Max: 2}, p.State())

	l1.Release()
	l1.Release() // idempotent
	assert.Equal(t, Stats{Idle: 1, Leased: 0, Max: 2}, p.State())

	l2, err := p.Get(bg)
	require.NoError(t, err)
	defer l2.Release()
	assert.Equal(t, id, l2.Session().ID())
	assert.Equal(t, int32(1), srv.accepted.Load())
	assert.Equal(t, int64(2), m.Leases())
	assert.Equal(t, session.Authenticated, l2.Session().State())
}

func TestPool_InvariantUnderConcurrency(t *testing.T) {
	srv := startServer(t)
	const size = 3
	p := newPool(t, srv.poolConfig(size))

	var inUse, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				err := p.Do(bg, func(s *session.Session) error {
					n := inUse.Add(1)
					defer inUse.Add(-1)
					for {
						old := peak.Load()
						if n <= old || peak.CompareAndSwap(old, n) {
							break
						}
					}
					st := p.State()
					if st.Idle+st.Leased > st.Max {
						t.Errorf("invariant broken: %+v", st)
					}
					time.Sleep(time.Millisecond)
					return nil
				})
				if err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(size))
	assert.LessOrEqual(t, srv.accepted.Load(), int32(size))
	st := p.State()
	assert.Zero(t, st.Leased)
	assert.LessOrEqual(t, st.Idle, size)
}

func TestRelease_BrokenSessionIsClosed(t *testing.T) {
	srv := startServer(t)
	m := metrics.New()
	p := newPool(t, srv.poolConfig(2), WithMetrics(m))

	l, err := p.Get(bg)
	require.NoError(t, err)
	s := l.Session()
	s.MarkBroken()
	l.Release()

	assert.Equal(t, 0, p.State().Idle)
	assert.Equal(t, session.Closed, s.State())
	assert.Equal(t, int64(1), m.Evictions())

	l2, err := p.Get(bg)
	require.NoError(t, err)
	defer l2.Release()
	assert.NotEqual(t, s.ID(), l2.Session().ID())
	assert.Equal(t, int32(2), srv.accepted.Load())
}

func TestRelease_CancelledLeaseContext(t *testing.T) {
	srv := startServer(t)
	p := newPool(t, srv.poolConfig(1))

	ctx, cancel := context.WithCancel(bg)
	l, err := p.Get(ctx)
	require.NoError(t, err)
	cancel()
	l.Release()

	assert.True(t, l.Session().IsBroken())
	assert.Equal(t, Stats{Idle: 0, Leased: 0, Max: 1}, p.State())
}

func TestDiscard(t *testing.T) {
	srv := startServer(t)
	p := newPool(t, srv.poolConfig(1))

	l, err := p.Get(bg)
	require.NoError(t, err)
	l.Discard()
	l.Release() // no-op after Discard

	assert.Equal(t, session.Closed, l.Session().State())
	assert.Equal(t, Stats{Idle: 0, Leased: 0, Max: 1}, p.State())
}

// ── Waiting ──────────────────────────────────────────────────────────

func TestGet_WaitsAtCapacity(t *testing.T) {
	srv := startServer(t)
	p := newPool(t, srv.poolConfig(1))

	held, err := p.Get(bg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(bg, 50*time.Millisecond)
	defer cancel()
	_, err = p.GetNoRetry(ctx)
	var pe *ncerr.PoolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ncerr.AcquireTimeout, pe.Kind)
	assert.False(t, ncerr.IsRetryable(err))

	got := make(chan *Lease, 1)
	go func() {
		l, err := p.Get(bg)
		if err != nil {
			t.Error(err)
		}
		got <- l
	}()
	time.Sleep(30 * time.Millisecond)
	held.Release()

	select {
	case l := <-got:
		assert.Equal(t, held.Session().ID(), l.Session().ID())
		l.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestClose_WakesWaiters(t *testing.T) {
	srv := startServer(t)
	p := New(srv.poolConfig(1))

	held, err := p.Get(bg)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := p.GetNoRetry(bg)
		errc <- err
	}()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, p.Close(bg))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ncerr.ErrPoolClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by Close")
	}

	held.Release()
	assert.Equal(t, session.Closed, held.Session().State())

	_, err = p.Get(bg)
	assert.ErrorIs(t, err, ncerr.ErrPoolClosed)
	assert.NoError(t, p.Close(bg), "second close is a no-op")
}

func TestClose_QuitsIdleSessions(t *testing.T) {
	srv := startServer(t)
	p := New(srv.poolConfig(2))

	l, err := p.Get(bg)
	require.NoError(t, err)
	s := l.Session()
	l.Release()

	require.NoError(t, p.Close(bg))
	assert.Equal(t, session.Closed, s.State())
	assert.Equal(t, Stats{Idle: 0, Leased: 0, Max: 2}, p.State())
}

// ── Health ───────────────────────────────────────────────────────────

func TestGet_EvictsUnresponsiveIdleSession(t *testing.T) {
	srv := startServer(t)
	m := metrics.New()
	p := newPool(t, srv.poolConfig(1), WithMetrics(m))

	l, err := p.Get(bg)
	require.NoError(t, err)
	first := l.Session()
	l.Release()

	srv.silentDate.Store(true)
	l, err = p.Get(bg)
	require.NoError(t, err)
	defer l.Release()

	assert.NotEqual(t, first.ID(), l.Session().ID())
	assert.True(t, first.IsBroken())
	assert.Equal(t, int32(2), srv.accepted.Load())
	assert.Equal(t, int64(1), m.Evictions())
}

func TestPrune_IdleTimeout(t *testing.T) {
	srv := startServer(t)
	cfg := srv.poolConfig(2)
	cfg.Pool.IdleTimeout = 20 * time.Millisecond
	p := newPool(t, cfg)

	l, err := p.Get(bg)
	require.NoError(t, err)
	s := l.Session()
	l.Release()
	assert.Equal(t, 0, p.Prune(), "fresh session is kept")

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, p.Prune())
	assert.Equal(t, 0, p.State().Idle)
	assert.Equal(t, session.Closed, s.State())
}

func TestReaper(t *testing.T) {
	srv := startServer(t)
	cfg := srv.poolConfig(1)
	cfg.Pool.IdleTimeout = 10 * time.Millisecond
	cfg.Pool.ReapInterval = 10 * time.Millisecond
	p := newPool(t, cfg)

	l, err := p.Get(bg)
	require.NoError(t, err)
	l.Release()

	assert.Eventually(t, func() bool { return p.State().Idle == 0 }, time.Second, 5*time.Millisecond)
}

// ── Do ───────────────────────────────────────────────────────────────

func TestDo_ReleasesOnPanic(t *testing.T) {
	srv := startServer(t)
	p := newPool(t, srv.poolConfig(1))

	var s *session.Session
	func() {
		defer func() { assert.Equal(t, "boom", recover()) }()
		p.Do(bg, func(sess *session.Session) error { //nolint:errcheck
			s = sess
			panic("boom")
		})
	}()

	assert.Equal(t, Stats{Idle: 0, Leased: 0, Max: 1}, p.State())
	assert.Equal(t, session.Closed, s.State())
}

func TestDo_ReturnsCallbackError(t *testing.T) {
	srv := startServer(t)
	p := newPool(t, srv.poolConfig(1))

	want := errors.New("callback failed")
	err := p.Do(bg, func(*session.Session) error { return want })
	assert.Equal(t, want, err)
	assert.Equal(t, 1, p.State().Idle, "a healthy session goes back")
}

// ── Creation failures ────────────────────────────────────────────────

func TestGet_RetriesBusyServer(t *testing.T) {
	srv := startServer(t)
	srv.busyFirst.Store(2)
	m := metrics.New()
	p := newPool(t, srv.poolConfig(1), WithMetrics(m))

	l, err := p.Get(bg)
	require.NoError(t, err)
	defer l.Release()
	assert.Equal(t, int32(3), srv.accepted.Load())
	assert.Equal(t, int64(2), m.Retries())
}

func TestGet_GivesUpAfterMaxAttempts(t *testing.T) {
	srv := startServer(t)
	srv.busyFirst.Store(100)
	cfg := srv.poolConfig(1)
	cfg.Retry.MaxAttempts = 3
	cfg.Pool.BreakerThreshold = 10
	p := newPool(t, cfg)

	_, err := p.Get(bg)
	assert.ErrorIs(t, err, ncerr.ErrServiceUnavailable)
	assert.Equal(t, int32(3), srv.accepted.Load())
	assert.Equal(t, Stats{Idle: 0, Leased: 0, Max: 1}, p.State())
}

func TestGetNoRetry_CircuitOpens(t *testing.T) {
	cfg := config.Default()
	cfg.Pool.BreakerThreshold = 2
	cfg.Pool.BreakerTimeout = time.Hour

	calls := 0
	p := newPool(t, cfg, WithFactory(func(context.Context) (*session.Session, error) {
		calls++
		return nil, ncerr.Wrap("dial", "news.invalid:119", errors.New("connection refused"))
	}))

	for i := 0; i < 2; i++ {
		_, err := p.GetNoRetry(bg)
		var te *ncerr.TransportError
		require.ErrorAs(t, err, &te)
	}
	_, err := p.GetNoRetry(bg)
	assert.ErrorIs(t, err, ncerr.ErrCircuitOpen)
	assert.Equal(t, 2, calls)
	assert.Zero(t, p.State().Leased)
}

func TestGet_CustomBackoff(t *testing.T) {
	cfg := config.Default()
	calls := 0
	p := newPool(t, cfg,
		WithBackoff(&retry.Backoff{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 2}),
		WithBreaker(retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{MaxFailures: 100})),
		WithFactory(func(context.Context) (*session.Session, error) {
			calls++
			return nil, ncerr.Protocol(ncerr.Timeout, 0, "greeting")
		}))

	_, err := p.Get(bg)
	assert.ErrorIs(t, err, ncerr.ErrTimeout)
	assert.Equal(t, 2, calls)
}

func TestGauges(t *testing.T) {
	srv := startServer(t)
	p := newPool(t, srv.poolConfig(4))

	l, err := p.Get(bg)
	require.NoError(t, err)
	defer l.Release()

	idle, leased, size := p.Gauges()
	assert.Equal(t, [3]int{0, 1, 4}, [3]int{idle, leased, size})
	assert.Positive(t, l.Held())
}
