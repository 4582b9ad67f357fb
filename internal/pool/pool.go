// Package pool hands out exclusive leases on authenticated NNTP
// sessions.  At most MaxSize sessions exist at once, counting idle and
// leased ones together; callers beyond that wait for a release.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"gonntp/config"
	ncerr "gonntp/internal/errors"
	"gonntp/internal/metrics"
	"gonntp/internal/retry"
	"gonntp/internal/session"
	"gonntp/util"
)

// Factory opens one ready-to-use session.
type Factory func(ctx context.Context) (*session.Session, error)

// Option customises a Pool.
type Option func(*Pool)

// WithFactory replaces the default connect/authenticate/compress
// sequence.
func WithFactory(f Factory) Option { return func(p *Pool) { p.factory = f } }

// WithLogger sets the pool logger (default: discard).
func WithLogger(l *util.Logger) Option { return func(p *Pool) { p.logger = l } }

// WithMetrics attaches a collector shared with the sessions.
func WithMetrics(m *metrics.Collector) Option { return func(p *Pool) { p.metrics = m } }

// WithBackoff overrides the retry policy used by Get.
func WithBackoff(b *retry.Backoff) Option { return func(p *Pool) { p.backoff = b } }

// WithBreaker overrides the circuit breaker on session creation.
func WithBreaker(cb *retry.CircuitBreaker) Option { return func(p *Pool) { p.breaker = cb } }

// WithSessionOptions passes a dialer, trust store or buffer size to
// the default factory.
func WithSessionOptions(o session.Options) Option { return func(p *Pool) { p.sessOpts = o } }

// Stats is a point-in-time view of the pool.
type Stats struct {
	Idle   int
	Leased int
	Max    int
}

type idleSession struct {
	s        *session.Session
	lastUsed time.Time
}

// Pool is a bounded set of reusable sessions.
type Pool struct {
	server   config.ServerConfig
	max      int
	idleTTL  time.Duration
	checkTTL time.Duration

	factory  Factory
	sessOpts session.Options
	logger   *util.Logger
	metrics  *metrics.Collector
	backoff  *retry.Backoff
	breaker  *retry.CircuitBreaker

	sem *semaphore.Weighted

	mu     sync.Mutex
	idle   []idleSession // most recently used last
	leased int

	closed    atomic.Bool
	closeCtx  context.Context
	closeFn   context.CancelFunc
	reaperWG  sync.WaitGroup
	closeOnce sync.Once
}

// New builds a pool for cfg.Server sized by cfg.Pool.  No connection is
// opened until the first Get.
func New(cfg *config.Config, opts ...Option) *Pool {
	pc := cfg.Pool
	size := pc.MaxSize
	if size <= 0 {
		size = config.DefaultPoolSize
	}
	idleTTL := pc.IdleTimeout
	if idleTTL <= 0 {
		idleTTL = config.DefaultIdleTimeout
	}
	checkTTL := pc.HealthCheckTimeout
	if checkTTL <= 0 {
		checkTTL = config.DefaultHealthCheckTimeout
	}

	p := &Pool{
		server:   cfg.Server,
		max:      size,
		idleTTL:  idleTTL,
		checkTTL: checkTTL,
		logger:   util.Nop(),
		backoff:  retry.FromConfig(cfg.Retry),
		sem:      semaphore.NewWeighted(int64(size)),
	}
	p.closeCtx, p.closeFn = context.WithCancel(context.Background())
	for _, o := range opts {
		o(p)
	}
	if p.factory == nil {
		p.factory = p.connect
	}
	if p.sessOpts.Logger == nil {
		p.sessOpts.Logger = p.logger
	}
	if p.sessOpts.Metrics == nil {
		p.sessOpts.Metrics = p.metrics
	}
	if p.breaker == nil {
		p.breaker = retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
			MaxFailures:  pc.BreakerThreshold,
			ResetTimeout: pc.BreakerTimeout,
			HalfOpenMax:  1,
			OnStateChange: func(from, to retry.State) {
				p.logger.Warn("connection breaker %s -> %s", from, to)
			},
		})
	}
	if p.backoff.OnRetry == nil {
		p.backoff.OnRetry = func(attempt int, err error, wait time.Duration) {
			p.metrics.Retry()
			p.logger.Verbose("lease attempt %d failed: %v (retrying in %v)", attempt, err, wait.Round(time.Millisecond))
		}
	}

	if pc.ReapInterval > 0 {
		p.reaperWG.Add(1)
		go p.reap(pc.ReapInterval)
	}
	return p
}

// connect is the default Factory.  A failed compression negotiation is
// logged and the session is kept unless the failure broke it.
func (p *Pool) connect(ctx context.Context) (*session.Session, error) {
	s, err := session.Connect(ctx, p.server, p.sessOpts)
	if err != nil {
		return nil, err
	}
	if err := s.Authenticate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	// Cached on the session; compression negotiation consults it.  A
	// server without CAPABILITIES is used with its capabilities unknown.
	if _, err := s.Capabilities(ctx); err != nil {
		if s.IsBroken() {
			s.Close()
			return nil, err
		}
		p.logger.Debug("capabilities unavailable: %v", err)
	}
	if p.server.Compress {
		if _, err := s.TryEnableCompression(ctx); err != nil {
			p.logger.Warn("compression negotiation failed: %v", err)
			if s.IsBroken() {
				s.Close()
				return nil, err
			}
		}
	}
	return s, nil
}

// ── Acquire ──────────────────────────────────────────────────────────

// Get leases a session, retrying transient failures with the pool's
// backoff.
func (p *Pool) Get(ctx context.Context) (*Lease, error) {
	var lease *Lease
	err := p.backoff.Do(ctx, func(int) error {
		var err error
		lease, err = p.GetNoRetry(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// GetNoRetry leases a session with a single attempt.  It prefers a
// healthy idle session, creates one when below capacity and otherwise
// waits until a lease is released, ctx ends or the pool closes.
func (p *Pool) GetNoRetry(ctx context.Context) (*Lease, error) {
	if p.closed.Load() {
		return nil, ncerr.ErrPoolClosed
	}
	start := time.Now()
	if err := p.acquireSlot(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ncerr.ErrPoolClosed
	}
	p.leased++
	cand, ok := p.popIdleLocked()
	p.mu.Unlock()

	for ok {
		if p.healthy(ctx, cand) {
			return p.lease(ctx, cand.s, start), nil
		}
		p.evict(cand.s)

		p.mu.Lock()
		cand, ok = p.popIdleLocked()
		p.mu.Unlock()
	}

	var s *session.Session
	err := p.breaker.Execute(func() error {
		var err error
		s, err = p.factory(ctx)
		return err
	})
	if err != nil {
		p.giveBack()
		return nil, err
	}
	p.logger.Verbose("session %s opened (%d/%d leased)", s.ID()[:8], p.State().Leased, p.max)
	return p.lease(ctx, s, start), nil
}

// acquireSlot waits for capacity; closing the pool wakes it.
func (p *Pool) acquireSlot(ctx context.Context) error {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.closeCtx, cancel)
	defer stop()

	if err := p.sem.Acquire(actx, 1); err != nil {
		if p.closed.Load() {
			return ncerr.ErrPoolClosed
		}
		if ctx.Err() == context.DeadlineExceeded {
			return &ncerr.PoolError{Kind: ncerr.AcquireTimeout, Err: ctx.Err()}
		}
		return ctx.Err()
	}
	return nil
}

func (p *Pool) popIdleLocked() (idleSession, bool) {
	n := len(p.idle)
	if n == 0 {
		return idleSession{}, false
	}
	c := p.idle[n-1]
	p.idle[n-1] = idleSession{}
	p.idle = p.idle[:n-1]
	return c, true
}

// healthy vets an idle session before reuse.
func (p *Pool) healthy(ctx context.Context, c idleSession) bool {
	if c.s.IsBroken() {
		return false
	}
	if time.Since(c.lastUsed) > p.idleTTL {
		p.logger.Debug("session %s idle for %v, dropping", c.s.ID()[:8], time.Since(c.lastUsed).Round(time.Second))
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, p.checkTTL)
	defer cancel()
	err := c.s.Ping(cctx)
	p.metrics.RecordHealthCheck(err == nil)
	if err != nil {
		p.logger.Verbose("session %s failed liveness check: %v", c.s.ID()[:8], err)
		return false
	}
	return true
}

func (p *Pool) lease(ctx context.Context, s *session.Session, start time.Time) *Lease {
	wait := time.Since(start)
	p.metrics.LeaseAcquired(wait)
	return &Lease{pool: p, sess: s, ctx: ctx, acquired: time.Now()}
}

// giveBack returns a slot that never produced a lease.
func (p *Pool) giveBack() {
	p.mu.Lock()
	p.leased--
	p.mu.Unlock()
	p.sem.Release(1)
}

// release ends a lease.  keep is false for broken or discarded
// sessions.
func (p *Pool) release(s *session.Session, keep bool) {
	p.mu.Lock()
	p.leased--
	keep = keep && !p.closed.Load() && !s.IsBroken()
	if keep {
		p.idle = append(p.idle, idleSession{s: s, lastUsed: time.Now()})
	}
	p.mu.Unlock()
	p.sem.Release(1)

	if !keep {
		p.evict(s)
	}
}

func (p *Pool) evict(s *session.Session) {
	p.metrics.Eviction()
	if s.IsBroken() {
		s.Close()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.checkTTL)
	defer cancel()
	s.Quit(ctx)
}

// ── Do ───────────────────────────────────────────────────────────────

// Do runs fn on a leased session and releases it on every exit.  A
// panic in fn discards the session before propagating.
func (p *Pool) Do(ctx context.Context, fn func(*session.Session) error) (err error) {
	lease, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			lease.Discard()
			panic(r)
		}
		lease.Release()
	}()
	return fn(lease.Session())
}

// ── Maintenance ──────────────────────────────────────────────────────

// State returns the current occupancy.
func (p *Pool) State() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), Leased: p.leased, Max: p.max}
}

// Gauges adapts State to the metrics exporter.
func (p *Pool) Gauges() (idle, leased, size int) {
	st := p.State()
	return st.Idle, st.Leased, st.Max
}

// Prune closes idle sessions that are broken or past the idle timeout
// and reports how many were removed.
func (p *Pool) Prune() int {
	now := time.Now()
	var expired []*session.Session

	p.mu.Lock()
	kept := p.idle[:0]
	for _, c := range p.idle {
		if c.s.IsBroken() || now.Sub(c.lastUsed) > p.idleTTL {
			expired = append(expired, c.s)
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(p.idle); i++ {
		p.idle[i] = idleSession{}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, s := range expired {
		p.evict(s)
	}
	if len(expired) > 0 {
		p.logger.Verbose("pruned %d idle sessions", len(expired))
	}
	return len(expired)
}

func (p *Pool) reap(every time.Duration) {
	defer p.reaperWG.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-p.closeCtx.Done():
			return
		case <-t.C:
			p.Prune()
		}
	}
}

// Close stops the pool: waiters fail with ErrPoolClosed, idle sessions
// are sent QUIT, and sessions still leased are closed on release.
func (p *Pool) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed.Store(true)
		idle := p.idle
		p.idle = nil
		p.mu.Unlock()

		p.closeFn()
		p.reaperWG.Wait()

		g, gctx := errgroup.WithContext(ctx)
		for _, c := range idle {
			s := c.s
			g.Go(func() error {
				p.metrics.Eviction()
				return s.Quit(gctx)
			})
		}
		err = g.Wait()
		p.logger.Verbose("pool closed (%d idle sessions quit)", len(idle))
	})
	return err
}
