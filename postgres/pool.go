package postgres

import (
	"context"
	"sync"
	"time"
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// ConnString is the space-delimited key=value connection string
	// (see parseDSN for the recognized keys).
	ConnString string

	// MaxSize bounds the number of physical connections the pool will
	// hold open at once (idle + checked out).
	MaxSize int

	// ConnectTimeout bounds how long dialing a new physical connection
	// may take. Zero means no explicit timeout beyond ctx.
	ConnectTimeout time.Duration

	// Logger receives slow-query and lifecycle diagnostics. Nil disables
	// logging.
	Logger *Logger

	// Metrics, when non-nil, receives pool occupancy gauges on every
	// state transition.
	Metrics *PoolMetrics
}

// DefaultPoolConfig returns sane defaults; ConnString must still be set.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:        10,
		ConnectTimeout: 5 * time.Second,
	}
}

// Option configures a PoolConfig.
type Option func(*PoolConfig)

// WithConnString sets the pool's connection string.
func WithConnString(dsn string) Option {
	return func(c *PoolConfig) { c.ConnString = dsn }
}

// WithMaxSize sets the maximum number of physical connections.
func WithMaxSize(n int) Option {
	return func(c *PoolConfig) { c.MaxSize = n }
}

// WithConnectTimeout sets the per-dial connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *PoolConfig) { c.ConnectTimeout = d }
}

// WithLogger sets the pool's logger.
func WithLogger(l *Logger) Option {
	return func(c *PoolConfig) { c.Logger = l }
}

// WithMetrics attaches a PoolMetrics collector.
func WithMetrics(m *PoolMetrics) Option {
	return func(c *PoolConfig) { c.Metrics = m }
}

// validate checks the config for obviously bad values. Connection string
// grammar itself is validated by parseDSN at NewPool time.
func (c PoolConfig) validate() error {
	if c.ConnString == "" {
		return New(CodeConfigurationError, "ConnString is required")
	}
	if c.MaxSize <= 0 {
		return New(CodeConfigurationError, "MaxSize must be positive")
	}
	return nil
}

// waiter is a single queued Acquire call, fulfilled exactly once via
// result. Using a dedicated one-shot channel per waiter (rather than a
// single shared buffered channel) keeps hand-off strictly FIFO: release
// always wakes waiters[0], never an arbitrary blocked goroutine.
type waiter struct {
	result chan acquireResult
}

type acquireResult struct {
	c   *conn
	err error
}

// Pool is a cooperatively-scheduled, FIFO-fair bounded connection pool.
//
// Invariants maintained under mu:
//
//	0 <= activeCount <= cfg.MaxSize
//	len(waiters) > 0  =>  len(idle) == 0 && activeCount == cfg.MaxSize
//	closed            =>  len(idle) == 0 && len(waiters) == 0
type Pool struct {
	cfg PoolConfig

	wireConnString string
	dialFunc       func(ctx context.Context, wireConnString string, timeout time.Duration) (*conn, error)

	mu          sync.Mutex
	idle        []*conn
	activeCount int
	waiters     []*waiter
	closed      bool
}

// NewPool parses connString, validates cfg, and returns a Pool that has not
// yet opened any physical connections; connections are opened lazily on
// first Acquire.
func NewPool(opts ...Option) (*Pool, error) {
	cfg := DefaultPoolConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	parsed, err := parseDSN(cfg.ConnString)
	if err != nil {
		return nil, err
	}

	return &Pool{
		cfg:            cfg,
		wireConnString: parsed.wireString(),
		dialFunc:       dial,
	}, nil
}

// Acquire checks out a connection, blocking (cooperatively, via ctx and a
// per-waiter channel) if the pool is at capacity. Idle connections are
// liveness-checked before being handed out; a dead idle connection is
// discarded and acquisition retried rather than handed to the caller.
func (p *Pool) Acquire(ctx context.Context) (*conn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, New(CodePoolClosed, "pool is closed")
		}

		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			if !c.isAlive() {
				p.mu.Unlock()
				_ = c.close(ctx)
				continue
			}
			p.activeCount++
			c.markHeld()
			p.reportLocked()
			p.mu.Unlock()
			return c, nil
		}

		if p.activeCount < p.cfg.MaxSize {
			p.activeCount++
			p.reportLocked()
			p.mu.Unlock()

			c, err := p.dialFunc(ctx, p.wireConnString, p.cfg.ConnectTimeout)
			if err != nil {
				p.mu.Lock()
				p.activeCount--
				p.wakeNextLocked()
				p.reportLocked()
				p.mu.Unlock()
				return nil, err
			}
			c.markHeld()
			return c, nil
		}

		// Pool is at capacity: join the FIFO wait queue.
		w := &waiter{result: make(chan acquireResult, 1)}
		p.waiters = append(p.waiters, w)
		p.reportLocked()
		p.mu.Unlock()

		select {
		case res := <-w.result:
			if res.err != nil {
				return nil, res.err
			}
			res.c.markHeld()
			return res.c, nil
		case <-ctx.Done():
			p.removeWaiter(w)
			// A hand-off may have raced the cancellation; if one
			// landed after we stopped waiting, return the
			// connection to the pool instead of leaking it.
			select {
			case res := <-w.result:
				if res.err == nil && res.c != nil {
					p.release(context.Background(), res.c)
				}
			default:
			}
			return nil, Wrap(CodeConnectionOpenFailed, "acquire canceled while waiting for a free connection", ctx.Err())
		}
	}
}

func (p *Pool) removeWaiter(w *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, ww := range p.waiters {
		if ww == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.reportLocked()
}

// wakeNextLocked hands the next waiter, if any, an error result. Called
// when a slot that was reserved for dialing fails to materialize a live
// connection, so that waiter isn't starved forever. Must be called with mu
// held.
func (p *Pool) wakeNextLocked() {
	if len(p.waiters) == 0 {
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	w.result <- acquireResult{err: Wrap(CodeConnectionOpenFailed, "could not open a replacement connection", nil)}
}

// releaseCleanupTimeout bounds how long release's liveness/rollback check
// may block before the connection is given up as unusable. It runs against
// a detached context rather than the caller's, since release commonly
// happens precisely because the caller's ctx was just canceled.
const releaseCleanupTimeout = 5 * time.Second

// release returns a connection to the pool. Before the connection is ever
// handed to another waiter or parked idle, it is validated: any query still
// running on it from a canceled caller is awaited, a dead connection is
// discarded, and a connection left mid-transaction (e.g. via Client.Run
// issuing a bare BEGIN) is rolled back — discarded instead if the rollback
// itself fails. If a waiter is queued, a usable connection is handed
// directly to it (FIFO head) without ever touching the idle list; otherwise
// it's parked in idle, or closed outright if the pool has since been closed
// or the connection turned out unusable.
func (p *Pool) release(ctx context.Context, c *conn) {
	if c == nil {
		return
	}
	if wasHeld := c.markReleased(); !wasHeld {
		if p.cfg.Logger != nil {
			p.cfg.Logger.Warn("ignoring duplicate release of connection")
		}
		return
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), releaseCleanupTimeout)
	defer cancel()

	usable := c.isAlive()
	if usable {
		if err := c.awaitQuiescent(cleanupCtx); err != nil {
			usable = false
		} else if err := c.rollbackIfNeeded(cleanupCtx); err != nil {
			if p.cfg.Logger != nil {
				p.cfg.Logger.Warn("rollback on release failed, discarding connection", "error", err)
			}
			usable = false
		}
	}

	p.mu.Lock()
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.reportLocked()
		p.mu.Unlock()

		if !usable {
			_ = c.close(ctx)
			p.handOffFreshOrError(ctx, w)
			return
		}
		c.markHeld()
		w.result <- acquireResult{c: c}
		return
	}

	if p.closed || !usable {
		p.activeCount--
		p.reportLocked()
		p.mu.Unlock()
		_ = c.close(ctx)
		return
	}

	p.idle = append(p.idle, c)
	p.activeCount--
	p.reportLocked()
	p.mu.Unlock()
}

// handOffFreshOrError dials a replacement connection for w when the
// connection originally destined for it turned out dead or irrecoverably
// tainted, so a bad connection is never hand-delivered to a waiter. If
// dialing also fails, w is woken with an error rather than left to block
// forever. On a successful dial activeCount is left untouched: the slot was
// already reserved for w by the caller that released the original
// connection. On a failed dial that slot is given up and activeCount is
// decremented.
func (p *Pool) handOffFreshOrError(ctx context.Context, w *waiter) {
	c, err := p.dialFunc(ctx, p.wireConnString, p.cfg.ConnectTimeout)
	if err != nil {
		p.mu.Lock()
		p.activeCount--
		p.reportLocked()
		p.mu.Unlock()
		w.result <- acquireResult{err: Wrap(CodeConnectionOpenFailed, "could not open a replacement connection", err)}
		return
	}
	c.markHeld()
	w.result <- acquireResult{c: c}
}

// Close closes the pool: queued waiters are woken with PoolClosed, idle
// connections are closed, and every subsequent Acquire fails immediately.
// Connections currently checked out are closed as they're released.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	waiters := p.waiters
	p.waiters = nil
	p.reportLocked()
	p.mu.Unlock()

	for _, w := range waiters {
		w.result <- acquireResult{err: New(CodePoolClosed, "pool closed while waiting for a connection")}
	}

	var firstErr error
	for _, c := range idle {
		if err := c.close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PoolStats is a point-in-time snapshot of pool occupancy.
type PoolStats struct {
	Active  int
	Idle    int
	Waiters int
	MaxSize int
}

// Stats returns a snapshot of the pool's current occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Active:  p.activeCount,
		Idle:    len(p.idle),
		Waiters: len(p.waiters),
		MaxSize: p.cfg.MaxSize,
	}
}

// reportLocked pushes the current occupancy to the metrics collector, if
// configured. Must be called with mu held.
func (p *Pool) reportLocked() {
	if p.cfg.Metrics == nil {
		return
	}
	p.cfg.Metrics.report(p.activeCount, len(p.idle), len(p.waiters), p.cfg.MaxSize)
}
