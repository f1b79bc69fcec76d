package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// conn is a single physical connection managed by the pool. It wraps the
// low-level pgconn.PgConn driver (the same layer pgxpool builds on) rather
// than a higher-level pgx.Conn, so the executor can drive queries through an
// explicit send/poll/fetch cycle instead of a single blocking call.
type conn struct {
	pg *pgconn.PgConn

	mu      sync.Mutex
	held    bool          // true while checked out of the pool; guards double-release
	pending *pendingQuery // the query, if any, currently running on the background goroutine

	// fakeAlive overrides isAlive's result when pg is nil, letting tests
	// exercise pool fairness/invariants with a fake dialer instead of a
	// real wire connection.
	fakeAlive bool

	// fakeTxStatus overrides transactionStatus's result when pg is nil.
	// Zero means "report idle", so fake conns default to a clean state.
	fakeTxStatus byte
}

// txStatusIdle is the TxStatus byte pgconn reports when a connection is not
// inside a transaction.
const txStatusIdle = 'I'

// dial opens a new physical connection using the given wire connection
// string, bounded by timeout if positive.
func dial(ctx context.Context, wireConnString string, timeout time.Duration) (*conn, error) {
	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pg, err := pgconn.Connect(dialCtx, wireConnString)
	if err != nil {
		return nil, Wrap(CodeConnectionOpenFailed, "opening connection", err)
	}
	return &conn{pg: pg}, nil
}

// isAlive reports whether the underlying wire connection still looks usable.
// Used by the pool to discard dead connections on acquire instead of handing
// a caller a connection that will fail on first use.
func (c *conn) isAlive() bool {
	if c == nil {
		return false
	}
	if c.pg == nil {
		return c.fakeAlive
	}
	return !c.pg.IsClosed()
}

// transactionStatus returns the server-reported transaction status byte
// ('I' idle, 'T' in transaction, 'E' failed transaction).
func (c *conn) transactionStatus() byte {
	if c.pg == nil {
		if c.fakeTxStatus == 0 {
			return txStatusIdle
		}
		return c.fakeTxStatus
	}
	return c.pg.TxStatus()
}

// awaitQuiescent blocks until any query previously dispatched against c via
// sendQuery has finished running on its background goroutine, or ctx is
// done first. pgconn is not safe for concurrent use by two goroutines at
// once, so a connection must never be inspected or reused while a prior
// query is still in flight on it — notably the case where Execute gave up
// on ctx cancellation but its detached goroutine is still running.
func (c *conn) awaitQuiescent(ctx context.Context) error {
	c.mu.Lock()
	pq := c.pending
	c.mu.Unlock()
	if pq == nil {
		return nil
	}
	select {
	case <-pq.done:
		c.mu.Lock()
		if c.pending == pq {
			c.pending = nil
		}
		c.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rollbackIfNeeded issues a synchronous ROLLBACK when c is left mid
// transaction. Callers must have already established c is quiescent (no
// query still in flight) before calling this.
func (c *conn) rollbackIfNeeded(ctx context.Context) error {
	if c.pg == nil {
		return nil
	}
	if c.transactionStatus() == txStatusIdle {
		return nil
	}
	outcome := runQuery(ctx, c.pg, "ROLLBACK", nil)
	return outcome.err
}

// close tears down the underlying wire connection.
func (c *conn) close(ctx context.Context) error {
	if c == nil || c.pg == nil {
		return nil
	}
	return c.pg.Close(ctx)
}

func (c *conn) markHeld() {
	c.mu.Lock()
	c.held = true
	c.mu.Unlock()
}

// markReleased clears the held flag and reports whether it had actually
// been held, so the pool can reject a duplicate release.
func (c *conn) markReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.held
	c.held = false
	return was
}
