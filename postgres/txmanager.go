package postgres

import (
	"context"
	"math/rand/v2"
	"time"
)

// IsolationLevel names a PostgreSQL transaction isolation level. The zero
// value means "server default" and is combined into BEGIN only when set,
// since the server resets isolation automatically on COMMIT/ROLLBACK and a
// separate SET TRANSACTION statement is therefore never needed.
type IsolationLevel string

const (
	IsolationReadUncommitted IsolationLevel = "READ UNCOMMITTED"
	IsolationReadCommitted   IsolationLevel = "READ COMMITTED"
	IsolationRepeatableRead  IsolationLevel = "REPEATABLE READ"
	IsolationSerializable    IsolationLevel = "SERIALIZABLE"
)

type txOptions struct {
	attempts  int
	isolation IsolationLevel
}

// TxOption configures a single Transaction call.
type TxOption func(*txOptions)

// WithAttempts sets the total number of attempts (not additional retries);
// attempts must be >= 1.
func WithAttempts(n int) TxOption {
	return func(o *txOptions) { o.attempts = n }
}

// WithIsolationLevel sets the isolation level for this transaction only.
func WithIsolationLevel(level IsolationLevel) TxOption {
	return func(o *txOptions) { o.isolation = level }
}

// TxManagerConfig configures a TxManager's retry backoff.
type TxManagerConfig struct {
	// RetryBaseDelay is the base of the exponential backoff between
	// attempts.
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the backoff delay before jitter is applied.
	RetryMaxDelay time.Duration
	// Logger receives retry diagnostics.
	Logger *Logger
}

// DefaultTxManagerConfig returns sane retry backoff defaults.
func DefaultTxManagerConfig() TxManagerConfig {
	return TxManagerConfig{
		RetryBaseDelay: 50 * time.Millisecond,
		RetryMaxDelay:  2 * time.Second,
	}
}

// TxManagerOption configures a TxManagerConfig.
type TxManagerOption func(*TxManagerConfig)

// WithTxRetryBaseDelay sets the base retry backoff delay.
func WithTxRetryBaseDelay(d time.Duration) TxManagerOption {
	return func(c *TxManagerConfig) { c.RetryBaseDelay = d }
}

// WithTxRetryMaxDelay caps the retry backoff delay.
func WithTxRetryMaxDelay(d time.Duration) TxManagerOption {
	return func(c *TxManagerConfig) { c.RetryMaxDelay = d }
}

// WithTxManagerLogger sets the logger used for retry diagnostics.
func WithTxManagerLogger(l *Logger) TxManagerOption {
	return func(c *TxManagerConfig) { c.Logger = l }
}

// statementRunner is the shape of Execute, taken as a field so tests can
// substitute a fake that never touches a real wire connection.
type statementRunner func(ctx context.Context, c *conn, logger *Logger, sql string, params []any, shape Shape) (*ShapedResult, error)

// TxManager retries a user transaction callback against fresh connections
// acquired from a Pool, with commit/rollback callback dispatch and
// per-attempt failure history.
type TxManager struct {
	pool   *Pool
	cfg    TxManagerConfig
	execFn statementRunner
}

// NewTxManager builds a TxManager bound to pool.
func NewTxManager(pool *Pool, opts ...TxManagerOption) *TxManager {
	cfg := DefaultTxManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &TxManager{pool: pool, cfg: cfg, execFn: Execute}
}

// Transaction runs fn within a transaction, retrying up to attempts times
// (default 1, i.e. no retry) on any failure from an attempt: connection
// acquisition, BEGIN, the callback itself, COMMIT, or commit callbacks.
// Exhausting every attempt returns TransactionFailed carrying the full
// per-attempt history.
func (m *TxManager) Transaction(ctx context.Context, fn func(*TxHandle) error, opts ...TxOption) error {
	o := txOptions{attempts: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.attempts < 1 {
		return New(CodeBadArgument, "attempts must be >= 1")
	}

	var history []AttemptRecord
	var lastErr error

	for attempt := 1; attempt <= o.attempts; attempt++ {
		attemptStart := time.Now()
		err := m.runAttempt(ctx, fn, o.isolation)
		if err == nil {
			return nil
		}

		lastErr = err
		history = append(history, AttemptRecord{
			Attempt:        attempt,
			ErrorMessage:   err.Error(),
			ElapsedSeconds: time.Since(attemptStart).Seconds(),
		})

		if attempt == o.attempts {
			break
		}

		delay := m.retryDelay(attempt)
		if m.cfg.Logger != nil {
			m.cfg.Logger.Warn("retrying transaction",
				"attempt", attempt,
				"attempts", o.attempts,
				"delay_ms", delay.Milliseconds(),
				"error", err.Error(),
			)
		}

		select {
		case <-ctx.Done():
			history = append(history, AttemptRecord{
				Attempt:      attempt + 1,
				ErrorMessage: ctx.Err().Error(),
			})
			return Wrap(CodeTransactionFailed, "context canceled during retry backoff", ctx.Err()).WithAttempts(history)
		case <-time.After(delay):
		}
	}

	return Wrap(CodeTransactionFailed, "transaction failed after exhausting all attempts", lastErr).WithAttempts(history)
}

// runAttempt executes exactly one attempt: acquire, BEGIN, callback,
// COMMIT-or-ROLLBACK, callback dispatch, release.
func (m *TxManager) runAttempt(ctx context.Context, fn func(*TxHandle) error, isolation IsolationLevel) error {
	c, err := m.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	tc := &TransactionContext{}
	txCtx := ContextWithTx(ctx, tc)
	logger := m.pool.cfg.Logger

	beginSQL := "BEGIN"
	if isolation != "" {
		beginSQL = "BEGIN ISOLATION LEVEL " + string(isolation)
	}
	if _, err := m.execFn(txCtx, c, logger, beginSQL, nil, ShapeAffected); err != nil {
		m.pool.release(ctx, c)
		return Wrap(CodeTransactionError, "BEGIN failed", err)
	}

	handle := newTxHandle(txCtx, c, logger, tc, m.execFn)

	cbErr := invokeCallback(fn, handle)
	handle.invalidate()

	if cbErr != nil {
		if _, rbErr := m.execFn(txCtx, c, logger, "ROLLBACK", nil, ShapeAffected); rbErr != nil && logger != nil {
			logger.Warn("rollback after callback failure also failed", "error", rbErr.Error())
		}
		if err := runCallbacks(tc.rollbackCallbacks()); err != nil && logger != nil {
			logger.Warn("rollback callback panicked", "error", err.Error())
		}
		m.pool.release(ctx, c)
		return Wrap(CodeTransactionError, "transaction callback failed", cbErr)
	}

	if _, err := m.execFn(txCtx, c, logger, "COMMIT", nil, ShapeAffected); err != nil {
		if _, rbErr := m.execFn(txCtx, c, logger, "ROLLBACK", nil, ShapeAffected); rbErr != nil && logger != nil {
			logger.Warn("rollback after failed commit also failed", "error", rbErr.Error())
		}
		if cbErr := runCallbacks(tc.rollbackCallbacks()); cbErr != nil && logger != nil {
			logger.Warn("rollback callback panicked", "error", cbErr.Error())
		}
		m.pool.release(ctx, c)
		return Wrap(CodeTransactionError, "COMMIT failed", err)
	}

	commitCbErr := runCallbacks(tc.commitCallbacks())
	m.pool.release(ctx, c)
	if commitCbErr != nil {
		return Wrap(CodeTransactionError, "commit callback failed", commitCbErr)
	}
	return nil
}

// invokeCallback runs fn, converting a panic into an error so a misbehaving
// callback can never skip rollback.
func invokeCallback(fn func(*TxHandle) error, handle *TxHandle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Newf(CodeTransactionError, "transaction callback panicked: %v", r)
		}
	}()
	return fn(handle)
}

// runCallbacks invokes every callback, swallowing nothing but surfacing only
// the first panic, matching the spec's "collect exceptions, raise wrapping
// the first" policy for commit/rollback callback dispatch.
func runCallbacks(cbs []func()) (err error) {
	var first any
	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil && first == nil {
					first = r
				}
			}()
			cb()
		}()
	}
	if first != nil {
		return Newf(CodeTransactionError, "callback panicked: %v", first)
	}
	return nil
}

// retryDelay computes an exponentially-backed-off delay, caps it at
// RetryMaxDelay, then applies +/-25% jitter, so the returned delay can exceed
// RetryMaxDelay by up to a quarter.
func (m *TxManager) retryDelay(attempt int) time.Duration {
	delay := m.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > m.cfg.RetryMaxDelay {
		delay = m.cfg.RetryMaxDelay
	}
	jitterRange := delay / 2
	if jitterRange <= 0 {
		jitterRange = time.Microsecond
	}
	jitter := time.Duration(rand.Int64N(int64(jitterRange)))
	return delay - delay/4 + jitter
}
