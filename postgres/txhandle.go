package postgres

import (
	"context"
	"sync"
)

// TransactionContext holds the commit/rollback callback queues for one
// in-flight transaction. The transaction manager binds it into the ctx used
// for the attempt's statements (see TxFromContext) and hands it to the
// TxHandle, whose OnCommit/OnRollback append to it directly; it is never
// keyed off the connection pointer the user never holds directly.
type TransactionContext struct {
	mu         sync.Mutex
	onCommits  []func()
	onRollback []func()
}

type txContextKey struct{}

// ContextWithTx binds tc into ctx.
func ContextWithTx(ctx context.Context, tc *TransactionContext) context.Context {
	return context.WithValue(ctx, txContextKey{}, tc)
}

// TxFromContext resolves the active TransactionContext, if any.
func TxFromContext(ctx context.Context) (*TransactionContext, bool) {
	tc, ok := ctx.Value(txContextKey{}).(*TransactionContext)
	return tc, ok
}

func (tc *TransactionContext) addCommit(fn func()) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.onCommits = append(tc.onCommits, fn)
}

func (tc *TransactionContext) addRollback(fn func()) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.onRollback = append(tc.onRollback, fn)
}

func (tc *TransactionContext) commitCallbacks() []func() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]func(){}, tc.onCommits...)
}

func (tc *TransactionContext) rollbackCallbacks() []func() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]func(){}, tc.onRollback...)
}

// TxHandle is the short-lived object handed to a transaction callback. It
// forwards query operations to the executor against the bound connection,
// and lets the callback register commit/rollback hooks. It becomes invalid
// the moment the callback returns; using it afterward is undefined, and
// calls after invalidation fail with NotInTransaction.
type TxHandle struct {
	ctx    context.Context
	conn   *conn
	logger *Logger
	tc     *TransactionContext
	execFn statementRunner

	mu    sync.Mutex
	valid bool
}

func newTxHandle(ctx context.Context, c *conn, logger *Logger, tc *TransactionContext, execFn statementRunner) *TxHandle {
	return &TxHandle{ctx: ctx, conn: c, logger: logger, tc: tc, execFn: execFn, valid: true}
}

func (h *TxHandle) invalidate() {
	h.mu.Lock()
	h.valid = false
	h.mu.Unlock()
}

func (h *TxHandle) checkValid() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.valid {
		return New(CodeNotInTransaction, "transaction handle used outside its callback")
	}
	return nil
}

// Query runs sql/params and returns every row.
func (h *TxHandle) Query(sql string, params ...any) ([]map[string]any, error) {
	if err := h.checkValid(); err != nil {
		return nil, err
	}
	res, err := h.execFn(h.ctx, h.conn, h.logger, sql, params, ShapeRows)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// FetchOne runs sql/params and returns the first row, if any.
func (h *TxHandle) FetchOne(sql string, params ...any) (map[string]any, bool, error) {
	if err := h.checkValid(); err != nil {
		return nil, false, err
	}
	res, err := h.execFn(h.ctx, h.conn, h.logger, sql, params, ShapeFirstRow)
	if err != nil {
		return nil, false, err
	}
	return res.Row, res.HasRow, nil
}

// FetchValue runs sql/params and returns the first column of the first row.
func (h *TxHandle) FetchValue(sql string, params ...any) (any, bool, error) {
	if err := h.checkValid(); err != nil {
		return nil, false, err
	}
	res, err := h.execFn(h.ctx, h.conn, h.logger, sql, params, ShapeFirstValue)
	if err != nil {
		return nil, false, err
	}
	return res.Value, res.HasValue, nil
}

// Execute runs sql/params and returns the number of affected rows.
func (h *TxHandle) Execute(sql string, params ...any) (int64, error) {
	if err := h.checkValid(); err != nil {
		return 0, err
	}
	res, err := h.execFn(h.ctx, h.conn, h.logger, sql, params, ShapeAffected)
	if err != nil {
		return 0, err
	}
	return res.Affected, nil
}

// OnCommit enqueues fn to run, in insertion order, after COMMIT succeeds.
func (h *TxHandle) OnCommit(fn func()) error {
	if err := h.checkValid(); err != nil {
		return err
	}
	h.tc.addCommit(fn)
	return nil
}

// OnRollback enqueues fn to run, in insertion order, if the transaction
// rolls back.
func (h *TxHandle) OnRollback(fn func()) error {
	if err := h.checkValid(); err != nil {
		return err
	}
	h.tc.addRollback(fn)
	return nil
}

// Connection exposes the underlying connection handle for advanced use.
func (h *TxHandle) Connection() any {
	return h.conn
}
