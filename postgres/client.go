package postgres

import "context"

// Client is the public facade: a pool-backed, non-blocking query surface
// plus retried transactions. It holds no durable state of its own — every
// piece of state lives in the pool or in the database.
type Client struct {
	pool *Pool
	tx   *TxManager
}

// NewClient builds a Client from connection options.
func NewClient(opts ...Option) (*Client, error) {
	pool, err := NewPool(opts...)
	if err != nil {
		return nil, err
	}
	return &Client{pool: pool, tx: NewTxManager(pool, WithTxManagerLogger(pool.cfg.Logger))}, nil
}

// NewClientWithTxOptions builds a Client with explicit transaction-manager
// retry backoff options in addition to the pool options.
func NewClientWithTxOptions(poolOpts []Option, txOpts []TxManagerOption) (*Client, error) {
	pool, err := NewPool(poolOpts...)
	if err != nil {
		return nil, err
	}
	allTxOpts := append([]TxManagerOption{WithTxManagerLogger(pool.cfg.Logger)}, txOpts...)
	return &Client{pool: pool, tx: NewTxManager(pool, allTxOpts...)}, nil
}

// Query runs sql/params outside any transaction and returns every row.
func (c *Client) Query(ctx context.Context, sql string, params ...any) ([]map[string]any, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.release(ctx, conn)

	res, err := Execute(ctx, conn, c.pool.cfg.Logger, sql, params, ShapeRows)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// FetchOne runs sql/params and returns the first row, if any.
func (c *Client) FetchOne(ctx context.Context, sql string, params ...any) (map[string]any, bool, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	defer c.pool.release(ctx, conn)

	res, err := Execute(ctx, conn, c.pool.cfg.Logger, sql, params, ShapeFirstRow)
	if err != nil {
		return nil, false, err
	}
	return res.Row, res.HasRow, nil
}

// FetchValue runs sql/params and returns the first column of the first row.
func (c *Client) FetchValue(ctx context.Context, sql string, params ...any) (any, bool, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	defer c.pool.release(ctx, conn)

	res, err := Execute(ctx, conn, c.pool.cfg.Logger, sql, params, ShapeFirstValue)
	if err != nil {
		return nil, false, err
	}
	return res.Value, res.HasValue, nil
}

// Execute runs sql/params and returns the number of affected rows.
func (c *Client) Execute(ctx context.Context, sql string, params ...any) (int64, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer c.pool.release(ctx, conn)

	res, err := Execute(ctx, conn, c.pool.cfg.Logger, sql, params, ShapeAffected)
	if err != nil {
		return 0, err
	}
	return res.Affected, nil
}

// Run acquires a connection and hands it to fn for free-form use outside a
// transaction (e.g. issuing several statements that don't need atomicity).
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context, conn any) error) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.pool.release(ctx, conn)
	return fn(ctx, conn)
}

// Transaction runs fn within a retried transaction. See TxManager.Transaction.
func (c *Client) Transaction(ctx context.Context, fn func(*TxHandle) error, opts ...TxOption) error {
	return c.tx.Transaction(ctx, fn, opts...)
}

// Stats returns a snapshot of pool occupancy.
func (c *Client) Stats() PoolStats {
	return c.pool.Stats()
}

// Close shuts the client's pool down.
func (c *Client) Close(ctx context.Context) error {
	return c.pool.Close(ctx)
}
