package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// queryOutcome is the result of a dispatched query, captured once the
// goroutine driving it over the wire completes.
type queryOutcome struct {
	columns []string
	rows    [][]any
	tag     pgconn.CommandTag
	err     error
}

// pendingQuery tracks a query dispatched against the wire on a background
// goroutine. isBusy/getResult poll it non-blockingly so the executor never
// parks on a network read: the only thing pgconn exposes natively is a
// blocking call, so the goroutine-plus-channel pair stands in for the
// send/isBusy/getResult split a native non-blocking driver would offer.
type pendingQuery struct {
	done chan struct{}
	out  queryOutcome
}

// sendQuery dispatches sql/params against c and returns immediately; the
// query keeps running to completion on a background goroutine.
func sendQuery(c *conn, sql string, params []any) *pendingQuery {
	pq := &pendingQuery{done: make(chan struct{})}
	c.mu.Lock()
	c.pending = pq
	c.mu.Unlock()
	go func() {
		defer close(pq.done)
		pq.out = runQuery(context.Background(), c.pg, sql, params)
	}()
	return pq
}

// isBusy reports whether the query dispatched as pq is still executing.
func isBusy(pq *pendingQuery) bool {
	select {
	case <-pq.done:
		return false
	default:
		return true
	}
}

// getResult returns the outcome of pq and true once it has completed, or
// the zero value and false while it is still busy.
func getResult(pq *pendingQuery) (queryOutcome, bool) {
	select {
	case <-pq.done:
		return pq.out, true
	default:
		return queryOutcome{}, false
	}
}

// runQuery drives a single parameterized statement to completion using the
// text wire format for both parameters and results.
func runQuery(ctx context.Context, pg *pgconn.PgConn, sql string, params []any) queryOutcome {
	paramValues := make([][]byte, len(params))
	for i, p := range params {
		paramValues[i] = encodeParam(p)
	}

	rr := pg.ExecParams(ctx, sql, paramValues, nil, nil, nil)

	var columns []string
	var rows [][]any
	haveColumns := false

	for rr.NextRow() {
		if !haveColumns {
			for _, fd := range rr.FieldDescriptions() {
				columns = append(columns, fd.Name)
			}
			haveColumns = true
		}
		vals := rr.Values()
		row := make([]any, len(vals))
		for i, v := range vals {
			if v == nil {
				row[i] = nil
				continue
			}
			row[i] = string(v)
		}
		rows = append(rows, row)
	}

	tag, err := rr.Close()
	if err != nil {
		return queryOutcome{err: err}
	}
	if !haveColumns {
		for _, fd := range rr.FieldDescriptions() {
			columns = append(columns, fd.Name)
		}
	}
	return queryOutcome{columns: columns, rows: rows, tag: tag}
}

// encodeParam renders a bind parameter in PostgreSQL's text wire format.
func encodeParam(p any) []byte {
	if p == nil {
		return nil
	}
	switch v := p.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	case bool:
		if v {
			return []byte("t")
		}
		return []byte("f")
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}
