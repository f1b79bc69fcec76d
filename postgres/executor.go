package postgres

import (
	"context"
	"time"
)

// Poll parameters for the non-blocking completion loop: start at 100
// microseconds and back off by a factor of 1.2 per iteration, capped at
// 1000 microseconds, so a fast query returns almost immediately while a
// slow one doesn't spin the CPU.
const (
	pollStart  = 100 * time.Microsecond
	pollMax    = 1000 * time.Microsecond
	pollFactor = 1.2

	slowQueryThreshold = 200 * time.Millisecond
)

// Shape selects how Execute packages the rows it fetched.
type Shape int

const (
	// ShapeRows returns every row.
	ShapeRows Shape = iota
	// ShapeFirstRow returns only the first row, or none if there were no rows.
	ShapeFirstRow
	// ShapeFirstValue returns only the first column of the first row.
	ShapeFirstValue
	// ShapeAffected returns only the number of rows the statement affected.
	ShapeAffected
)

// ShapedResult is the outcome of Execute, populated according to the
// requested Shape. Columns and Affected are always set; the remaining fields
// are set only for the shape they belong to.
type ShapedResult struct {
	Columns  []string
	Rows     []map[string]any
	Row      map[string]any
	HasRow   bool
	Value    any
	HasValue bool
	Affected int64
}

// Execute normalizes sql's placeholders, dispatches it against conn, and
// drives it to completion with a non-blocking poll loop instead of parking
// the calling goroutine on a network read. It is the sole path by which
// caller-supplied query text reaches the wire (the pool's own release-time
// ROLLBACK goes through runQuery directly), so placeholder validation and slow-query
// logging happen exactly once regardless of caller (direct client call or
// transaction handle).
func Execute(ctx context.Context, c *conn, logger *Logger, sql string, params []any, shape Shape) (*ShapedResult, error) {
	normalized, err := normalizePlaceholders(sql)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	pq := sendQuery(c, normalized, params)

	interval := pollStart
	for isBusy(pq) {
		select {
		case <-ctx.Done():
			return nil, Wrap(CodeQueryError, "context canceled while awaiting query completion", ctx.Err()).WithQuery(sql, params)
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * pollFactor)
		if interval > pollMax {
			interval = pollMax
		}
	}

	outcome, _ := getResult(pq)
	elapsed := time.Since(start)
	if logger != nil && elapsed >= slowQueryThreshold {
		logger.Warn("slow query", "sql", truncateSQL(sql), "elapsed_ms", elapsed.Milliseconds())
	}

	if outcome.err != nil {
		return nil, Wrap(CodeQueryError, "executing query", outcome.err).WithQuery(sql, params)
	}

	return shapeResult(outcome, shape), nil
}

func shapeResult(outcome queryOutcome, shape Shape) *ShapedResult {
	result := &ShapedResult{
		Columns:  outcome.columns,
		Affected: outcome.tag.RowsAffected(),
	}

	switch shape {
	case ShapeAffected:
		return result
	case ShapeFirstValue:
		if len(outcome.rows) > 0 && len(outcome.rows[0]) > 0 {
			result.Value = outcome.rows[0][0]
			result.HasValue = true
		}
		return result
	case ShapeFirstRow:
		if len(outcome.rows) > 0 {
			result.Row = rowToMap(outcome.columns, outcome.rows[0])
			result.HasRow = true
		}
		return result
	default: // ShapeRows
		result.Rows = make([]map[string]any, len(outcome.rows))
		for i, r := range outcome.rows {
			result.Rows[i] = rowToMap(outcome.columns, r)
		}
		return result
	}
}

func rowToMap(columns []string, row []any) map[string]any {
	m := make(map[string]any, len(row))
	for i, v := range row {
		if i < len(columns) {
			m[columns[i]] = v
		}
	}
	return m
}

// truncateSQL shortens sql for log lines so a large statement doesn't flood
// the log.
func truncateSQL(sql string) string {
	const max = 200
	if len(sql) <= max {
		return sql
	}
	return sql[:max] + "...(truncated)"
}
