// Package merge recombines the per-unit results of a routed statement into
// one logical result.
package merge

import (
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/util/compare"
)

var (
	ErrResultCountMismatch = errors.New("query results do not match routing units")
	ErrUnknownColumn       = errors.New("unknown result column")
	ErrDistinctAggregate   = errors.New("distinct aggregation cannot be merged across data nodes")
	ErrHaving              = errors.New("having clause cannot be evaluated")
)

// QueryResult is one open, forward-only result of a routing unit. Value
// reads a column of the current row; it is only valid after Next returned
// true.
type QueryResult interface {
	Columns() []string
	Next() (bool, error)
	Value(i int) any
	Close() error
}

// MergedResult is the logical result of a statement. It is consumed once
// from one goroutine; Close closes every underlying result.
type MergedResult interface {
	QueryResult
}

type memoryResult struct {
	columns []string
	rows    [][]any
	pos     int
}

// NewMemoryResult returns a result over rows held in memory.
func NewMemoryResult(columns []string, rows [][]any) QueryResult {
	return &memoryResult{columns: columns, rows: rows, pos: -1}
}

func (m *memoryResult) Columns() []string { return m.columns }

func (m *memoryResult) Next() (bool, error) {
	if m.pos < len(m.rows) {
		m.pos++
	}
	return m.pos < len(m.rows), nil
}

func (m *memoryResult) Value(i int) any {
	if m.pos < 0 || m.pos >= len(m.rows) || i < 0 || i >= len(m.rows[m.pos]) {
		return nil
	}
	return m.rows[m.pos][i]
}

func (m *memoryResult) Close() error { return nil }

// rowsResult adapts *sql.Rows. Driver bytes become strings, or numbers for
// numeric database types so that rows order numerically.
type rowsResult struct {
	rows    *sql.Rows
	columns []string
	numeric []bool
	values  []any
}

// NewRowsResult wraps rows; the result owns and closes them.
func NewRowsResult(rows *sql.Rows) (QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "columns")
	}
	r := &rowsResult{rows: rows, columns: columns, numeric: make([]bool, len(columns))}
	if types, err := rows.ColumnTypes(); err == nil {
		for i, t := range types {
			r.numeric[i] = isNumericType(t.DatabaseTypeName())
		}
	}
	return r, nil
}

func isNumericType(name string) bool {
	switch strings.ToUpper(name) {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT",
		"UNSIGNED TINYINT", "UNSIGNED SMALLINT", "UNSIGNED MEDIUMINT", "UNSIGNED INT", "UNSIGNED BIGINT",
		"INT2", "INT4", "INT8", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "REAL", "DECIMAL", "NUMERIC":
		return true
	}
	return false
}

func (r *rowsResult) Columns() []string { return r.columns }

func (r *rowsResult) Next() (bool, error) {
	if !r.rows.Next() {
		return false, r.rows.Err()
	}
	values := make([]any, len(r.columns))
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return false, errors.Wrap(err, "scan")
	}
	for i, v := range values {
		b, ok := v.([]byte)
		if !ok {
			continue
		}
		values[i] = string(b)
		if r.numeric[i] {
			if n, ok := compare.Number(values[i]); ok {
				values[i] = n
			}
		}
	}
	r.values = values
	return true, nil
}

func (r *rowsResult) Value(i int) any {
	if i < 0 || i >= len(r.values) {
		return nil
	}
	return r.values[i]
}

func (r *rowsResult) Close() error { return r.rows.Close() }

func closeAll(results []QueryResult) error {
	var first error
	for _, r := range results {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ExecResult 写操作结果, implements sql.Result.
type ExecResult struct {
	Affected int64
	InsertID int64
}

func (r ExecResult) LastInsertId() (int64, error) { return r.InsertID, nil }

func (r ExecResult) RowsAffected() (int64, error) { return r.Affected, nil }

// FromSQLResult reads both counters of a driver result.
func FromSQLResult(res sql.Result) (ExecResult, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return ExecResult{}, errors.Wrap(err, "rows affected")
	}
	// 部分驱动不支持LastInsertId
	id, _ := res.LastInsertId()
	return ExecResult{Affected: affected, InsertID: id}, nil
}

// MergeUpdate sums affected rows; the last insert id is the first non-zero
// one in routing unit order.
func MergeUpdate(results []ExecResult) ExecResult {
	var out ExecResult
	for _, r := range results {
		out.Affected += r.Affected
		if out.InsertID == 0 {
			out.InsertID = r.InsertID
		}
	}
	return out
}
