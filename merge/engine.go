package merge

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/metadata"
	"gorm/shardroute/route"
	"gorm/shardroute/statement"
)

// Engine 归并引擎, selects a merger once per statement.
type Engine struct {
	rule   *metadata.ShardingRule
	schema string
	fold   bool
}

type Option func(*Engine)

// WithSchema names the logical database returned by SHOW DATABASES.
func WithSchema(name string) Option {
	return func(e *Engine) {
		e.schema = name
	}
}

// WithCaseInsensitiveOrder orders string keys ignoring case, matching shards
// whose columns use a case-insensitive collation (MySQL's *_ci).
func WithCaseInsensitiveOrder() Option {
	return func(e *Engine) {
		e.fold = true
	}
}

func NewEngine(rule *metadata.ShardingRule, opts ...Option) *Engine {
	e := &Engine{rule: rule}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Merge merges the results of routing, one per unit in unit order. On error
// every result is closed.
func (e *Engine) Merge(stmt *statement.Context, routing *route.RoutingResult, results []QueryResult) (MergedResult, error) {
	if routing != nil && len(results) != len(routing.Units) {
		closeAll(results)
		return nil, errors.Wrapf(ErrResultCountMismatch, "%d results for %d units", len(results), len(routing.Units))
	}
	if len(results) == 0 {
		return NewMemoryResult(nil, nil), nil
	}
	merged, err := e.merge(stmt, results)
	if err != nil {
		closeAll(results)
		return nil, err
	}
	return merged, nil
}

func (e *Engine) merge(stmt *statement.Context, results []QueryResult) (MergedResult, error) {
	switch stmt.Category {
	case statement.Select:
		return e.mergeQuery(stmt, results)
	case statement.DALUnicast, statement.DALBroadcast:
		switch stmt.Show {
		case statement.ShowDatabases:
			if e.schema != "" {
				return &transparent{QueryResult: NewMemoryResult([]string{"Database"}, [][]any{{e.schema}}), rest: results}, nil
			}
		case statement.ShowTables:
			return e.showTables(results)
		case statement.ShowCreateTable:
			return e.showCreateTable(results)
		}
	}
	if len(results) == 1 {
		return &transparent{QueryResult: results[0]}, nil
	}
	return newIterator(results), nil
}

func (e *Engine) mergeQuery(stmt *statement.Context, results []QueryResult) (MergedResult, error) {
	if len(results) == 1 {
		return &transparent{QueryResult: results[0]}, nil
	}
	l := newLayout(stmt, results[0].Columns())
	l.fold = e.fold
	var (
		merged QueryResult
		err    error
	)
	switch {
	case stmt.IsGrouped():
		for _, p := range stmt.Projections {
			if p.Distinct && p.Aggregation != statement.AggNone {
				return nil, errors.Wrap(ErrDistinctAggregate, p.Expr)
			}
		}
		if merged, err = groupByMemory(stmt, results, l); err != nil {
			return nil, err
		}
	case len(stmt.OrderBy) > 0:
		keys, err := l.sortKeys(stmt.OrderBy)
		if err != nil {
			return nil, err
		}
		merged = newOrderByStream(results, keys)
	default:
		merged = newIterator(results)
	}
	if stmt.DerivedColumns > 0 {
		merged = &trimmed{QueryResult: merged, visible: len(l.columns) - stmt.DerivedColumns}
	}
	if stmt.Limit != nil {
		offset, rowCount, err := stmt.Pagination()
		if err != nil {
			return nil, err
		}
		merged = newPagination(merged, offset, rowCount)
	}
	return merged, nil
}

// showTables maps actual tables back to logic tables, once each.
func (e *Engine) showTables(results []QueryResult) (MergedResult, error) {
	columns := results[0].Columns()
	var rows [][]any
	seen := map[string]bool{}
	for _, r := range results {
		for {
			ok, err := r.Next()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			row := make([]any, len(columns))
			for i := range row {
				row[i] = r.Value(i)
			}
			name := toString(row[0])
			if e.rule != nil {
				if logic, ok := e.rule.LogicTable(name); ok {
					name = logic
				}
			}
			if k := strings.ToLower(name); !seen[k] {
				seen[k] = true
				row[0] = name
				rows = append(rows, row)
			}
		}
	}
	return &transparent{QueryResult: NewMemoryResult(columns, rows), rest: results}, nil
}

// showCreateTable returns the first row with the actual table name replaced
// by the logic one in both the name and the DDL.
func (e *Engine) showCreateTable(results []QueryResult) (MergedResult, error) {
	r := results[0]
	columns := r.Columns()
	ok, err := r.Next()
	if err != nil {
		return nil, err
	}
	var rows [][]any
	if ok {
		row := make([]any, len(columns))
		for i := range row {
			row[i] = r.Value(i)
		}
		actual := toString(row[0])
		if e.rule != nil && len(row) > 1 {
			if logic, ok := e.rule.LogicTable(actual); ok {
				row[0] = logic
				re := regexp.MustCompile("(?i)`" + regexp.QuoteMeta(actual) + "`")
				row[1] = re.ReplaceAllString(toString(row[1]), "`"+logic+"`")
			}
		}
		rows = append(rows, row)
	}
	return &transparent{QueryResult: NewMemoryResult(columns, rows), rest: results}, nil
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
