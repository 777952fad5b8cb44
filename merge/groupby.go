package merge

import (
	"sort"

	"github.com/pkg/errors"

	"gorm/shardroute/statement"
	"gorm/shardroute/util/compare"
)

// aggregator combines the partial results of one aggregate column.
type aggregator struct {
	kind  statement.Aggregation
	index int
	// AVG: columns of the derived COUNT and SUM
	countIndex int
	sumIndex   int
}

type accumulator struct {
	value any
	count int64
	sum   any
}

func (a *aggregator) add(acc *accumulator, row []any) error {
	switch a.kind {
	case statement.AggCount:
		n, ok := compare.Int64(row[a.index])
		if row[a.index] != nil && !ok {
			return errors.Wrapf(compare.ErrIncomparable, "count value %v", row[a.index])
		}
		acc.count += n
	case statement.AggSum:
		sum, err := addNumbers(acc.value, row[a.index])
		if err != nil {
			return err
		}
		acc.value = sum
	case statement.AggMax, statement.AggMin:
		v := compare.Normalize(row[a.index])
		if v == nil {
			return nil
		}
		if acc.value == nil {
			acc.value = v
			return nil
		}
		c, err := valueCompare(v, acc.value)
		if err != nil {
			return err
		}
		if (a.kind == statement.AggMax && c > 0) || (a.kind == statement.AggMin && c < 0) {
			acc.value = v
		}
	case statement.AggAvg:
		n, _ := compare.Int64(row[a.countIndex])
		acc.count += n
		sum, err := addNumbers(acc.sum, row[a.sumIndex])
		if err != nil {
			return err
		}
		acc.sum = sum
	}
	return nil
}

// result returns the combined value; SUM, AVG, MAX and MIN without any
// non-null partial are NULL, COUNT is 0.
func (a *aggregator) result(acc *accumulator) any {
	switch a.kind {
	case statement.AggCount:
		return acc.count
	case statement.AggAvg:
		if acc.count == 0 || acc.sum == nil {
			return nil
		}
		sum, _ := compare.Float64(acc.sum)
		return sum / float64(acc.count)
	}
	return acc.value
}

// addNumbers adds a partial to a running sum. NULL partials are skipped;
// integer sums stay integers.
func addNumbers(sum, v any) (any, error) {
	if compare.Normalize(v) == nil {
		return sum, nil
	}
	n, ok := compare.Number(v)
	if !ok {
		return nil, errors.Wrapf(compare.ErrIncomparable, "sum value %v", v)
	}
	if sum == nil {
		return n, nil
	}
	x, xi := sum.(int64)
	y, yi := n.(int64)
	if xi && yi {
		return x + y, nil
	}
	fx, _ := compare.Float64(sum)
	fy, _ := compare.Float64(n)
	return fx + fy, nil
}

type group struct {
	row  []any
	accs []accumulator
}

// groupByMemory 内存分组归并: reads every row, combines the groups, applies
// HAVING and sorts. Memory is bounded by the number of groups.
func groupByMemory(stmt *statement.Context, results []QueryResult, l *layout) (QueryResult, error) {
	aggs, err := aggregators(stmt, l)
	if err != nil {
		return nil, err
	}
	groupIdx, err := groupIndexes(stmt, l)
	if err != nil {
		return nil, err
	}

	groups := map[string]*group{}
	var order []*group
	key := make([]any, len(groupIdx))
	for _, r := range results {
		for {
			ok, err := r.Next()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			row := make([]any, len(l.columns))
			for i := range row {
				row[i] = compare.Normalize(r.Value(i))
			}
			for i, idx := range groupIdx {
				key[i] = row[idx]
			}
			k := compare.Key(key)
			g, seen := groups[k]
			if !seen {
				g = &group{row: row, accs: make([]accumulator, len(aggs))}
				groups[k] = g
				order = append(order, g)
			}
			for i := range aggs {
				if err := aggs[i].add(&g.accs[i], row); err != nil {
					return nil, err
				}
			}
		}
	}
	// 无GROUP BY的聚合查询总有一行
	if len(order) == 0 && len(stmt.GroupBy) == 0 && stmt.HasAggregation() {
		order = append(order, &group{row: make([]any, len(l.columns)), accs: make([]accumulator, len(aggs))})
	}

	rows := make([][]any, 0, len(order))
	for _, g := range order {
		for i := range aggs {
			a := &aggs[i]
			g.row[a.index] = a.result(&g.accs[i])
			if a.kind == statement.AggAvg {
				g.row[a.countIndex] = g.accs[i].count
				g.row[a.sumIndex] = g.accs[i].sum
			}
		}
		if stmt.Having != nil {
			keep, err := having(stmt.Having, g.row, l, stmt.Params)
			if err != nil {
				return nil, err
			}
			if !keep {
				continue
			}
		}
		rows = append(rows, g.row)
	}
	if err := sortGroups(stmt, rows, l); err != nil {
		return nil, err
	}
	return &transparent{QueryResult: NewMemoryResult(l.columns, rows), rest: results}, nil
}

func aggregators(stmt *statement.Context, l *layout) ([]aggregator, error) {
	var out []aggregator
	for _, p := range stmt.Projections {
		if p.Aggregation == statement.AggNone {
			continue
		}
		idx, err := l.index(p.Label)
		if err != nil {
			return nil, err
		}
		a := aggregator{kind: p.Aggregation, index: idx}
		if p.Aggregation == statement.AggAvg {
			if a.countIndex, err = l.index(p.AvgCount); err != nil {
				return nil, err
			}
			if a.sumIndex, err = l.index(p.AvgSum); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// groupIndexes returns the group key columns: GROUP BY items, or every
// visible column for SELECT DISTINCT.
func groupIndexes(stmt *statement.Context, l *layout) ([]int, error) {
	var out []int
	for _, item := range stmt.GroupBy {
		idx, err := l.index(item.Label)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	if len(out) == 0 && stmt.Distinct && !stmt.HasAggregation() {
		for i := 0; i < len(l.columns)-stmt.DerivedColumns; i++ {
			out = append(out, i)
		}
	}
	return out, nil
}

// sortGroups orders rows by ORDER BY, else by GROUP BY.
func sortGroups(stmt *statement.Context, rows [][]any, l *layout) error {
	items := stmt.OrderBy
	if len(items) == 0 {
		items = stmt.GroupBy
	}
	if len(items) == 0 {
		return nil
	}
	keys, err := l.sortKeys(items)
	if err != nil {
		return err
	}
	tuple := func(row []any) []any {
		t := make([]any, len(keys))
		for i, k := range keys {
			t[i] = row[k.index]
		}
		return t
	}
	var cmpErr error
	sort.SliceStable(rows, func(i, j int) bool {
		c, err := compareKeys(tuple(rows[i]), tuple(rows[j]), keys)
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		return c < 0
	})
	return cmpErr
}

// truth 三值逻辑: NULL参与的比较结果为 unknown
type truth int8

const (
	falseTruth truth = iota
	trueTruth
	unknownTruth
)

func truthOf(b bool) truth {
	if b {
		return trueTruth
	}
	return falseTruth
}

func (t truth) not() truth {
	switch t {
	case trueTruth:
		return falseTruth
	case falseTruth:
		return trueTruth
	}
	return unknownTruth
}

// having reports whether a combined group row passes HAVING; only true keeps it.
func having(expr statement.Expr, row []any, l *layout, params []any) (bool, error) {
	t, err := evalHaving(expr, row, l, params)
	return t == trueTruth, err
}

func evalHaving(expr statement.Expr, row []any, l *layout, params []any) (truth, error) {
	switch e := expr.(type) {
	case *statement.AndExpr:
		left, err := evalHaving(e.Left, row, l, params)
		if err != nil || left == falseTruth {
			return falseTruth, err
		}
		right, err := evalHaving(e.Right, row, l, params)
		if err != nil || right == falseTruth {
			return falseTruth, err
		}
		if left == unknownTruth || right == unknownTruth {
			return unknownTruth, nil
		}
		return trueTruth, nil
	case *statement.OrExpr:
		left, err := evalHaving(e.Left, row, l, params)
		if err != nil || left == trueTruth {
			return left, err
		}
		right, err := evalHaving(e.Right, row, l, params)
		if err != nil || right == trueTruth {
			return right, err
		}
		if left == unknownTruth || right == unknownTruth {
			return unknownTruth, nil
		}
		return falseTruth, nil
	case *statement.NotExpr:
		t, err := evalHaving(e.Expr, row, l, params)
		if err != nil {
			return falseTruth, err
		}
		return t.not(), nil
	case *statement.CompareExpr:
		v, want, err := havingOperands(e.Column, e.Value, row, l, params)
		if err != nil {
			return falseTruth, err
		}
		if v == nil || want == nil {
			return unknownTruth, nil
		}
		c, err := valueCompare(v, want)
		if err != nil {
			return falseTruth, err
		}
		switch e.Operator {
		case "=":
			return truthOf(c == 0), nil
		case "!=":
			return truthOf(c != 0), nil
		case "<":
			return truthOf(c < 0), nil
		case "<=":
			return truthOf(c <= 0), nil
		case ">":
			return truthOf(c > 0), nil
		case ">=":
			return truthOf(c >= 0), nil
		}
	case *statement.InExpr:
		result := falseTruth
		for _, item := range e.Values {
			v, want, err := havingOperands(e.Column, item, row, l, params)
			if err != nil {
				return falseTruth, err
			}
			if v == nil {
				return unknownTruth, nil
			}
			if want == nil {
				result = unknownTruth
				continue
			}
			if c, err := valueCompare(v, want); err == nil && c == 0 {
				result = trueTruth
				break
			}
		}
		if e.Not {
			return result.not(), nil
		}
		return result, nil
	case *statement.BetweenExpr:
		v, from, err := havingOperands(e.Column, e.From, row, l, params)
		if err != nil {
			return falseTruth, err
		}
		_, to, err := havingOperands(e.Column, e.To, row, l, params)
		if err != nil {
			return falseTruth, err
		}
		if v == nil || from == nil || to == nil {
			return unknownTruth, nil
		}
		lo, err := valueCompare(v, from)
		if err != nil {
			return falseTruth, err
		}
		hi, err := valueCompare(v, to)
		if err != nil {
			return falseTruth, err
		}
		return truthOf((lo >= 0 && hi <= 0) != e.Not), nil
	case *statement.OpaqueExpr:
		return falseTruth, errors.Wrap(ErrHaving, e.SQL)
	}
	return falseTruth, errors.Wrapf(ErrHaving, "%T", expr)
}

func havingOperands(col statement.Column, value statement.Value, row []any, l *layout, params []any) (any, any, error) {
	idx, err := l.index(col.Name)
	if err != nil {
		return nil, nil, err
	}
	want, err := value.Resolve(params)
	if err != nil {
		return nil, nil, err
	}
	return compare.Normalize(row[idx]), compare.Normalize(want), nil
}
