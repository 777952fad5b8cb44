// Package condition extracts sharding values from a bound statement.
package condition

import (
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/algorithm"
	"gorm/shardroute/metadata"
	"gorm/shardroute/statement"
	"gorm/shardroute/util/compare"
)

// MaxBranches caps the OR branches of a WHERE clause; larger clauses broadcast.
const MaxBranches = 1024

// Condition 一个OR分支上某个逻辑表的分片值
type Condition struct {
	Table  string
	Values []algorithm.ColumnValues
}

// TableConditions 逻辑表的全部分片条件.
// No conditions means the table is broadcast; AlwaysFalse means every branch
// contradicts itself and no row can match.
type TableConditions struct {
	Conditions  []Condition
	AlwaysFalse bool
}

// Broadcast reports whether the table routes to all of its data nodes.
func (t *TableConditions) Broadcast() bool {
	return t == nil || (!t.AlwaysFalse && len(t.Conditions) == 0)
}

// Extract returns the conditions of every sharded table of stmt, keyed by
// lowercase logic table name. INSERT yields one condition per row.
func Extract(stmt *statement.Context, rule *metadata.ShardingRule) (map[string]*TableConditions, error) {
	out := map[string]*TableConditions{}
	if stmt.Category == statement.Insert && len(stmt.InsertRows) > 0 {
		for _, name := range stmt.TableNames() {
			tr, ok := rule.TableRule(name)
			if !ok {
				continue
			}
			tc, err := insertConditions(stmt, tr)
			if err != nil {
				return nil, err
			}
			out[strings.ToLower(name)] = tc
		}
		return out, nil
	}

	branches, ok := dnf(stmt.Where)
	for _, name := range stmt.TableNames() {
		tr, found := rule.TableRule(name)
		if !found {
			continue
		}
		key := strings.ToLower(name)
		if !ok || stmt.Where == nil {
			out[key] = &TableConditions{}
			continue
		}
		tc, err := tableConditions(stmt, tr, branches)
		if err != nil {
			return nil, err
		}
		out[key] = tc
	}
	return out, nil
}

func insertConditions(stmt *statement.Context, tr *metadata.TableRule) (*TableConditions, error) {
	tc := &TableConditions{}
	for _, row := range stmt.InsertRows {
		cond := Condition{Table: tr.LogicTable}
		for i, col := range stmt.InsertColumns {
			if i >= len(row) || !tr.IsShardingColumn(col) {
				continue
			}
			v, err := row[i].Resolve(stmt.Params)
			if errors.Is(err, statement.ErrOpaqueValue) {
				continue
			}
			if err != nil {
				return nil, errors.Wrapf(err, "insert %s.%s", tr.LogicTable, col)
			}
			cond.Values = append(cond.Values, algorithm.ColumnValues{Column: col, Values: []any{compare.Normalize(v)}})
		}
		tc.Conditions = append(tc.Conditions, cond)
	}
	return tc, nil
}

// dnf flattens expr into OR branches of AND-ed atoms. Predicates that cannot
// narrow routing become empty branches. ok is false when the branch count
// exceeds MaxBranches.
func dnf(expr statement.Expr) (branches [][]statement.Expr, ok bool) {
	switch e := expr.(type) {
	case nil:
		return [][]statement.Expr{nil}, true
	case *statement.OrExpr:
		l, ok := dnf(e.Left)
		if !ok {
			return nil, false
		}
		r, ok := dnf(e.Right)
		if !ok || len(l)+len(r) > MaxBranches {
			return nil, false
		}
		return append(l, r...), true
	case *statement.AndExpr:
		l, ok := dnf(e.Left)
		if !ok {
			return nil, false
		}
		r, ok := dnf(e.Right)
		if !ok || len(l)*len(r) > MaxBranches {
			return nil, false
		}
		out := make([][]statement.Expr, 0, len(l)*len(r))
		for _, a := range l {
			for _, b := range r {
				branch := make([]statement.Expr, 0, len(a)+len(b))
				out = append(out, append(append(branch, a...), b...))
			}
		}
		return out, true
	case *statement.CompareExpr:
		if e.Operator != "!=" {
			return [][]statement.Expr{{e}}, true
		}
	case *statement.InExpr:
		if !e.Not {
			return [][]statement.Expr{{e}}, true
		}
	case *statement.BetweenExpr:
		if !e.Not {
			return [][]statement.Expr{{e}}, true
		}
	}
	// NOT, !=, NOT IN, NOT BETWEEN 以及无法识别的谓词不参与分片
	return [][]statement.Expr{nil}, true
}

// constraint is the set of values a column may take inside one branch.
type constraint struct {
	values []any
	rng    *algorithm.Range
}

func tableConditions(stmt *statement.Context, tr *metadata.TableRule, branches [][]statement.Expr) (*TableConditions, error) {
	names := stmt.Aliases(tr.LogicTable)
	tc := &TableConditions{}
	for _, branch := range branches {
		cons := map[string]*constraint{}
		var order []string
		contradiction := false
		for _, a := range branch {
			col, next, err := toConstraint(a, stmt.Params)
			if err != nil {
				return nil, errors.Wrap(err, tr.LogicTable)
			}
			if next == nil || !tr.IsShardingColumn(col.Name) || !matchQualifier(col.Qualifier, names) {
				continue
			}
			cur, seen := cons[col.Name]
			if !seen {
				cons[col.Name] = next
				order = append(order, col.Name)
				continue
			}
			merged, nonEmpty, err := intersect(cur, next)
			if err != nil {
				return nil, errors.Wrapf(algorithm.ErrValueType, "%s.%s: %v", tr.LogicTable, col.Name, err)
			}
			if !nonEmpty {
				contradiction = true
				break
			}
			cons[col.Name] = merged
		}
		if contradiction {
			continue
		}
		if len(order) == 0 {
			// 任一分支没有分片值即全路由
			return &TableConditions{}, nil
		}
		cond := Condition{Table: tr.LogicTable}
		for _, name := range order {
			c := cons[name]
			cv := algorithm.ColumnValues{Column: name, Values: c.values}
			if c.rng != nil {
				r := *c.rng
				cv.Range = &r
			}
			cond.Values = append(cond.Values, cv)
		}
		tc.Conditions = append(tc.Conditions, cond)
	}
	if len(tc.Conditions) == 0 {
		tc.AlwaysFalse = true
	}
	return tc, nil
}

func matchQualifier(qualifier string, names []string) bool {
	if qualifier == "" {
		return true
	}
	for _, n := range names {
		if n == qualifier {
			return true
		}
	}
	return false
}

// toConstraint resolves an atom; a nil constraint means the atom is unusable.
func toConstraint(a statement.Expr, params []any) (statement.Column, *constraint, error) {
	switch e := a.(type) {
	case *statement.CompareExpr:
		v, err := e.Value.Resolve(params)
		if err != nil || v == nil {
			return e.Column, nil, ignoreOpaque(err)
		}
		v = compare.Normalize(v)
		var r algorithm.Range
		switch e.Operator {
		case "=":
			return e.Column, &constraint{values: []any{v}}, nil
		case "<":
			r = algorithm.AtMost(v, false)
		case "<=":
			r = algorithm.AtMost(v, true)
		case ">":
			r = algorithm.AtLeast(v, false)
		case ">=":
			r = algorithm.AtLeast(v, true)
		default:
			return e.Column, nil, nil
		}
		return e.Column, &constraint{rng: &r}, nil
	case *statement.InExpr:
		var values []any
		seen := map[string]bool{}
		for _, item := range e.Values {
			v, err := item.Resolve(params)
			if err != nil {
				return e.Column, nil, ignoreOpaque(err)
			}
			if v == nil {
				continue
			}
			v = compare.Normalize(v)
			if k := compare.Key([]any{v}); !seen[k] {
				seen[k] = true
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return e.Column, nil, nil
		}
		return e.Column, &constraint{values: values}, nil
	case *statement.BetweenExpr:
		from, err := e.From.Resolve(params)
		if err != nil || from == nil {
			return e.Column, nil, ignoreOpaque(err)
		}
		to, err := e.To.Resolve(params)
		if err != nil || to == nil {
			return e.Column, nil, ignoreOpaque(err)
		}
		r := algorithm.Closed(compare.Normalize(from), compare.Normalize(to))
		return e.Column, &constraint{rng: &r}, nil
	}
	return statement.Column{}, nil, nil
}

func ignoreOpaque(err error) error {
	if errors.Is(err, statement.ErrOpaqueValue) {
		return nil
	}
	return err
}

func intersect(a, b *constraint) (*constraint, bool, error) {
	switch {
	case a.rng != nil && b.rng != nil:
		r, ok, err := a.rng.Intersect(*b.rng)
		if err != nil || !ok {
			return nil, false, err
		}
		return &constraint{rng: &r}, true, nil
	case a.rng != nil:
		return filterValues(b.values, *a.rng)
	case b.rng != nil:
		return filterValues(a.values, *b.rng)
	}
	var out []any
	for _, x := range a.values {
		for _, y := range b.values {
			if compare.Equal(x, y) {
				out = append(out, x)
				break
			}
		}
	}
	return &constraint{values: out}, len(out) > 0, nil
}

func filterValues(values []any, r algorithm.Range) (*constraint, bool, error) {
	var out []any
	for _, v := range values {
		in, err := r.Contains(v)
		if err != nil {
			return nil, false, err
		}
		if in {
			out = append(out, v)
		}
	}
	return &constraint{values: out}, len(out) > 0, nil
}
