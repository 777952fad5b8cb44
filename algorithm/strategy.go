package algorithm

import (
	"strings"

	"github.com/pkg/errors"
)

// StrategyKind is the closed set of sharding strategies.
type StrategyKind int

const (
	StrategyNone StrategyKind = iota
	StrategyStandard
	StrategyComplex
	StrategyHint
)

func (k StrategyKind) String() string {
	switch k {
	case StrategyNone:
		return "none"
	case StrategyStandard:
		return "standard"
	case StrategyComplex:
		return "complex"
	case StrategyHint:
		return "hint"
	}
	return "unknown"
}

// Strategy binds an algorithm to the column(s) it shards on.
type Strategy struct {
	kind     StrategyKind
	columns  []string
	standard StandardAlgorithm
	complex  ComplexAlgorithm
	hint     HintAlgorithm
}

// NoneStrategy routes to every available target.
func NoneStrategy() *Strategy {
	return &Strategy{kind: StrategyNone}
}

// NewStandardStrategy shards on one column.
func NewStandardStrategy(column string, a StandardAlgorithm) *Strategy {
	return &Strategy{kind: StrategyStandard, columns: []string{column}, standard: a}
}

// NewComplexStrategy shards on several columns.
func NewComplexStrategy(columns []string, a ComplexAlgorithm) *Strategy {
	return &Strategy{kind: StrategyComplex, columns: columns, complex: a}
}

// NewHintStrategy shards on hint values only.
func NewHintStrategy(a HintAlgorithm) *Strategy {
	return &Strategy{kind: StrategyHint, hint: a}
}

// NewStrategy wraps an algorithm created by a Registry in the strategy its
// kind requires.
func NewStrategy(kind Kind, columns []string, a Algorithm) (*Strategy, error) {
	switch kind {
	case KindStandard:
		sa, ok := a.(StandardAlgorithm)
		if !ok || len(columns) != 1 {
			return nil, errors.Wrapf(ErrInvalidProps, "standard strategy %s needs one column, got %v", a.Type(), columns)
		}
		return NewStandardStrategy(columns[0], sa), nil
	case KindComplex:
		ca, ok := a.(ComplexAlgorithm)
		if !ok || len(columns) == 0 {
			return nil, errors.Wrapf(ErrInvalidProps, "complex strategy %s needs columns", a.Type())
		}
		return NewComplexStrategy(columns, ca), nil
	case KindHint:
		ha, ok := a.(HintAlgorithm)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidProps, "%s is not a hint algorithm", a.Type())
		}
		return NewHintStrategy(ha), nil
	}
	return nil, errors.Wrapf(ErrInvalidProps, "unknown algorithm kind %v", kind)
}

// Kind returns the strategy kind.
func (s *Strategy) Kind() StrategyKind {
	if s == nil {
		return StrategyNone
	}
	return s.kind
}

// Columns returns the sharding columns.
func (s *Strategy) Columns() []string {
	if s == nil {
		return nil
	}
	return s.columns
}

// CheckTargets verifies that every partition of a partitioned algorithm has
// a target in targets.
func (s *Strategy) CheckTargets(targets []string) error {
	if s.Kind() != StrategyStandard {
		return nil
	}
	p, ok := s.standard.(Partitioned)
	if !ok {
		return nil
	}
	for i := 0; i < p.Partitions(); i++ {
		if _, ok := targetBySuffix(targets, int64(i)); !ok {
			return errors.Wrapf(ErrNoTarget, "%s partition %d has no target in %v", s.standard.Type(), i, targets)
		}
	}
	return nil
}

// Shard selects targets for one condition branch. values are the column
// values of that branch and hints the hint values for the table; the result is
// always a subset of targets in targets order.
func (s *Strategy) Shard(targets []string, table string, values []ColumnValues, hints []any) ([]string, error) {
	var (
		selected []string
		err      error
	)
	switch s.Kind() {
	case StrategyNone:
		return targets, nil
	case StrategyStandard:
		selected, err = s.shardStandard(targets, table, values)
	case StrategyComplex:
		selected, err = s.shardComplex(targets, table, values)
	case StrategyHint:
		selected, err = s.shardHint(targets, table, hints)
	}
	if err != nil {
		return nil, err
	}
	return intersect(targets, selected), nil
}

func (s *Strategy) shardStandard(targets []string, table string, values []ColumnValues) ([]string, error) {
	cv, ok := findColumn(values, s.columns[0])
	if !ok {
		return targets, nil
	}
	if cv.Range != nil {
		return s.standard.DoRange(targets, RangeValue{Table: table, Column: s.columns[0], Range: *cv.Range})
	}
	out := make([]string, 0, len(cv.Values))
	for _, v := range cv.Values {
		t, err := s.standard.DoPrecise(targets, PreciseValue{Table: table, Column: s.columns[0], Value: v})
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Strategy) shardComplex(targets []string, table string, values []ColumnValues) ([]string, error) {
	lists := make([][]any, len(s.columns))
	for i, col := range s.columns {
		cv, ok := findColumn(values, col)
		if !ok || cv.Range != nil {
			return targets, nil
		}
		lists[i] = cv.Values
	}
	var out []string
	err := cartesian(lists, func(tuple []any) error {
		m := make(map[string]any, len(tuple))
		for i, v := range tuple {
			m[s.columns[i]] = v
		}
		ts, err := s.complex.DoComplex(targets, ComplexValue{Table: table, Values: m})
		out = append(out, ts...)
		return err
	})
	return out, err
}

func (s *Strategy) shardHint(targets []string, table string, hints []any) ([]string, error) {
	if len(hints) == 0 {
		return targets, nil
	}
	var out []string
	for _, v := range hints {
		ts, err := s.hint.DoHint(targets, HintValue{Table: table, Value: v})
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	return out, nil
}

func findColumn(values []ColumnValues, column string) (ColumnValues, bool) {
	for _, v := range values {
		if strings.EqualFold(v.Column, column) {
			return v, true
		}
	}
	return ColumnValues{}, false
}

// cartesian calls fn for every combination picking one value from each list.
func cartesian(lists [][]any, fn func([]any) error) error {
	tuple := make([]any, len(lists))
	var walk func(int) error
	walk = func(i int) error {
		if i == len(lists) {
			return fn(tuple)
		}
		for _, v := range lists[i] {
			tuple[i] = v
			if err := walk(i + 1); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(0)
}

// intersect keeps the targets that were selected, in targets order.
func intersect(targets, selected []string) []string {
	if len(selected) == 0 {
		return nil
	}
	hit := make(map[string]bool, len(selected))
	for _, s := range selected {
		hit[strings.ToLower(s)] = true
	}
	out := make([]string, 0, len(selected))
	for _, t := range targets {
		if hit[strings.ToLower(t)] {
			out = append(out, t)
		}
	}
	return out
}
