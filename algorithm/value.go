package algorithm

import (
	"fmt"
	"strings"

	"gorm/shardroute/util/compare"
)

// Bound is one end of a Range.
type Bound struct {
	Value     any
	Inclusive bool
}

// Range is a possibly half-open interval of sharding values.
// A nil bound means the range is unbounded on that side.
type Range struct {
	Lower *Bound
	Upper *Bound
}

// AtLeast returns [v, +inf) or (v, +inf).
func AtLeast(v any, inclusive bool) Range {
	return Range{Lower: &Bound{Value: v, Inclusive: inclusive}}
}

// AtMost returns (-inf, v] or (-inf, v).
func AtMost(v any, inclusive bool) Range {
	return Range{Upper: &Bound{Value: v, Inclusive: inclusive}}
}

// Closed returns [lower, upper].
func Closed(lower, upper any) Range {
	return Range{Lower: &Bound{Value: lower, Inclusive: true}, Upper: &Bound{Value: upper, Inclusive: true}}
}

// Contains reports whether v falls inside the range.
func (r Range) Contains(v any) (bool, error) {
	if r.Lower != nil {
		c, err := compare.Values(v, r.Lower.Value)
		if err != nil {
			return false, err
		}
		if c < 0 || (c == 0 && !r.Lower.Inclusive) {
			return false, nil
		}
	}
	if r.Upper != nil {
		c, err := compare.Values(v, r.Upper.Value)
		if err != nil {
			return false, err
		}
		if c > 0 || (c == 0 && !r.Upper.Inclusive) {
			return false, nil
		}
	}
	return true, nil
}

// Intersect returns the intersection of r and o. The boolean result is false
// when the intersection is empty.
func (r Range) Intersect(o Range) (Range, bool, error) {
	lower, err := tighter(r.Lower, o.Lower, 1)
	if err != nil {
		return Range{}, false, err
	}
	upper, err := tighter(r.Upper, o.Upper, -1)
	if err != nil {
		return Range{}, false, err
	}
	out := Range{Lower: lower, Upper: upper}
	if lower != nil && upper != nil {
		c, err := compare.Values(lower.Value, upper.Value)
		if err != nil {
			return Range{}, false, err
		}
		if c > 0 || (c == 0 && !(lower.Inclusive && upper.Inclusive)) {
			return Range{}, false, nil
		}
	}
	return out, true, nil
}

// tighter picks the more restrictive bound; dir is 1 for lower bounds and -1
// for upper bounds.
func tighter(a, b *Bound, dir int) (*Bound, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	c, err := compare.Values(a.Value, b.Value)
	if err != nil {
		return nil, err
	}
	switch {
	case c*dir > 0:
		return a, nil
	case c*dir < 0:
		return b, nil
	}
	return &Bound{Value: a.Value, Inclusive: a.Inclusive && b.Inclusive}, nil
}

func (r Range) String() string {
	var b strings.Builder
	if r.Lower == nil {
		b.WriteString("(-inf")
	} else if r.Lower.Inclusive {
		fmt.Fprintf(&b, "[%v", r.Lower.Value)
	} else {
		fmt.Fprintf(&b, "(%v", r.Lower.Value)
	}
	b.WriteString("..")
	if r.Upper == nil {
		b.WriteString("+inf)")
	} else if r.Upper.Inclusive {
		fmt.Fprintf(&b, "%v]", r.Upper.Value)
	} else {
		fmt.Fprintf(&b, "%v)", r.Upper.Value)
	}
	return b.String()
}

// ColumnValues are the sharding values extracted for one column of one
// condition branch: a list of precise values, or a single range when Range is
// set.
type ColumnValues struct {
	Column string
	Values []any
	Range  *Range
}

func (c ColumnValues) String() string {
	if c.Range != nil {
		return fmt.Sprintf("%s in %s", c.Column, c.Range)
	}
	return fmt.Sprintf("%s=%v", c.Column, c.Values)
}

// PreciseValue is a single sharding value for one column.
type PreciseValue struct {
	Table  string
	Column string
	Value  any
}

// RangeValue is a range of sharding values for one column.
type RangeValue struct {
	Table  string
	Column string
	Range  Range
}

// ComplexValue carries one precise value per sharding column.
type ComplexValue struct {
	Table  string
	Values map[string]any
}

// HintValue carries a value pinned by the hint manager.
type HintValue struct {
	Table string
	Value any
}
