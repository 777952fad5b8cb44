package algorithm

import (
	"strings"

	"github.com/pkg/errors"
)

// InlineAlgorithm evaluates an inline expression such as
// t_order_${order_id % 2}, naming the sharding column as the variable.
type InlineAlgorithm struct {
	expr       *template
	allowRange bool
}

// NewInline builds INLINE from props.
func NewInline(props Props) (Algorithm, error) {
	expr, err := requiredTemplate(props)
	if err != nil {
		return nil, err
	}
	return &InlineAlgorithm{expr: expr, allowRange: props.Bool("allow-range-query")}, nil
}

func requiredTemplate(props Props) (*template, error) {
	src := props.String("algorithm-expression", "")
	if src == "" {
		return nil, errors.Wrap(ErrInvalidProps, "algorithm-expression is required")
	}
	return compileTemplate(src)
}

func (a *InlineAlgorithm) Type() string { return "INLINE" }

func (a *InlineAlgorithm) DoPrecise(_ []string, value PreciseValue) (string, error) {
	if value.Value == nil {
		return "", errors.Wrapf(ErrValueType, "INLINE on %s.%s: NULL", value.Table, value.Column)
	}
	return a.expr.evaluate(map[string]interface{}{
		value.Column:                  value.Value,
		strings.ToLower(value.Column): value.Value,
	})
}

func (a *InlineAlgorithm) DoRange(targets []string, value RangeValue) ([]string, error) {
	if !a.allowRange {
		return nil, errors.Wrapf(ErrRangeNotSupported, "INLINE %q on %s.%s", a.expr.source, value.Table, value.Column)
	}
	return targets, nil
}

// ComplexInlineAlgorithm evaluates an inline expression over several columns.
type ComplexInlineAlgorithm struct {
	expr    *template
	columns []string
}

// NewComplexInline builds COMPLEX_INLINE from props.
func NewComplexInline(props Props) (Algorithm, error) {
	expr, err := requiredTemplate(props)
	if err != nil {
		return nil, err
	}
	var columns []string
	for _, c := range strings.Split(props.String("sharding-columns", ""), ",") {
		if c = strings.TrimSpace(c); c != "" {
			columns = append(columns, c)
		}
	}
	if len(columns) == 0 {
		columns = expr.Vars()
	}
	return &ComplexInlineAlgorithm{expr: expr, columns: columns}, nil
}

func (a *ComplexInlineAlgorithm) Type() string { return "COMPLEX_INLINE" }

func (a *ComplexInlineAlgorithm) DoComplex(_ []string, value ComplexValue) ([]string, error) {
	params := make(map[string]interface{}, len(value.Values))
	for col, v := range value.Values {
		params[col] = v
		params[strings.ToLower(col)] = v
	}
	for _, col := range a.columns {
		if _, ok := params[col]; !ok {
			return nil, errors.Wrapf(ErrValueType, "COMPLEX_INLINE on %s: missing column %s", value.Table, col)
		}
	}
	t, err := a.expr.evaluate(params)
	if err != nil {
		return nil, err
	}
	return []string{t}, nil
}

// HintInlineAlgorithm evaluates an inline expression over a hint value,
// exposed to the expression as "value".
type HintInlineAlgorithm struct {
	expr *template
}

// NewHintInline builds HINT_INLINE from props.
func NewHintInline(props Props) (Algorithm, error) {
	expr, err := compileTemplate(props.String("algorithm-expression", "${value}"))
	if err != nil {
		return nil, err
	}
	return &HintInlineAlgorithm{expr: expr}, nil
}

func (a *HintInlineAlgorithm) Type() string { return "HINT_INLINE" }

func (a *HintInlineAlgorithm) DoHint(_ []string, value HintValue) ([]string, error) {
	t, err := a.expr.evaluate(map[string]interface{}{"value": value.Value})
	if err != nil {
		return nil, err
	}
	return []string{t}, nil
}
