package algorithm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/pkg/errors"

	"gorm/shardroute/util/compare"
	"gorm/shardroute/util/str"
)

// expressionFunctions 表达式中可用的函数
var expressionFunctions = map[string]govaluate.ExpressionFunction{
	"parse": func(args ...interface{}) (interface{}, error) {
		s := ""
		for _, arg := range args {
			s += format(arg)
		}
		return s, nil
	},
	"hashcode": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.New("hashcode expects one argument")
		}
		return float64(str.Hashcode(format(args[0]))), nil
	},
	"mod": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, errors.New("mod expects two arguments")
		}
		a, ok1 := compare.Int64(args[0])
		b, ok2 := compare.Int64(args[1])
		if !ok1 || !ok2 || b == 0 {
			return nil, errors.Errorf("mod: invalid arguments %v, %v", args[0], args[1])
		}
		m := a % b
		if m < 0 {
			m = -m
		}
		return float64(m), nil
	},
}

// template is a compiled inline expression such as t_order_${order_id % 2}.
// Text outside ${} is copied verbatim; each ${} is evaluated with govaluate.
type template struct {
	source string
	parts  []templatePart
}

type templatePart struct {
	text string
	expr *govaluate.EvaluableExpression
}

func compileTemplate(source string) (*template, error) {
	t := &template{source: source}
	rest := source
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			if rest != "" {
				t.parts = append(t.parts, templatePart{text: rest})
			}
			break
		}
		if start > 0 {
			t.parts = append(t.parts, templatePart{text: rest[:start]})
		}
		end := closingBrace(rest, start+2)
		if end < 0 {
			return nil, errors.Wrapf(ErrInvalidProps, "unclosed ${ in %q", source)
		}
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(rest[start+2:end], expressionFunctions)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidProps, "expression %q: %v", source, err)
		}
		t.parts = append(t.parts, templatePart{expr: expr})
		rest = rest[end+1:]
	}
	return t, nil
}

func closingBrace(s string, from int) int {
	depth := 1
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Vars returns the variable names referenced by the template.
func (t *template) Vars() []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range t.parts {
		if p.expr == nil {
			continue
		}
		for _, v := range p.expr.Vars() {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

func (t *template) evaluate(params map[string]interface{}) (string, error) {
	// govaluate只对float64做算术运算
	converted := make(map[string]interface{}, len(params))
	for k, v := range params {
		if n, ok := compare.Number(v); ok {
			if _, isString := compare.Normalize(v).(string); !isString {
				f, _ := compare.Float64(n)
				converted[k] = f
				continue
			}
		}
		converted[k] = compare.Normalize(v)
	}
	var b strings.Builder
	for _, p := range t.parts {
		if p.expr == nil {
			b.WriteString(p.text)
			continue
		}
		v, err := p.expr.Evaluate(converted)
		if err != nil {
			return "", errors.Wrapf(ErrValueType, "evaluate %q: %v", t.source, err)
		}
		b.WriteString(format(v))
	}
	return b.String(), nil
}

func format(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	}
	return fmt.Sprintf("%v", v)
}
