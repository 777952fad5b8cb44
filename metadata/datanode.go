package metadata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidRule 分片规则配置错误
var ErrInvalidRule = errors.New("invalid sharding rule")

// DataNode 实际数据节点: 数据源 + 实际表
type DataNode struct {
	DataSource string
	Table      string
}

// ParseDataNode parses "ds_0.t_order_0".
func ParseDataNode(s string) (DataNode, error) {
	s = strings.TrimSpace(s)
	i := strings.Index(s, ".")
	if i <= 0 || i == len(s)-1 || strings.Count(s, ".") != 1 {
		return DataNode{}, errors.Wrapf(ErrInvalidRule, "data node %q must be <datasource>.<table>", s)
	}
	return DataNode{DataSource: s[:i], Table: s[i+1:]}, nil
}

func (n DataNode) String() string {
	return n.DataSource + "." + n.Table
}

func (n DataNode) key() DataNode {
	return DataNode{DataSource: strings.ToLower(n.DataSource), Table: strings.ToLower(n.Table)}
}

// ParseDataNodes expands an inline expression and parses every result.
func ParseDataNodes(expr string) ([]DataNode, error) {
	names, err := ExpandInline(expr)
	if err != nil {
		return nil, err
	}
	nodes := make([]DataNode, 0, len(names))
	for _, name := range names {
		n, err := ParseDataNode(name)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// ExpandInline 展开行表达式
//
//	ds_${0..1}.t_order_${0..1} -> ds_0.t_order_0, ds_0.t_order_1, ds_1.t_order_0, ds_1.t_order_1
//	t_${['a','b']}, t_${x, y}   -> 列表
//
// Comma separated segments are expanded one after another, each as the
// Cartesian product of its ${} groups from left to right.
func ExpandInline(expr string) ([]string, error) {
	var out []string
	for _, segment := range splitTopLevel(expr) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		names, err := expandSegment(segment)
		if err != nil {
			return nil, errors.Wrapf(err, "expand %q", expr)
		}
		out = append(out, names...)
	}
	return out, nil
}

func splitTopLevel(expr string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, expr[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, expr[start:])
}

func expandSegment(segment string) ([]string, error) {
	results := []string{""}
	rest := segment
	for rest != "" {
		start := strings.Index(rest, "${")
		if start < 0 {
			results = appendAll(results, []string{rest})
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			return nil, errors.Wrapf(ErrInvalidRule, "unclosed ${ in %q", segment)
		}
		end += start
		values, err := expandGroup(rest[start+2 : end])
		if err != nil {
			return nil, err
		}
		results = appendAll(results, []string{rest[:start]})
		results = appendAll(results, values)
		rest = rest[end+1:]
	}
	return results, nil
}

func appendAll(prefixes, suffixes []string) []string {
	out := make([]string, 0, len(prefixes)*len(suffixes))
	for _, p := range prefixes {
		for _, s := range suffixes {
			out = append(out, p+s)
		}
	}
	return out
}

func expandGroup(group string) ([]string, error) {
	group = strings.TrimSpace(group)
	if lo, hi, ok := strings.Cut(group, ".."); ok {
		return expandRange(strings.TrimSpace(lo), strings.TrimSpace(hi))
	}
	group = strings.TrimSuffix(strings.TrimPrefix(group, "["), "]")
	var out []string
	for _, v := range strings.Split(group, ",") {
		v = strings.Trim(strings.TrimSpace(v), `'"`)
		if v == "" {
			return nil, errors.Wrapf(ErrInvalidRule, "empty value in ${%s}", group)
		}
		out = append(out, v)
	}
	return out, nil
}

// expandRange expands a..b; a zero padded lower bound such as 00 keeps its width.
func expandRange(lo, hi string) ([]string, error) {
	from, err1 := strconv.Atoi(lo)
	to, err2 := strconv.Atoi(hi)
	if err1 != nil || err2 != nil {
		return nil, errors.Wrapf(ErrInvalidRule, "range %s..%s is not numeric", lo, hi)
	}
	if to < from {
		return nil, errors.Wrapf(ErrInvalidRule, "range %s..%s is descending", lo, hi)
	}
	width := 0
	if len(lo) > 1 && lo[0] == '0' {
		width = len(lo)
	}
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("%0*d", width, i))
	}
	return out, nil
}
