package algorithm

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/util/str"
)

var (
	// ErrValueType 分片值类型与算法不匹配
	ErrValueType = errors.New("sharding value type mismatch")
	// ErrRangeNotSupported 算法不支持范围分片
	ErrRangeNotSupported = errors.New("range sharding not supported")
	// ErrInvalidProps 算法配置错误
	ErrInvalidProps = errors.New("invalid algorithm properties")
	// ErrNoTarget 分片结果没有对应的目标
	ErrNoTarget = errors.New("no sharding target for value")
)

// Kind classifies an algorithm by the sharding values it accepts.
type Kind int

const (
	KindStandard Kind = iota
	KindComplex
	KindHint
)

func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindComplex:
		return "complex"
	case KindHint:
		return "hint"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Algorithm is implemented by every sharding algorithm.
type Algorithm interface {
	Type() string
}

// StandardAlgorithm shards on a single column. DoPrecise must return exactly
// one target and be a pure function of the value and the configuration.
type StandardAlgorithm interface {
	Algorithm
	DoPrecise(targets []string, value PreciseValue) (string, error)
	DoRange(targets []string, value RangeValue) ([]string, error)
}

// ComplexAlgorithm shards on several columns at once.
type ComplexAlgorithm interface {
	Algorithm
	DoComplex(targets []string, value ComplexValue) ([]string, error)
}

// HintAlgorithm ignores row values and shards on hint values.
type HintAlgorithm interface {
	Algorithm
	DoHint(targets []string, value HintValue) ([]string, error)
}

// Partitioned is implemented by algorithms that map values onto a fixed
// number of suffix-numbered targets 0..Partitions()-1.
type Partitioned interface {
	Partitions() int
}

// Props 算法配置属性
type Props map[string]string

// String returns the trimmed property or def when absent.
func (p Props) String(key, def string) string {
	if v, ok := p[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// Int returns a required integer property.
func (p Props) Int(key string) (int64, error) {
	v, ok := p[key]
	if !ok {
		return 0, errors.Wrapf(ErrInvalidProps, "%s is required", key)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidProps, "%s: %v", key, err)
	}
	return n, nil
}

// Bool returns a boolean property, false when absent.
func (p Props) Bool(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(p[key]))
	return b
}

// targetBySuffix 按名称末尾数字匹配目标, 例如 index 1 -> t_order_1
func targetBySuffix(targets []string, index int64) (string, bool) {
	for _, t := range targets {
		if n, ok := str.Suffix(t); ok && n == index {
			return t, true
		}
	}
	return "", false
}

// preciseTarget is targetBySuffix for DoPrecise: a missing target is an error.
func preciseTarget(targets []string, index int64, name string, value PreciseValue) (string, error) {
	if t, ok := targetBySuffix(targets, index); ok {
		return t, nil
	}
	return "", errors.Wrapf(ErrNoTarget, "%s on %s.%s: %v -> %d, targets %v", name, value.Table, value.Column, value.Value, index, targets)
}

// targetsBySuffix keeps the targets whose suffix satisfies keep, in order.
func targetsBySuffix(targets []string, keep func(int64) bool) []string {
	var out []string
	for _, t := range targets {
		if n, ok := str.Suffix(t); ok && keep(n) {
			out = append(out, t)
		}
	}
	return out
}
