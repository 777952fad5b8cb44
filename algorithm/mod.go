package algorithm

import (
	"github.com/cespare/xxhash"
	"github.com/pkg/errors"

	"gorm/shardroute/util/compare"
	"gorm/shardroute/util/str"
)

// ModAlgorithm routes an integer value to the target whose suffix equals
// value % sharding-count.
type ModAlgorithm struct {
	count int64
}

// NewMod builds MOD from props.
func NewMod(props Props) (Algorithm, error) {
	count, err := shardingCount(props)
	if err != nil {
		return nil, err
	}
	return &ModAlgorithm{count: count}, nil
}

func shardingCount(props Props) (int64, error) {
	count, err := props.Int("sharding-count")
	if err != nil {
		return 0, err
	}
	if count <= 0 {
		return 0, errors.Wrapf(ErrInvalidProps, "sharding-count must be positive, got %d", count)
	}
	return count, nil
}

func (a *ModAlgorithm) Type() string { return "MOD" }

func (a *ModAlgorithm) Partitions() int { return int(a.count) }

func (a *ModAlgorithm) DoPrecise(targets []string, value PreciseValue) (string, error) {
	v, ok := compare.Int64(value.Value)
	if !ok {
		return "", errors.Wrapf(ErrValueType, "MOD on %s.%s: %T(%v)", value.Table, value.Column, value.Value, value.Value)
	}
	return preciseTarget(targets, a.mod(v), "MOD", value)
}

func (a *ModAlgorithm) mod(v int64) int64 {
	m := v % a.count
	if m < 0 {
		m = -m
	}
	return m
}

// DoRange enumerates bounded ranges that are shorter than the modulus and
// falls back to every target otherwise.
func (a *ModAlgorithm) DoRange(targets []string, value RangeValue) ([]string, error) {
	r := value.Range
	if r.Lower == nil || r.Upper == nil {
		return targets, nil
	}
	lower, ok1 := compare.Int64(r.Lower.Value)
	upper, ok2 := compare.Int64(r.Upper.Value)
	if !ok1 || !ok2 {
		return nil, errors.Wrapf(ErrValueType, "MOD range on %s.%s: %s", value.Table, value.Column, r)
	}
	if !r.Lower.Inclusive {
		lower++
	}
	if !r.Upper.Inclusive {
		upper--
	}
	if upper < lower {
		return nil, nil
	}
	if d := upper - lower; d < 0 || d+1 >= a.count {
		return targets, nil
	}
	hit := map[int64]bool{}
	for v := lower; v <= upper; v++ {
		hit[a.mod(v)] = true
	}
	return targetsBySuffix(targets, func(n int64) bool { return hit[n] }), nil
}

// HashModAlgorithm hashes the string form of the value with the java-style
// hashcode before taking the modulus.
type HashModAlgorithm struct {
	count int64
}

// NewHashMod builds HASH_MOD from props.
func NewHashMod(props Props) (Algorithm, error) {
	count, err := shardingCount(props)
	if err != nil {
		return nil, err
	}
	return &HashModAlgorithm{count: count}, nil
}

func (a *HashModAlgorithm) Type() string { return "HASH_MOD" }

func (a *HashModAlgorithm) Partitions() int { return int(a.count) }

func (a *HashModAlgorithm) DoPrecise(targets []string, value PreciseValue) (string, error) {
	if value.Value == nil {
		return "", errors.Wrapf(ErrValueType, "HASH_MOD on %s.%s: NULL", value.Table, value.Column)
	}
	idx := str.HashMode(format(compare.Normalize(value.Value)), int32(a.count))
	return preciseTarget(targets, int64(idx), "HASH_MOD", value)
}

func (a *HashModAlgorithm) DoRange(targets []string, _ RangeValue) ([]string, error) {
	return targets, nil
}

// XXHashModAlgorithm is HASH_MOD with xxhash64 as the hash function.
type XXHashModAlgorithm struct {
	count uint64
}

// NewXXHashMod builds XXHASH_MOD from props.
func NewXXHashMod(props Props) (Algorithm, error) {
	count, err := shardingCount(props)
	if err != nil {
		return nil, err
	}
	return &XXHashModAlgorithm{count: uint64(count)}, nil
}

func (a *XXHashModAlgorithm) Type() string { return "XXHASH_MOD" }

func (a *XXHashModAlgorithm) Partitions() int { return int(a.count) }

func (a *XXHashModAlgorithm) DoPrecise(targets []string, value PreciseValue) (string, error) {
	if value.Value == nil {
		return "", errors.Wrapf(ErrValueType, "XXHASH_MOD on %s.%s: NULL", value.Table, value.Column)
	}
	sum := xxhash.Sum64([]byte(format(compare.Normalize(value.Value))))
	return preciseTarget(targets, int64(sum%a.count), "XXHASH_MOD", value)
}

func (a *XXHashModAlgorithm) DoRange(targets []string, _ RangeValue) ([]string, error) {
	return targets, nil
}
