package algorithm

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/util/compare"
)

// BoundaryRangeAlgorithm partitions values into len(boundaries)+1 buckets:
// bucket 0 holds values below boundaries[0], bucket i holds
// [boundaries[i-1], boundaries[i]) and the last bucket holds everything at or
// above the last boundary. Bucket i is the target with suffix i.
type BoundaryRangeAlgorithm struct {
	name       string
	boundaries []any
}

// NewBoundaryRange builds BOUNDARY_RANGE from props.
func NewBoundaryRange(props Props) (Algorithm, error) {
	raw := props.String("sharding-ranges", "")
	if raw == "" {
		return nil, errors.Wrap(ErrInvalidProps, "sharding-ranges is required")
	}
	var boundaries []any
	for _, s := range strings.Split(raw, ",") {
		n, ok := compare.Number(s)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidProps, "sharding-ranges: %q is not a number", s)
		}
		boundaries = append(boundaries, n)
	}
	return newBoundaryRange("BOUNDARY_RANGE", boundaries)
}

func newBoundaryRange(name string, boundaries []any) (*BoundaryRangeAlgorithm, error) {
	for i := 1; i < len(boundaries); i++ {
		c, err := compare.Values(boundaries[i-1], boundaries[i])
		if err != nil {
			return nil, errors.Wrap(ErrInvalidProps, err.Error())
		}
		if c >= 0 {
			return nil, errors.Wrapf(ErrInvalidProps, "boundaries must be strictly increasing: %v", boundaries)
		}
	}
	return &BoundaryRangeAlgorithm{name: name, boundaries: boundaries}, nil
}

func (a *BoundaryRangeAlgorithm) Type() string { return a.name }

// Partitions returns the number of buckets the boundaries produce.
func (a *BoundaryRangeAlgorithm) Partitions() int { return len(a.boundaries) + 1 }

// bucket returns the number of boundaries that are <= v.
func (a *BoundaryRangeAlgorithm) bucket(v any) (int, error) {
	n, ok := compare.Number(v)
	if !ok {
		return 0, errors.Wrapf(ErrValueType, "%s: %T(%v) is not numeric", a.name, v, v)
	}
	var err error
	idx := sort.Search(len(a.boundaries), func(i int) bool {
		c, cerr := compare.Values(a.boundaries[i], n)
		if cerr != nil {
			err = cerr
		}
		return c > 0
	})
	return idx, err
}

func (a *BoundaryRangeAlgorithm) DoPrecise(targets []string, value PreciseValue) (string, error) {
	idx, err := a.bucket(value.Value)
	if err != nil {
		return "", errors.Wrapf(err, "%s.%s", value.Table, value.Column)
	}
	return preciseTarget(targets, int64(idx), a.name, value)
}

func (a *BoundaryRangeAlgorithm) DoRange(targets []string, value RangeValue) ([]string, error) {
	r := value.Range
	first, last := 0, len(a.boundaries)
	if r.Lower != nil {
		idx, err := a.bucket(r.Lower.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", value.Table, value.Column)
		}
		first = idx
	}
	if r.Upper != nil {
		idx, err := a.bucket(r.Upper.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", value.Table, value.Column)
		}
		// an exclusive upper bound sitting on a boundary does not reach that bucket
		if !r.Upper.Inclusive && idx > 0 && compare.Equal(a.boundaries[idx-1], r.Upper.Value) {
			idx--
		}
		last = idx
	}
	if last < first {
		return nil, nil
	}
	return targetsBySuffix(targets, func(n int64) bool {
		return n >= int64(first) && n <= int64(last)
	}), nil
}

// NewVolumeRange builds VOLUME_RANGE from props. The span between range-lower
// and range-upper is cut into (upper-lower)/sharding-volume buckets (or
// sharding-count equal buckets); values below range-lower fall into bucket 0
// and values at or above range-upper into the last bucket.
func NewVolumeRange(props Props) (Algorithm, error) {
	lower, err := props.Int("range-lower")
	if err != nil {
		return nil, err
	}
	upper, err := props.Int("range-upper")
	if err != nil {
		return nil, err
	}
	if upper <= lower {
		return nil, errors.Wrapf(ErrInvalidProps, "range-upper %d must exceed range-lower %d", upper, lower)
	}
	var volume int64
	if _, ok := props["sharding-volume"]; ok {
		if volume, err = props.Int("sharding-volume"); err != nil {
			return nil, err
		}
	} else {
		count, err := props.Int("sharding-count")
		if err != nil {
			return nil, errors.Wrap(ErrInvalidProps, "sharding-volume or sharding-count is required")
		}
		if count <= 0 || (upper-lower)%count != 0 {
			return nil, errors.Wrapf(ErrInvalidProps, "span %d is not divisible into %d buckets", upper-lower, count)
		}
		volume = (upper - lower) / count
	}
	if volume <= 0 || (upper-lower)%volume != 0 {
		return nil, errors.Wrapf(ErrInvalidProps, "span %d is not divisible by volume %d", upper-lower, volume)
	}
	// only the inner boundaries, the outer buckets are open-ended
	var boundaries []any
	for b := lower + volume; b < upper; b += volume {
		boundaries = append(boundaries, b)
	}
	return newBoundaryRange("VOLUME_RANGE", boundaries)
}
