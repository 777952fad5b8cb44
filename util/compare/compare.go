package compare

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrIncomparable 两个值的类型无法比较
var ErrIncomparable = errors.New("incomparable values")

// Normalize 把驱动返回的值统一成少数几种类型:
// 整数 -> int64, 浮点 -> float64, []byte -> string
func Normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return normalizeUint(uint64(n))
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return normalizeUint(n)
	case float32:
		return float64(n)
	case []byte:
		if n == nil {
			return nil
		}
		return string(n)
	}
	return v
}

func normalizeUint(n uint64) any {
	if n > math.MaxInt64 {
		return float64(n)
	}
	return int64(n)
}

// Fold compares strings the way a case-insensitive collation orders them.
func Fold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// Values compares a and b. NULL sorts before every other value.
func Values(a, b any) (int, error) {
	a, b = Normalize(a), Normalize(b)
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return -1, nil
	case b == nil:
		return 1, nil
	}
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return compareInt(x, y), nil
		case float64:
			return compareFloat(float64(x), y), nil
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return compareFloat(x, float64(y)), nil
		case float64:
			return compareFloat(x, y), nil
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			}
			return 1, nil
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	}
	return 0, errors.Wrapf(ErrIncomparable, "%T and %T", a, b)
}

// Equal reports whether a and b compare equal.
func Equal(a, b any) bool {
	c, err := Values(a, b)
	return err == nil && c == 0
}

// Number returns the numeric view of v as int64 or float64.
// Numeric strings are parsed; anything else reports false.
func Number(v any) (any, bool) {
	switch n := Normalize(v).(type) {
	case int64, float64:
		return n, true
	case bool:
		if n {
			return int64(1), true
		}
		return int64(0), true
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return nil, false
}

// Int64 returns v as an int64 when it is an integral number.
func Int64(v any) (int64, bool) {
	n, ok := Number(v)
	if !ok {
		return 0, false
	}
	switch x := n.(type) {
	case int64:
		return x, true
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<63 {
			return int64(x), true
		}
	}
	return 0, false
}

// Float64 returns v as a float64.
func Float64(v any) (float64, bool) {
	n, ok := Number(v)
	if !ok {
		return 0, false
	}
	if i, ok := n.(int64); ok {
		return float64(i), true
	}
	return n.(float64), true
}

// Key 生成可作为map key的值表示, 不同类型的值不会冲突
func Key(values []any) string {
	var buf bytes.Buffer
	for _, v := range values {
		switch x := Normalize(v).(type) {
		case nil:
			buf.WriteString("n;")
		case int64:
			buf.WriteString("i")
			buf.WriteString(strconv.FormatInt(x, 10))
			buf.WriteByte(';')
		case float64:
			if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
				buf.WriteString("i")
				buf.WriteString(strconv.FormatInt(int64(x), 10))
			} else {
				buf.WriteString("f")
				buf.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
			}
			buf.WriteByte(';')
		case string:
			buf.WriteString("s")
			buf.WriteString(strconv.Quote(x))
			buf.WriteByte(';')
		case time.Time:
			buf.WriteString("t")
			buf.WriteString(x.UTC().Format(time.RFC3339Nano))
			buf.WriteByte(';')
		default:
			buf.WriteString("v")
			buf.WriteString(strconv.Quote(fmt.Sprint(x)))
			buf.WriteByte(';')
		}
	}
	return buf.String()
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
