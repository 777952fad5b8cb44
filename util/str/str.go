package str

import (
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

var trailingDigits = regexp.MustCompile(`(\d+)$`)

// Hashcode 计算字符串的hashcode, 与java String.hashCode一致
func Hashcode(s string) int32 {
	var hash int32 = 0
	for _, c := range s {
		hash = c + ((hash << 5) - hash)
	}
	return hash
}

// HashMode 计算字符串的hashcode后取余
func HashMode(s string, num int32) int {
	mod := Hashcode(s) % num
	if mod < 0 {
		mod = -mod
	}
	return int(mod)
}

// Suffix 取名称末尾的数字, 例如 t_order_12 -> 12
func Suffix(name string) (int64, bool) {
	m := trailingDigits.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ConvertStrToStruct 字符串转对象
func ConvertStrToStruct(str string, v any) error {
	if err := json.Unmarshal([]byte(str), v); err != nil {
		return errors.Wrap(err, "unmarshal")
	}
	return nil
}
