package str

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashcode(t *testing.T) {
	assert.Equal(t, int32(0), Hashcode(""))
	assert.Equal(t, int32(97), Hashcode("a"))
	assert.Equal(t, int32(99162322), Hashcode("hello"))
	assert.Equal(t, 1, HashMode("a", 2))
}

func TestSuffix(t *testing.T) {
	n, ok := Suffix("t_order_12")
	require.True(t, ok)
	assert.Equal(t, int64(12), n)

	_, ok = Suffix("t_order")
	assert.False(t, ok)
}

func TestConvertStrToStruct(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	require.NoError(t, ConvertStrToStruct(`{"name":"ds_0"}`, &v))
	assert.Equal(t, "ds_0", v.Name)
	assert.Error(t, ConvertStrToStruct(`{`, &v))
}
