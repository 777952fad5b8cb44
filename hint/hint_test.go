package hint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValues(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	parent := WithTableValues(context.Background(), "T_ORDER", 1)
	child := WithTableValues(parent, "t_order", 2)
	child = WithDatabaseValues(child, "t_order", 0)
	child = WithDataSource(WithPrimary(child), "ds_1")

	pv, ok := FromContext(parent)
	require.True(t, ok)
	assert.Equal(t, []any{1}, pv.TableHints("t_order"))
	assert.Empty(t, pv.DatabaseHints("t_order"))
	assert.False(t, pv.PrimaryOnly)

	cv, ok := FromContext(child)
	require.True(t, ok)
	assert.Equal(t, []any{1, 2}, cv.TableHints("t_order"))
	assert.Equal(t, []any{0}, cv.DatabaseHints("T_Order"))
	assert.Equal(t, "ds_1", cv.DataSource)
	assert.True(t, cv.PrimaryOnly)
}
