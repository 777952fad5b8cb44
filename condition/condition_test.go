package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorm/shardroute/algorithm"
	"gorm/shardroute/metadata"
	"gorm/shardroute/statement"
)

func newRule(t *testing.T) *metadata.ShardingRule {
	t.Helper()
	reg := algorithm.DefaultRegistry()
	dbs, err := reg.NewStrategy("MOD", []string{"user_id"}, algorithm.Props{"sharding-count": "2"})
	require.NoError(t, err)
	tbs, err := reg.NewStrategy("MOD", []string{"order_id"}, algorithm.Props{"sharding-count": "2"})
	require.NoError(t, err)
	nodes, err := metadata.ParseDataNodes("ds_${0..1}.t_order_${0..1}")
	require.NoError(t, err)
	order, err := metadata.NewTableRule("t_order", nodes, dbs, tbs)
	require.NoError(t, err)
	rule, err := metadata.NewShardingRule([]*metadata.TableRule{order}, metadata.WithDefaultDataSource("ds_0"))
	require.NoError(t, err)
	return rule
}

func extract(t *testing.T, sql string, params ...any) *TableConditions {
	t.Helper()
	stmt, err := statement.Parse(sql)
	require.NoError(t, err)
	conds, err := Extract(stmt.Bind(params), newRule(t))
	require.NoError(t, err)
	return conds["t_order"]
}

func TestExtractPrecise(t *testing.T) {
	tc := extract(t, "select * from t_order where user_id = ? and order_id in (1, 2, 2) and remark = 'x'", 10)
	require.Len(t, tc.Conditions, 1)
	assert.Equal(t, []algorithm.ColumnValues{
		{Column: "user_id", Values: []any{int64(10)}},
		{Column: "order_id", Values: []any{int64(1), int64(2)}},
	}, tc.Conditions[0].Values)
	assert.False(t, tc.Broadcast())
}

func TestExtractOrBranches(t *testing.T) {
	tc := extract(t, "select * from t_order o where o.order_id = 1 or (o.order_id = 2 and user_id = 3)")
	require.Len(t, tc.Conditions, 2)
	assert.Equal(t, []algorithm.ColumnValues{{Column: "order_id", Values: []any{int64(1)}}}, tc.Conditions[0].Values)
	assert.Len(t, tc.Conditions[1].Values, 2)

	// 一个分支没有分片值则全路由
	tc = extract(t, "select * from t_order where order_id = 1 or remark = 'x'")
	assert.True(t, tc.Broadcast())
}

func TestExtractBroadcast(t *testing.T) {
	for _, sql := range []string{
		"select * from t_order",
		"select * from t_order where remark = 'x'",
		"select * from t_order where order_id != 1",
		"select * from t_order where not (order_id = 1)",
		"select * from t_order where order_id not in (1, 2)",
		"select * from t_order where x.order_id = 1",
		"select * from t_order where order_id = null",
	} {
		tc := extract(t, sql)
		require.NotNil(t, tc, sql)
		assert.True(t, tc.Broadcast(), sql)
		assert.False(t, tc.AlwaysFalse, sql)
	}
}

func TestExtractRange(t *testing.T) {
	tc := extract(t, "select * from t_order where order_id >= 2 and order_id < 10 and order_id between 5 and 20")
	require.Len(t, tc.Conditions, 1)
	cv := tc.Conditions[0].Values[0]
	require.NotNil(t, cv.Range)
	assert.Equal(t, "[5..10)", cv.Range.String())

	tc = extract(t, "select * from t_order where order_id in (1, 5, 9) and order_id > 4")
	assert.Equal(t, []any{int64(5), int64(9)}, tc.Conditions[0].Values[0].Values)
}

func TestExtractAlwaysFalse(t *testing.T) {
	tc := extract(t, "select * from t_order where order_id = 1 and order_id = 2")
	assert.True(t, tc.AlwaysFalse)
	assert.False(t, tc.Broadcast())

	tc = extract(t, "select * from t_order where (order_id = 1 and order_id = 2) or order_id = 3")
	assert.False(t, tc.AlwaysFalse)
	require.Len(t, tc.Conditions, 1)
}

func TestExtractInsert(t *testing.T) {
	tc := extract(t, "insert into t_order (order_id, user_id, remark) values (?, 1, 'a'), (3, ?, 'b')", 2, 4)
	require.Len(t, tc.Conditions, 2)
	assert.Equal(t, []algorithm.ColumnValues{
		{Column: "order_id", Values: []any{int64(2)}},
		{Column: "user_id", Values: []any{int64(1)}},
	}, tc.Conditions[0].Values)
	assert.Equal(t, []algorithm.ColumnValues{
		{Column: "order_id", Values: []any{int64(3)}},
		{Column: "user_id", Values: []any{int64(4)}},
	}, tc.Conditions[1].Values)
}

func TestExtractErrors(t *testing.T) {
	stmt, err := statement.Parse("select * from t_order where order_id = ?")
	require.NoError(t, err)
	_, err = Extract(stmt, newRule(t))
	assert.ErrorIs(t, err, statement.ErrParamIndex)

	stmt, err = statement.Parse("select * from t_order where order_id > 'a' and order_id < 5")
	require.NoError(t, err)
	_, err = Extract(stmt, newRule(t))
	assert.ErrorIs(t, err, algorithm.ErrValueType)
}

func TestExtractUnshardedTable(t *testing.T) {
	stmt, err := statement.Parse("select * from t_config where id = 1")
	require.NoError(t, err)
	conds, err := Extract(stmt, newRule(t))
	require.NoError(t, err)
	assert.Empty(t, conds)
}
