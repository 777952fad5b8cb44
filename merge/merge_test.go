package merge

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorm/shardroute/metadata"
	"gorm/shardroute/route"
	"gorm/shardroute/statement"
)

var errShard = errors.New("shard failed")

// stubResult 测试用结果集, optionally failing after some rows.
type stubResult struct {
	QueryResult
	failAfter int
	read      int
	closed    bool
}

func newStub(columns []string, rows ...[]any) *stubResult {
	return &stubResult{QueryResult: NewMemoryResult(columns, rows), failAfter: -1}
}

func (s *stubResult) Next() (bool, error) {
	if s.failAfter >= 0 && s.read >= s.failAfter {
		return false, errShard
	}
	s.read++
	return s.QueryResult.Next()
}

func (s *stubResult) Close() error {
	s.closed = true
	return nil
}

func mustParse(t *testing.T, sql string, params ...any) *statement.Context {
	t.Helper()
	stmt, err := statement.Parse(sql)
	require.NoError(t, err)
	return stmt.Bind(params)
}

func units(n int) *route.RoutingResult {
	res := &route.RoutingResult{}
	for i := 0; i < n; i++ {
		res.Units = append(res.Units, route.RoutingUnit{DataSource: "ds"})
	}
	return res
}

func mergeRows(t *testing.T, e *Engine, stmt *statement.Context, results ...QueryResult) ([]string, [][]any) {
	t.Helper()
	merged, err := e.Merge(stmt, units(len(results)), results)
	require.NoError(t, err)
	defer merged.Close()
	columns := merged.Columns()
	var rows [][]any
	for {
		ok, err := merged.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		row := make([]any, len(columns))
		for i := range row {
			row[i] = merged.Value(i)
		}
		rows = append(rows, row)
	}
	return columns, rows
}

func column(rows [][]any, i int) []any {
	out := make([]any, len(rows))
	for j, r := range rows {
		out[j] = r[i]
	}
	return out
}

func TestOrderByMerge(t *testing.T) {
	cols := []string{"id", "src"}
	stmt := mustParse(t, "select id, src from t_order order by id")
	_, rows := mergeRows(t, NewEngine(nil), stmt,
		newStub(cols, []any{1, "a"}, []any{4, "a"}),
		newStub(cols, []any{2, "b"}, []any{4, "b"}),
		newStub(cols),
	)
	assert.Equal(t, []any{1, 2, 4, 4}, column(rows, 0))
	// 相同排序值保持路由单元顺序
	assert.Equal(t, []any{"a", "b", "a", "b"}, column(rows, 1))

	stmt = mustParse(t, "select id from t_order order by id desc")
	_, rows = mergeRows(t, NewEngine(nil), stmt,
		newStub([]string{"id"}, []any{5}, []any{nil}),
		newStub([]string{"id"}, []any{7}, []any{3}),
	)
	assert.Equal(t, []any{7, 5, 3, nil}, column(rows, 0))

	_, rows = mergeRows(t, NewEngine(nil), mustParse(t, "select id from t_order order by id"),
		newStub([]string{"id"}), newStub([]string{"id"}))
	assert.Empty(t, rows)
}

func TestOrderByCaseInsensitive(t *testing.T) {
	stmt := mustParse(t, "select name from t_user order by name")
	shards := func() []QueryResult {
		// 各分片按 *_ci 排序规则已排好序
		return []QueryResult{
			newStub([]string{"name"}, []any{"alice"}, []any{"Bob"}, []any{"carol"}),
			newStub([]string{"name"}, []any{"Adam"}, []any{"bert"}, []any{"Cindy"}),
		}
	}
	_, rows := mergeRows(t, NewEngine(nil, WithCaseInsensitiveOrder()), stmt, shards()...)
	assert.Equal(t, []any{"Adam", "alice", "bert", "Bob", "carol", "Cindy"}, column(rows, 0))

	_, rows = mergeRows(t, NewEngine(nil), stmt, shards()...)
	assert.Equal(t, []any{"Adam", "alice", "Bob", "bert", "Cindy", "carol"}, column(rows, 0))
}

func TestIteratorAndTransparent(t *testing.T) {
	stmt := mustParse(t, "select id from t_order")
	_, rows := mergeRows(t, NewEngine(nil), stmt,
		newStub([]string{"id"}, []any{3}, []any{1}),
		newStub([]string{"id"}, []any{2}),
	)
	assert.Equal(t, []any{3, 1, 2}, column(rows, 0))

	single := newStub([]string{"id"}, []any{9})
	merged, err := NewEngine(nil).Merge(mustParse(t, "select id from t_order order by id limit 5"), units(1), []QueryResult{single})
	require.NoError(t, err)
	ok, err := merged.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 9, merged.Value(0))
	require.NoError(t, merged.Close())
	assert.True(t, single.closed)
}

func TestGroupByMerge(t *testing.T) {
	cols := []string{"user_id", "sum(amount)", "count(*)"}
	stmt := mustParse(t, "select user_id, sum(amount), count(*) from t_order group by user_id")
	_, rows := mergeRows(t, NewEngine(nil), stmt,
		newStub(cols, []any{int64(1), int64(6), int64(6)}),
		newStub(cols, []any{int64(1), int64(2), int64(2)}),
	)
	assert.Equal(t, [][]any{{int64(1), int64(8), int64(8)}}, rows)

	// 无ORDER BY时按分组列排序
	_, rows = mergeRows(t, NewEngine(nil), stmt,
		newStub(cols, []any{int64(3), int64(1), int64(1)}, []any{int64(1), int64(1), int64(1)}),
		newStub(cols, []any{int64(2), "2.5", "4"}),
	)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, column(rows, 0))
	assert.Equal(t, 2.5, rows[1][1])
	assert.Equal(t, int64(4), rows[1][2])
}

func TestAvgMerge(t *testing.T) {
	stmt := mustParse(t, "select avg(price) from t_order")
	require.Equal(t, 2, stmt.DerivedColumns)
	cols := []string{"avg(price)", "AVG_DERIVED_COUNT_0", "AVG_DERIVED_SUM_0"}
	columns, rows := mergeRows(t, NewEngine(nil), stmt,
		newStub(cols, []any{0.7, int64(10), int64(7)}),
		newStub(cols, []any{1.0, int64(10), int64(10)}),
	)
	assert.Equal(t, []string{"avg(price)"}, columns)
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.85, rows[0][0], 1e-9)
}

func TestAggregateNulls(t *testing.T) {
	stmt := mustParse(t, "select user_id, sum(amount), max(amount), count(amount) from t_order group by user_id")
	cols := []string{"user_id", "sum(amount)", "max(amount)", "count(amount)"}
	_, rows := mergeRows(t, NewEngine(nil), stmt,
		newStub(cols, []any{int64(1), nil, nil, int64(0)}),
		newStub(cols, []any{int64(1), nil, nil, int64(0)}),
	)
	assert.Equal(t, [][]any{{int64(1), nil, nil, int64(0)}}, rows)

	stmt = mustParse(t, "select count(*), sum(amount), min(amount) from t_order")
	cols = []string{"count(*)", "sum(amount)", "min(amount)"}
	_, rows = mergeRows(t, NewEngine(nil), stmt, newStub(cols), newStub(cols))
	assert.Equal(t, [][]any{{int64(0), nil, nil}}, rows)

	_, rows = mergeRows(t, NewEngine(nil), stmt,
		newStub(cols, []any{int64(2), int64(9), int64(4)}),
		newStub(cols, []any{int64(1), int64(3), int64(3)}),
	)
	assert.Equal(t, [][]any{{int64(3), int64(12), int64(3)}}, rows)
}

func TestGroupByOrderAndHaving(t *testing.T) {
	cols := []string{"user_id", "count(*)"}
	shards := func() []QueryResult {
		return []QueryResult{
			newStub(cols, []any{int64(1), int64(5)}, []any{int64(2), int64(1)}),
			newStub(cols, []any{int64(2), int64(10)}, []any{int64(3), int64(1)}),
		}
	}

	_, rows := mergeRows(t, NewEngine(nil), mustParse(t, "select user_id, count(*) from t_order group by user_id order by count(*) desc"), shards()...)
	assert.Equal(t, [][]any{{int64(2), int64(11)}, {int64(1), int64(5)}, {int64(3), int64(1)}}, rows)

	_, rows = mergeRows(t, NewEngine(nil), mustParse(t, "select user_id, count(*) from t_order group by user_id having count(*) > ?", 4), shards()...)
	assert.Equal(t, [][]any{{int64(1), int64(5)}, {int64(2), int64(11)}}, rows)

	_, rows = mergeRows(t, NewEngine(nil), mustParse(t, "select user_id, count(*) from t_order group by user_id having count(*) between 2 and 6 or user_id in (3)"), shards()...)
	assert.Equal(t, [][]any{{int64(1), int64(5)}, {int64(3), int64(1)}}, rows)

	_, rows = mergeRows(t, NewEngine(nil), mustParse(t, "select user_id, count(*) from t_order group by user_id order by user_id desc limit 1, 1"), shards()...)
	assert.Equal(t, [][]any{{int64(2), int64(11)}}, rows)
}

func TestHavingNullLogic(t *testing.T) {
	cols := []string{"user_id", "max(amount)"}
	shards := func() []QueryResult {
		return []QueryResult{
			newStub(cols, []any{int64(1), nil}, []any{int64(2), int64(3)}),
			newStub(cols, []any{int64(1), nil}, []any{int64(2), int64(7)}, []any{int64(3), int64(4)}),
		}
	}
	query := func(having string, params ...any) [][]any {
		_, rows := mergeRows(t, NewEngine(nil), mustParse(t, "select user_id, max(amount) from t_order group by user_id having "+having, params...), shards()...)
		return rows
	}

	// NOT NULL 仍是 unknown, 不保留
	assert.Equal(t, [][]any{{int64(3), int64(4)}}, query("not max(amount) > 5"))
	assert.Equal(t, [][]any{{int64(3), int64(4)}}, query("max(amount) not in (?)", 7))
	assert.Empty(t, query("max(amount) not in (?, ?)", 7, nil))
	assert.Equal(t, [][]any{{int64(2), int64(7)}}, query("max(amount) in (?, ?)", 7, nil))
	assert.Equal(t, [][]any{{int64(3), int64(4)}}, query("not max(amount) between 5 and 10"))
	// unknown AND false 为 false, NOT 之后保留
	assert.Equal(t, [][]any{{int64(1), nil}, {int64(2), int64(7)}, {int64(3), int64(4)}}, query("not (max(amount) > 5 and user_id = 1)"))
	assert.Equal(t, [][]any{{int64(1), nil}}, query("user_id = 1 or max(amount) > 100"))
	assert.Equal(t, [][]any{{int64(3), int64(4)}}, query("not (max(amount) > 5 or user_id = 2)"))
}

func TestDistinctMerge(t *testing.T) {
	stmt := mustParse(t, "select distinct user_id from t_order")
	_, rows := mergeRows(t, NewEngine(nil), stmt,
		newStub([]string{"user_id"}, []any{int64(1)}, []any{int64(2)}),
		newStub([]string{"user_id"}, []any{int64(2)}, []any{int64(3)}),
	)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, column(rows, 0))

	a, b := newStub([]string{"c"}), newStub([]string{"c"})
	_, err := NewEngine(nil).Merge(mustParse(t, "select count(distinct user_id) from t_order"), units(2), []QueryResult{a, b})
	assert.ErrorIs(t, err, ErrDistinctAggregate)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestPagination(t *testing.T) {
	cols := []string{"id"}
	shards := func() []QueryResult {
		return []QueryResult{
			newStub(cols, []any{1}, []any{4}),
			newStub(cols, []any{2}, []any{4}),
			newStub(cols, []any{3}),
		}
	}
	_, rows := mergeRows(t, NewEngine(nil), mustParse(t, "select id from t_order order by id limit 1, 2"), shards()...)
	assert.Equal(t, []any{2, 3}, column(rows, 0))

	_, rows = mergeRows(t, NewEngine(nil), mustParse(t, "select id from t_order order by id limit ?, ?", 3, 10), shards()...)
	assert.Equal(t, []any{4, 4}, column(rows, 0))

	_, all := mergeRows(t, NewEngine(nil), mustParse(t, "select id from t_order order by id"), shards()...)
	_, zero := mergeRows(t, NewEngine(nil), mustParse(t, "select id from t_order order by id limit 0, 100"), shards()...)
	assert.Equal(t, all, zero)

	_, rows = mergeRows(t, NewEngine(nil), mustParse(t, "select id from t_order limit 10, 1"), shards()...)
	assert.Empty(t, rows)
}

func TestMergeErrors(t *testing.T) {
	a := newStub([]string{"id"}, []any{1})
	_, err := NewEngine(nil).Merge(mustParse(t, "select id from t_order"), units(2), []QueryResult{a})
	assert.ErrorIs(t, err, ErrResultCountMismatch)
	assert.True(t, a.closed)

	failing := newStub([]string{"id"}, []any{2}, []any{5})
	failing.failAfter = 1
	merged, err := NewEngine(nil).Merge(mustParse(t, "select id from t_order order by id"), units(2), []QueryResult{
		newStub([]string{"id"}, []any{1}, []any{3}),
		failing,
	})
	require.NoError(t, err)
	var got []any
	for {
		ok, err := merged.Next()
		if err != nil {
			assert.ErrorIs(t, err, errShard)
			break
		}
		require.True(t, ok)
		got = append(got, merged.Value(0))
	}
	assert.Equal(t, []any{1, 2}, got)
	_, err = merged.Next()
	assert.ErrorIs(t, err, errShard)

	merged, err = NewEngine(nil).Merge(mustParse(t, "select id from t_order order by id"), units(2), []QueryResult{
		newStub([]string{"id"}, []any{"a"}),
		newStub([]string{"id"}, []any{1}),
	})
	require.NoError(t, err)
	_, err = merged.Next()
	assert.Error(t, err)

	failing = newStub([]string{"user_id", "count(*)"}, []any{int64(1), int64(1)})
	failing.failAfter = 0
	_, err = NewEngine(nil).Merge(mustParse(t, "select user_id, count(*) from t_order group by user_id"), units(2), []QueryResult{
		newStub([]string{"user_id", "count(*)"}),
		failing,
	})
	assert.ErrorIs(t, err, errShard)
}

func TestMergeUpdate(t *testing.T) {
	got := MergeUpdate([]ExecResult{{Affected: 3}, {Affected: 2, InsertID: 7}, {Affected: 1, InsertID: 9}})
	assert.Equal(t, ExecResult{Affected: 6, InsertID: 7}, got)
	n, err := got.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, ExecResult{}, MergeUpdate(nil))
}

func newShowRule(t *testing.T) *metadata.ShardingRule {
	t.Helper()
	nodes, err := metadata.ParseDataNodes("ds_0.t_order_${0..1}")
	require.NoError(t, err)
	tr, err := metadata.NewTableRule("t_order", nodes, nil, nil)
	require.NoError(t, err)
	rule, err := metadata.NewShardingRule([]*metadata.TableRule{tr})
	require.NoError(t, err)
	return rule
}

func TestDALMerge(t *testing.T) {
	e := NewEngine(newShowRule(t), WithSchema("sharding_db"))

	cols := []string{"Tables_in_ds"}
	_, rows := mergeRows(t, e, mustParse(t, "show tables"),
		newStub(cols, []any{"t_order_0"}, []any{"t_order_1"}, []any{"t_config"}),
		newStub(cols, []any{"t_order_0"}, []any{"t_config"}),
	)
	assert.Equal(t, [][]any{{"t_order"}, {"t_config"}}, rows)

	_, rows = mergeRows(t, e, mustParse(t, "show create table t_order"),
		newStub([]string{"Table", "Create Table"}, []any{"t_order_0", "CREATE TABLE `t_order_0` (`id` bigint)"}),
	)
	assert.Equal(t, [][]any{{"t_order", "CREATE TABLE `t_order` (`id` bigint)"}}, rows)

	columns, rows := mergeRows(t, e, mustParse(t, "show databases"),
		newStub([]string{"Database"}, []any{"ds_0"}),
	)
	assert.Equal(t, []string{"Database"}, columns)
	assert.Equal(t, [][]any{{"sharding_db"}}, rows)
}

func TestRowsResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rs := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("BIGINT", int64(0)),
		sqlmock.NewColumn("name").OfType("VARCHAR", ""),
		sqlmock.NewColumn("amount").OfType("DECIMAL", ""),
	).
		AddRow([]byte("12"), []byte("a"), []byte("3.5")).
		AddRow(int64(2), nil, []byte("1"))
	mock.ExpectQuery("select").WillReturnRows(rs)
	rows, err := db.Query("select id, name, amount from t_order_0")
	require.NoError(t, err)
	r, err := NewRowsResult(rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "amount"}, r.Columns())

	ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(12), r.Value(0))
	assert.Equal(t, "a", r.Value(1))
	assert.Equal(t, 3.5, r.Value(2))

	ok, err = r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), r.Value(0))
	assert.Nil(t, r.Value(1))
	assert.Equal(t, int64(1), r.Value(2))

	ok, err = r.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, r.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
