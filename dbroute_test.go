package shardroute

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gorm/shardroute/algorithm"
	"gorm/shardroute/metadata"
)

type order struct {
	OrderID int64
	UserID  int64
	Amount  float64
}

func testRule(t *testing.T) *metadata.ShardingRule {
	t.Helper()
	model := ShardingRuleModel{
		DefaultDataSource: "ds_0",
		Tables: []TableRuleModel{
			{
				Table:            "t_order",
				ActualDataNodes:  "ds_${0..1}.t_order_${0..1}",
				DatabaseStrategy: StrategyModel{Columns: []string{"user_id"}, Algorithm: "MOD", Props: map[string]string{"sharding-count": "2"}},
				TableStrategy:    StrategyModel{Columns: []string{"order_id"}, Expression: "t_order_${order_id % 2}"},
			},
			{
				Table:           "t_hint",
				ActualDataNodes: "ds_0.t_hint_${0..1}",
				TableStrategy:   StrategyModel{Algorithm: "HINT_INLINE", Props: map[string]string{"algorithm-expression": "t_hint_${value}"}},
			},
		},
	}
	rule, err := model.Build(algorithm.DefaultRegistry())
	require.NoError(t, err)
	return rule
}

type fixture struct {
	db    *gorm.DB
	dr    *DBRoute
	mocks map[string]sqlmock.Sqlmock
	reg   *prometheus.Registry
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conn, _, err := sqlmock.New()
	require.NoError(t, err)
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: conn, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)

	f := &fixture{db: db, mocks: map[string]sqlmock.Sqlmock{}, reg: prometheus.NewRegistry()}
	dataSources := map[string]DialectorConfig{}
	for _, name := range []string{"ds_0", "ds_1"} {
		dsConn, mock, err := sqlmock.New()
		require.NoError(t, err)
		mock.MatchExpectationsInOrder(false)
		f.mocks[name] = mock
		dataSources[name] = DialectorConfig{
			Dialector:   mysql.New(mysql.Config{Conn: dsConn, SkipInitializeWithVersion: true}),
			MaxOpen:     4,
			MaxLifetime: time.Minute,
		}
	}
	f.dr = Register(Config{
		Rule:        testRule(t),
		DataSources: dataSources,
		Schema:      "logic_db",
		Registerer:  f.reg,
	})
	require.NoError(t, db.Use(f.dr))
	return f
}

func (f *fixture) verify(t *testing.T) {
	t.Helper()
	for name, mock := range f.mocks {
		assert.NoError(t, mock.ExpectationsWereMet(), name)
	}
}

func TestInitialize(t *testing.T) {
	f := setup(t)
	assert.Equal(t, "gorm:shard_route", f.dr.Name())
	assert.Equal(t, []string{"ds_0", "ds_1"}, f.dr.DataSources())
	assert.NotNil(t, f.dr.Router())

	_, err := f.dr.pool("ds_9")
	assert.True(t, errors.Is(err, ErrNoPool))

	conn, _, err := sqlmock.New()
	require.NoError(t, err)
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: conn, SkipInitializeWithVersion: true}), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	assert.Error(t, db.Use(Register(Config{})))
}

func TestGormSingleUnit(t *testing.T) {
	f := setup(t)
	f.mocks["ds_1"].ExpectQuery(regexp.QuoteMeta("select * from t_order_0 where user_id = ? and order_id = ?")).
		WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "user_id", "amount"}).AddRow(2, 1, 9.5))

	var orders []order
	err := f.db.Table("t_order").Where("user_id = ? AND order_id = ?", 1, 2).Find(&orders).Error
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, order{OrderID: 2, UserID: 1, Amount: 9.5}, orders[0])

	f.mocks["ds_0"].ExpectExec(regexp.QuoteMeta("insert into t_order_1(order_id, user_id) values (?, ?)")).
		WithArgs(3, 4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	res := f.db.Table("t_order").Create(map[string]any{"order_id": 3, "user_id": 4})
	require.NoError(t, res.Error)
	assert.EqualValues(t, 1, res.RowsAffected)
	f.verify(t)
}

func TestGormHint(t *testing.T) {
	f := setup(t)
	f.mocks["ds_0"].ExpectQuery(regexp.QuoteMeta("select * from t_hint_1")).
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow(8))

	var rows []map[string]any
	err := f.db.Table("t_hint").Clauses(TableHint("t_hint", 1)).Find(&rows).Error
	require.NoError(t, err)
	require.Len(t, rows, 1)
	f.verify(t)
}

func TestGormScatter(t *testing.T) {
	f := setup(t)

	var orders []order
	err := f.db.Table("t_order").Where("order_id = ?", 4).Find(&orders).Error
	assert.True(t, errors.Is(err, ErrScatterRoute))

	for name, affected := range map[string]int64{"ds_0": 2, "ds_1": 3} {
		f.mocks[name].ExpectExec(regexp.QuoteMeta("update t_order_0 set amount = ? where order_id = ?")).
			WithArgs(10, 4).
			WillReturnResult(sqlmock.NewResult(0, affected))
	}
	res := f.db.Table("t_order").Where("order_id = ?", 4).Update("amount", 10)
	require.NoError(t, res.Error)
	assert.EqualValues(t, 5, res.RowsAffected)
	f.verify(t)
}

func TestQueryContextMerge(t *testing.T) {
	f := setup(t)
	query := regexp.QuoteMeta("select order_id, amount from t_order_0 where order_id = ? order by amount desc limit 3")
	f.mocks["ds_0"].ExpectQuery(query).WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "amount"}).AddRow(4, 9.0).AddRow(4, 5.0))
	f.mocks["ds_1"].ExpectQuery(query).WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "amount"}).AddRow(4, 7.0).AddRow(4, 1.0))

	merged, err := f.dr.QueryContext(context.Background(), "select order_id, amount from t_order where order_id = ? order by amount desc limit ?", 4, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"order_id", "amount"}, merged.Columns())
	var amounts []any
	for {
		ok, err := merged.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		amounts = append(amounts, merged.Value(1))
	}
	require.NoError(t, merged.Close())
	assert.Equal(t, []any{9.0, 7.0, 5.0}, amounts)
	f.verify(t)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.dr.metrics.routes.WithLabelValues("SELECT", "STANDARD")))
}

func TestQueryContextError(t *testing.T) {
	f := setup(t)
	query := regexp.QuoteMeta("select order_id from t_order_0 where order_id = ?")
	f.mocks["ds_0"].ExpectQuery(query).WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow(4))
	f.mocks["ds_1"].ExpectQuery(query).WithArgs(4).WillReturnError(errors.New("connection refused"))

	_, err := f.dr.QueryContext(context.Background(), "select order_id from t_order where order_id = ?", 4)
	assert.EqualError(t, err, "connection refused")

	_, err = f.dr.QueryContext(context.Background(), "select from where")
	assert.Error(t, err)
}

func TestExecContext(t *testing.T) {
	f := setup(t)
	for _, name := range []string{"ds_0", "ds_1"} {
		f.mocks[name].ExpectExec(regexp.QuoteMeta("delete from t_order_0 where order_id = ?")).
			WithArgs(4).
			WillReturnResult(sqlmock.NewResult(0, 2))
	}
	res, err := f.dr.ExecContext(context.Background(), "delete from t_order where order_id = ?", 4)
	require.NoError(t, err)
	affected, _ := res.RowsAffected()
	assert.EqualValues(t, 4, affected)

	// 批量插入按行拆分到各路由单元
	f.mocks["ds_0"].ExpectExec(regexp.QuoteMeta("insert into t_order_1(order_id, user_id) values (?, ?)")).
		WithArgs(1, 10).
		WillReturnResult(sqlmock.NewResult(100, 1))
	f.mocks["ds_1"].ExpectExec(regexp.QuoteMeta("insert into t_order_0(order_id, user_id) values (?, ?)")).
		WithArgs(2, 11).
		WillReturnResult(sqlmock.NewResult(200, 1))
	res, err = f.dr.ExecContext(context.Background(), "insert into t_order(order_id, user_id) values (?, ?), (?, ?)", 1, 10, 2, 11)
	require.NoError(t, err)
	affected, _ = res.RowsAffected()
	id, _ := res.LastInsertId()
	assert.EqualValues(t, 2, affected)
	assert.EqualValues(t, 100, id)
	f.verify(t)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.dr.metrics.routes.WithLabelValues("INSERT", "STANDARD")))
}

func TestMetricsSharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := newMetrics(reg)
	require.NoError(t, err)
	b, err := newMetrics(reg)
	require.NoError(t, err)
	assert.Same(t, a.routes, b.routes)

	none, err := newMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, none)
	none.observe(0, nil)
}

type recordLogger struct {
	logger.Interface
	sqls []string
}

func (l *recordLogger) Trace(_ context.Context, _ time.Time, fc func() (string, int64), _ error) {
	sql, _ := fc()
	l.sqls = append(l.sqls, sql)
}

func TestRouteModeLogger(t *testing.T) {
	rec := &recordLogger{}
	l := NewRouteModeLogger(rec)
	assert.Equal(t, l, NewRouteModeLogger(l))

	ctx := context.WithValue(context.Background(), routeModeKey{}, "ds_1.t_order_0")
	l.Trace(ctx, time.Now(), func() (string, int64) { return "select 1", 1 }, nil)
	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "select 2", 1 }, nil)
	assert.Equal(t, []string{"[ds_1.t_order_0] select 1", "select 2"}, rec.sqls)
}
