package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorm/shardroute/algorithm"
	"gorm/shardroute/route"
	"gorm/shardroute/statement"
)

const testConfig = `
schema: logic_db
trace-route-mode: true
orm:
  debug: true
  singular-table: true
datasources:
  ds_0:
    db-type: mysql
    dsn: "root:pw@tcp(10.0.0.1:3306)/order_0"
    max-open-conns: 20
  ds_1:
    db-type: mysql
    dsn: "root:pw@tcp(10.0.0.1:3306)/order_1"
  ds_2:
    db-type: postgres
    dsn: "host=10.0.0.2 port=5433 user=app dbname=order_2 sslmode=disable"
sharding:
  default-data-source: ds_0
  binding-tables:
    - [t_order, t_order_item]
  tables:
    - table: t_order
      actual-data-nodes: ds_${0..1}.t_order_${0..1}
      database-strategy:
        columns: [user_id]
        sharding-expression: ds_${user_id % 2}
      table-strategy:
        columns: [order_id]
        algorithm: MOD
        props:
          sharding-count: "2"
    - table: t_order_item
      actual-data-nodes: ds_${0..1}.t_order_item_${0..1}
      database-strategy:
        columns: [user_id]
        sharding-expression: ds_${user_id % 2}
      table-strategy:
        columns: [order_id]
        algorithm: MOD
        props:
          sharding-count: "2"
    - table: t_config
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(testConfig))
	require.NoError(t, err)
	assert.Equal(t, "logic_db", cfg.Schema)
	assert.True(t, cfg.TraceRouteMode)
	assert.True(t, cfg.Orm.Debug)
	assert.Len(t, cfg.DataSources, 3)
	assert.Equal(t, 20, cfg.DataSources["ds_0"].MaxOpenConns)
	assert.Equal(t, [][]string{{"t_order", "t_order_item"}}, cfg.Sharding.BindingTables)
	require.Len(t, cfg.Sharding.Tables, 3)
	assert.Equal(t, "ds_${user_id % 2}", cfg.Sharding.Tables[0].DatabaseStrategy.Expression)
	assert.Equal(t, "2", cfg.Sharding.Tables[0].TableStrategy.Props["sharding-count"])

	name, ok := cfg.DefaultDataSource()
	assert.True(t, ok)
	assert.Equal(t, "ds_0", name)

	_, err = Parse([]byte("datasources: [oops"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shardroute.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "logic_db", cfg.Schema)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBuildRule(t *testing.T) {
	cfg, err := Parse([]byte(testConfig))
	require.NoError(t, err)
	rule, err := BuildRule(cfg, algorithm.DefaultRegistry(), NewInstanceCache())
	require.NoError(t, err)

	ds0, ok := rule.DataSource("ds_0")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:3306", ds0.Instance())
	ds1, _ := rule.DataSource("ds_1")
	assert.Equal(t, ds0.Instance(), ds1.Instance())
	ds2, _ := rule.DataSource("ds_2")
	assert.Equal(t, "10.0.0.2", ds2.Host)
	assert.Equal(t, 5433, ds2.Port)

	assert.True(t, rule.IsBindingGroup([]string{"t_order", "t_order_item"}))

	r := route.New(rule)
	stmt, err := statement.Parse("select * from t_order o join t_order_item i on o.order_id = i.order_id where o.user_id = ? and o.order_id = ?")
	require.NoError(t, err)
	res, err := r.Route(context.Background(), stmt.Bind([]any{3, 4}))
	require.NoError(t, err)
	require.Len(t, res.Units, 1)
	assert.Equal(t, "ds_1.t_order_0,t_order_item_0", res.Units[0].String())

	// t_config has no nodes and lives on the default data source
	stmt, err = statement.Parse("select * from t_config")
	require.NoError(t, err)
	res, err = r.Route(context.Background(), stmt)
	require.NoError(t, err)
	require.Len(t, res.Units, 1)
	assert.Equal(t, "ds_0.t_config", res.Units[0].String())
}

func TestBuildRuleErrors(t *testing.T) {
	cfg, err := Parse([]byte(testConfig))
	require.NoError(t, err)
	cfg.DataSources["ds_3"] = DBConfig{DBType: "oracle", DSN: "x"}
	_, err = BuildRule(cfg, nil, nil)
	assert.True(t, errors.Is(err, ErrUnknownDBType))

	cfg, err = Parse([]byte(testConfig))
	require.NoError(t, err)
	cfg.Sharding.Tables[0].TableStrategy.Algorithm = "NOPE"
	_, err = BuildRule(cfg, algorithm.DefaultRegistry(), nil)
	assert.True(t, errors.Is(err, algorithm.ErrUnknownAlgorithm))
}

func TestInstanceCache(t *testing.T) {
	cache := NewInstanceCache()
	a, err := cache.Resolve("a", DBConfig{DBType: "mysql", DSN: "u:p@tcp(db.local:3307)/x"})
	require.NoError(t, err)
	b, err := cache.Resolve("b", DBConfig{DBType: "MySQL", DSN: "u:p@tcp(db.local:3307)/x"})
	require.NoError(t, err)
	assert.Equal(t, "a", a.Name)
	assert.Equal(t, "b", b.Name)
	assert.Equal(t, "db.local:3307", b.Instance())
	assert.Len(t, cache.entries, 1)

	_, err = cache.Resolve("c", DBConfig{DBType: "mysql", DSN: "not a dsn"})
	assert.Error(t, err)
}

func TestParseRulesJSON(t *testing.T) {
	model, err := ParseRulesJSON(`{
		"default-data-source": "ds_0",
		"tables": [{
			"table": "t_user",
			"actual-data-nodes": "ds_${0..1}.t_user",
			"database-strategy": {"columns": ["user_id"], "algorithm": "HASH_MOD", "props": {"sharding-count": "2"}}
		}]
	}`)
	require.NoError(t, err)
	assert.Equal(t, "ds_0", model.DefaultDataSource)
	require.Len(t, model.Tables, 1)
	assert.Equal(t, "HASH_MOD", model.Tables[0].DatabaseStrategy.Algorithm)

	rule, err := model.Build(nil)
	require.NoError(t, err)
	tr, ok := rule.TableRule("t_user")
	require.True(t, ok)
	assert.Len(t, tr.DataNodes, 2)

	_, err = ParseRulesJSON("{")
	assert.Error(t, err)
}

func TestOpenDialector(t *testing.T) {
	d, err := openDialector(DBConfig{DBType: "mysql", DSN: "u:p@tcp(127.0.0.1:3306)/x"})
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())
	d, err = openDialector(DBConfig{DBType: "postgres", DSN: "host=127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())
	_, err = openDialector(DBConfig{DBType: "sqlite"})
	assert.True(t, errors.Is(err, ErrUnknownDBType))
}
