package shardroute

import (
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/algorithm"
	"gorm/shardroute/metadata"
)

// ShardingRuleModel 数据分片规则
type ShardingRuleModel struct {
	DefaultDataSource string                `json:"default-data-source" yaml:"default-data-source"`
	BindingTables     [][]string            `json:"binding-tables" yaml:"binding-tables"`
	ReadwriteGroups   []ReadwriteGroupModel `json:"readwrite-groups" yaml:"readwrite-groups"`
	Tables            []TableRuleModel      `json:"tables" yaml:"tables"`
}

// TableRuleModel 逻辑表分片规则
type TableRuleModel struct {
	Table string `json:"table" yaml:"table"`
	// inline expression, e.g. ds_${0..1}.t_order_${0..3}
	ActualDataNodes  string        `json:"actual-data-nodes" yaml:"actual-data-nodes"`
	DatabaseStrategy StrategyModel `json:"database-strategy" yaml:"database-strategy"`
	TableStrategy    StrategyModel `json:"table-strategy" yaml:"table-strategy"`
}

type StrategyModel struct {
	Columns   []string          `json:"columns" yaml:"columns"`
	Algorithm string            `json:"algorithm" yaml:"algorithm"`
	Props     map[string]string `json:"props" yaml:"props"`
	// Expression is shorthand for the INLINE algorithm
	Expression string `json:"sharding-expression" yaml:"sharding-expression"`
}

type ReadwriteGroupModel struct {
	Name     string   `json:"name" yaml:"name"`
	Primary  string   `json:"primary" yaml:"primary"`
	Replicas []string `json:"replicas" yaml:"replicas"`
	Balance  string   `json:"balance" yaml:"balance"`
}

// Build creates the sharding rule. opts typically register the physical data
// sources.
func (m ShardingRuleModel) Build(reg *algorithm.Registry, opts ...metadata.Option) (*metadata.ShardingRule, error) {
	if reg == nil {
		reg = algorithm.DefaultRegistry()
	}
	tables := make([]*metadata.TableRule, 0, len(m.Tables))
	for _, tm := range m.Tables {
		tr, err := tm.build(reg, m.DefaultDataSource)
		if err != nil {
			return nil, err
		}
		tables = append(tables, tr)
	}
	if m.DefaultDataSource != "" {
		opts = append(opts, metadata.WithDefaultDataSource(m.DefaultDataSource))
	}
	for _, group := range m.BindingTables {
		opts = append(opts, metadata.WithBindingGroup(group...))
	}
	for _, g := range m.ReadwriteGroups {
		balance, err := metadata.ParseBalance(g.Balance)
		if err != nil {
			return nil, errors.Wrapf(err, "readwrite group %s", g.Name)
		}
		opts = append(opts, metadata.WithReadwriteGroup(metadata.ReadwriteGroup{
			Name:     g.Name,
			Primary:  g.Primary,
			Replicas: g.Replicas,
			Balance:  balance,
		}))
	}
	return metadata.NewShardingRule(tables, opts...)
}

func (tm TableRuleModel) build(reg *algorithm.Registry, defaultDataSource string) (*metadata.TableRule, error) {
	expr := strings.TrimSpace(tm.ActualDataNodes)
	if expr == "" {
		if defaultDataSource == "" {
			return nil, errors.Wrapf(metadata.ErrInvalidRule, "%s: actual-data-nodes is required without a default data source", tm.Table)
		}
		expr = defaultDataSource + "." + tm.Table
	}
	nodes, err := metadata.ParseDataNodes(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "table %s", tm.Table)
	}
	dbStrategy, err := tm.DatabaseStrategy.build(reg)
	if err != nil {
		return nil, errors.Wrapf(err, "table %s database strategy", tm.Table)
	}
	tbStrategy, err := tm.TableStrategy.build(reg)
	if err != nil {
		return nil, errors.Wrapf(err, "table %s table strategy", tm.Table)
	}
	return metadata.NewTableRule(tm.Table, nodes, dbStrategy, tbStrategy)
}

func (sm StrategyModel) build(reg *algorithm.Registry) (*algorithm.Strategy, error) {
	name, props := sm.Algorithm, algorithm.Props{}
	for k, v := range sm.Props {
		props[k] = v
	}
	if name == "" && sm.Expression != "" {
		name = "INLINE"
		props["algorithm-expression"] = sm.Expression
	}
	return reg.NewStrategy(name, sm.Columns, props)
}
