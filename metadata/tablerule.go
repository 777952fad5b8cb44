package metadata

import (
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/algorithm"
)

// TableRule 逻辑表的分片规则
type TableRule struct {
	LogicTable       string
	DataNodes        []DataNode
	DatabaseStrategy *algorithm.Strategy
	TableStrategy    *algorithm.Strategy

	index map[DataNode]int
}

// NewTableRule builds a table rule. Nil strategies mean no sharding on that
// level; duplicate data nodes are rejected.
func NewTableRule(logicTable string, nodes []DataNode, databaseStrategy, tableStrategy *algorithm.Strategy) (*TableRule, error) {
	if strings.TrimSpace(logicTable) == "" {
		return nil, errors.Wrap(ErrInvalidRule, "logic table is required")
	}
	if databaseStrategy == nil {
		databaseStrategy = algorithm.NoneStrategy()
	}
	if tableStrategy == nil {
		tableStrategy = algorithm.NoneStrategy()
	}
	r := &TableRule{
		LogicTable:       logicTable,
		DataNodes:        nodes,
		DatabaseStrategy: databaseStrategy,
		TableStrategy:    tableStrategy,
		index:            make(map[DataNode]int, len(nodes)),
	}
	for i, n := range nodes {
		if _, dup := r.index[n.key()]; dup {
			return nil, errors.Wrapf(ErrInvalidRule, "%s: duplicate data node %s", logicTable, n)
		}
		r.index[n.key()] = i
	}
	if err := r.checkTargets(); err != nil {
		return nil, err
	}
	return r, nil
}

// checkTargets 每个分片下标都必须有对应的数据源和实际表
func (r *TableRule) checkTargets() error {
	if len(r.DataNodes) == 0 {
		return nil
	}
	if err := r.DatabaseStrategy.CheckTargets(r.DataSourceNames()); err != nil {
		return errors.Wrapf(err, "%s database strategy", r.LogicTable)
	}
	for _, ds := range r.DataSourceNames() {
		if err := r.TableStrategy.CheckTargets(r.ActualTables(ds)); err != nil {
			return errors.Wrapf(err, "%s table strategy on %s", r.LogicTable, ds)
		}
	}
	return nil
}

// DataSourceNames returns the data sources of the rule in data node order.
func (r *TableRule) DataSourceNames() []string {
	var out []string
	seen := map[string]bool{}
	for _, n := range r.DataNodes {
		if k := strings.ToLower(n.DataSource); !seen[k] {
			seen[k] = true
			out = append(out, n.DataSource)
		}
	}
	return out
}

// ActualTables returns the actual tables on a data source in data node order.
func (r *TableRule) ActualTables(dataSource string) []string {
	var out []string
	for _, n := range r.DataNodes {
		if strings.EqualFold(n.DataSource, dataSource) {
			out = append(out, n.Table)
		}
	}
	return out
}

// ShardingColumns returns the database and table sharding columns, deduplicated.
func (r *TableRule) ShardingColumns() []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range []*algorithm.Strategy{r.DatabaseStrategy, r.TableStrategy} {
		for _, c := range s.Columns() {
			if k := strings.ToLower(c); !seen[k] {
				seen[k] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// IsShardingColumn reports whether column is used by either strategy.
func (r *TableRule) IsShardingColumn(column string) bool {
	for _, c := range r.ShardingColumns() {
		if strings.EqualFold(c, column) {
			return true
		}
	}
	return false
}

// Contains reports whether node is configured for the table.
func (r *TableRule) Contains(node DataNode) bool {
	_, ok := r.index[node.key()]
	return ok
}

// NodeIndex returns the position of node in DataNodes.
func (r *TableRule) NodeIndex(node DataNode) (int, bool) {
	i, ok := r.index[node.key()]
	return i, ok
}

// FirstNode returns the first configured data node.
func (r *TableRule) FirstNode() (DataNode, bool) {
	if len(r.DataNodes) == 0 {
		return DataNode{}, false
	}
	return r.DataNodes[0], true
}
