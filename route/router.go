package route

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"gorm.io/gorm/logger"

	"gorm/shardroute/algorithm"
	"gorm/shardroute/condition"
	"gorm/shardroute/hint"
	"gorm/shardroute/metadata"
	"gorm/shardroute/statement"
)

var (
	ErrUnsupportedSQL      = errors.New("unsupported sql")
	ErrInsertMultiNodes    = errors.New("insert row routes to more than one data node")
	ErrNoDataNode          = errors.New("no data node matched")
	ErrNoDefaultDataSource = errors.New("no default data source")
	ErrUnknownDataSource   = errors.New("unknown data source")
)

// UnsupportedError reports a statement category the router cannot route.
type UnsupportedError struct {
	Category statement.Category
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnsupportedSQL, e.Category)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupportedSQL }

// Router 路由器, 只读持有分片规则, 可被并发使用
type Router struct {
	rule   *metadata.ShardingRule
	logger logger.Interface
	// 读写分离轮询计数, 按组名, 构造后不再增删
	counters map[string]*uint64
}

type Option func(*Router)

// WithLogger logs every routing decision at info level.
func WithLogger(l logger.Interface) Option {
	return func(r *Router) {
		r.logger = l
	}
}

func New(rule *metadata.ShardingRule, opts ...Option) *Router {
	r := &Router{rule: rule, counters: map[string]*uint64{}}
	for _, g := range rule.ReadwriteGroups() {
		r.counters[strings.ToLower(g.Name)] = new(uint64)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rule returns the sharding rule the router was built with.
func (r *Router) Rule() *metadata.ShardingRule {
	return r.rule
}

// Route computes the routing units of a bound statement. Hints are read from
// ctx. The same statement, parameters and rule always produce the same units.
func (r *Router) Route(ctx context.Context, stmt *statement.Context) (*RoutingResult, error) {
	h, _ := hint.FromContext(ctx)
	var (
		res *RoutingResult
		err error
	)
	switch stmt.Category {
	case statement.Select, statement.Insert, statement.Update, statement.Delete:
		res, err = r.routeDML(stmt, h)
	case statement.DDL:
		switch {
		case len(r.shardedTables(stmt)) > 0:
			res = r.tableBroadcast(stmt)
		case len(stmt.Tables) > 0:
			res, err = r.defaultRoute(stmt)
		default:
			res = r.databaseBroadcast()
		}
	case statement.DCL, statement.DALBroadcast:
		if len(r.shardedTables(stmt)) > 0 {
			res = r.tableBroadcast(stmt)
		} else {
			res = r.databaseBroadcast()
		}
	case statement.DatabaseDDL:
		res = r.instanceBroadcast()
	case statement.DALUnicast:
		res, err = r.unicast(stmt, h)
	case statement.TCL:
		res = r.databaseBroadcast()
	default:
		return nil, &UnsupportedError{Category: stmt.Category}
	}
	if err != nil {
		return nil, err
	}
	r.decorate(res, stmt.Category.IsWrite() || h.PrimaryOnly)
	res.sortUnits()
	if r.logger != nil {
		r.logger.Info(ctx, "route %s: %s", stmt.Category, res)
	}
	return res, nil
}

func (r *Router) shardedTables(stmt *statement.Context) []*metadata.TableRule {
	var out []*metadata.TableRule
	for _, name := range stmt.TableNames() {
		if tr, ok := r.rule.TableRule(name); ok {
			out = append(out, tr)
		}
	}
	return out
}

func (r *Router) routeDML(stmt *statement.Context, h hint.Values) (*RoutingResult, error) {
	sharded := r.shardedTables(stmt)
	if len(sharded) == 0 {
		return r.defaultRoute(stmt)
	}
	conds, err := condition.Extract(stmt, r.rule)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(sharded))
	for i, tr := range sharded {
		names[i] = tr.LogicTable
	}
	if len(sharded) == 1 || r.rule.IsBindingGroup(names) {
		return r.standard(stmt, sharded, conds, h)
	}
	return r.cartesian(sharded, conds, h)
}

// standard routes one table, or a binding group driven by its first table
// that carries sharding conditions.
func (r *Router) standard(stmt *statement.Context, tables []*metadata.TableRule, conds map[string]*condition.TableConditions, h hint.Values) (*RoutingResult, error) {
	driver := tables[0]
	for _, tr := range tables {
		if !conds[strings.ToLower(tr.LogicTable)].Broadcast() {
			driver = tr
			break
		}
	}
	res := &RoutingResult{Engine: EngineStandard}
	tc := conds[strings.ToLower(driver.LogicTable)]

	var (
		nodes []metadata.DataNode
		rows  map[metadata.DataNode][]int
		err   error
	)
	if stmt.Category == statement.Insert {
		nodes, rows, err = r.insertNodes(driver, tc, h)
	} else {
		nodes, err = r.tableNodes(driver, tc, h)
	}
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		unit := RoutingUnit{DataSource: n.DataSource, InsertRows: rows[n]}
		for _, tr := range tables {
			actual := n.Table
			if tr != driver {
				if actual, err = r.rule.BindingActualTable(driver.LogicTable, n.DataSource, n.Table, tr.LogicTable); err != nil {
					return nil, err
				}
			}
			unit.Tables = append(unit.Tables, TableUnit{LogicTable: tr.LogicTable, ActualTable: actual})
		}
		res.Units = append(res.Units, unit)
	}
	return res, nil
}

// tableNodes returns the data nodes of one table, in data node order.
func (r *Router) tableNodes(tr *metadata.TableRule, tc *condition.TableConditions, h hint.Values) ([]metadata.DataNode, error) {
	if tc != nil && tc.AlwaysFalse {
		// 条件恒假, 路由到第一个节点以返回正确的空结果
		if n, ok := tr.FirstNode(); ok {
			return []metadata.DataNode{n}, nil
		}
		return nil, nil
	}
	if tc.Broadcast() {
		return r.shard(tr, nil, h)
	}
	hit := map[int]metadata.DataNode{}
	for _, c := range tc.Conditions {
		nodes, err := r.shard(tr, c.Values, h)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			i, _ := tr.NodeIndex(n)
			hit[i] = n
		}
	}
	out := make([]metadata.DataNode, 0, len(hit))
	for i, n := range tr.DataNodes {
		if _, ok := hit[i]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// insertNodes routes every inserted row to exactly one data node.
func (r *Router) insertNodes(tr *metadata.TableRule, tc *condition.TableConditions, h hint.Values) ([]metadata.DataNode, map[metadata.DataNode][]int, error) {
	if tc.Broadcast() {
		nodes, err := r.shard(tr, nil, h)
		if err != nil {
			return nil, nil, err
		}
		if len(nodes) > 1 {
			return nil, nil, errors.Wrapf(ErrInsertMultiNodes, "%s without sharding values", tr.LogicTable)
		}
		return nodes, nil, nil
	}
	rows := map[metadata.DataNode][]int{}
	var order []metadata.DataNode
	for i, c := range tc.Conditions {
		nodes, err := r.shard(tr, c.Values, h)
		if err != nil {
			return nil, nil, err
		}
		switch len(nodes) {
		case 0:
			return nil, nil, errors.Wrapf(ErrNoDataNode, "%s row %d", tr.LogicTable, i+1)
		case 1:
		default:
			return nil, nil, errors.Wrapf(ErrInsertMultiNodes, "%s row %d: %v", tr.LogicTable, i+1, nodes)
		}
		n := nodes[0]
		if _, ok := rows[n]; !ok {
			order = append(order, n)
		}
		rows[n] = append(rows[n], i)
	}
	if len(order) == 1 {
		// 单节点时保留原始VALUES
		return order, nil, nil
	}
	return order, rows, nil
}

// shard applies the database strategy then the table strategy of each
// selected data source. Only configured data nodes are returned.
func (r *Router) shard(tr *metadata.TableRule, values []algorithm.ColumnValues, h hint.Values) ([]metadata.DataNode, error) {
	dss, err := tr.DatabaseStrategy.Shard(tr.DataSourceNames(), tr.LogicTable, values, h.DatabaseHints(tr.LogicTable))
	if err != nil {
		return nil, errors.Wrapf(err, "%s database sharding", tr.LogicTable)
	}
	var out []metadata.DataNode
	for _, ds := range dss {
		tables, err := tr.TableStrategy.Shard(tr.ActualTables(ds), tr.LogicTable, values, h.TableHints(tr.LogicTable))
		if err != nil {
			return nil, errors.Wrapf(err, "%s table sharding", tr.LogicTable)
		}
		for _, t := range tables {
			if n := (metadata.DataNode{DataSource: ds, Table: t}); tr.Contains(n) {
				out = append(out, n)
			}
		}
	}
	return out, nil
}

// cartesian routes tables that are not bound together: every combination of
// their actual tables that lives on one data source becomes a unit.
func (r *Router) cartesian(tables []*metadata.TableRule, conds map[string]*condition.TableConditions, h hint.Values) (*RoutingResult, error) {
	perTable := make([]map[string][]string, len(tables))
	var sources []string
	for i, tr := range tables {
		nodes, err := r.tableNodes(tr, conds[strings.ToLower(tr.LogicTable)], h)
		if err != nil {
			return nil, err
		}
		perTable[i] = map[string][]string{}
		for _, n := range nodes {
			k := strings.ToLower(n.DataSource)
			if i == 0 && len(perTable[0][k]) == 0 {
				sources = append(sources, n.DataSource)
			}
			perTable[i][k] = append(perTable[i][k], n.Table)
		}
	}
	res := &RoutingResult{Engine: EngineCartesian}
	for _, ds := range sources {
		k := strings.ToLower(ds)
		combos := [][]TableUnit{nil}
		for i, tr := range tables {
			var next [][]TableUnit
			for _, prefix := range combos {
				for _, actual := range perTable[i][k] {
					combo := append(append([]TableUnit(nil), prefix...), TableUnit{LogicTable: tr.LogicTable, ActualTable: actual})
					next = append(next, combo)
				}
			}
			combos = next
		}
		for _, combo := range combos {
			res.Units = append(res.Units, RoutingUnit{DataSource: ds, Tables: combo})
		}
	}
	return res, nil
}

func (r *Router) tableBroadcast(stmt *statement.Context) *RoutingResult {
	res := &RoutingResult{Engine: EngineTableBroadcast}
	for _, tr := range r.shardedTables(stmt) {
		for _, n := range tr.DataNodes {
			res.Units = append(res.Units, RoutingUnit{
				DataSource: n.DataSource,
				Tables:     []TableUnit{{LogicTable: tr.LogicTable, ActualTable: n.Table}},
			})
		}
	}
	return res
}

func (r *Router) databaseBroadcast() *RoutingResult {
	res := &RoutingResult{Engine: EngineDatabaseBroadcast}
	for _, ds := range r.rule.DataSourceNames() {
		res.Units = append(res.Units, RoutingUnit{DataSource: ds})
	}
	return res
}

// instanceBroadcast picks one primary data source per database instance.
func (r *Router) instanceBroadcast() *RoutingResult {
	res := &RoutingResult{Engine: EngineInstanceBroadcast}
	seen := map[string]bool{}
	for _, ds := range r.rule.DataSourceNames() {
		physical := ds
		if g, ok := r.rule.ReadwriteGroup(ds); ok {
			physical = g.Primary
		}
		if r.rule.IsReplica(physical) {
			continue
		}
		instance := physical
		if d, ok := r.rule.DataSource(physical); ok {
			instance = d.Instance()
		}
		if k := strings.ToLower(instance); !seen[k] {
			seen[k] = true
			res.Units = append(res.Units, RoutingUnit{DataSource: ds, ActualDataSource: physical})
		}
	}
	return res
}

// unicast routes to a single data source: the hinted one, else the first
// node of the first sharded table, else the first data source.
func (r *Router) unicast(stmt *statement.Context, h hint.Values) (*RoutingResult, error) {
	res := &RoutingResult{Engine: EngineUnicast}
	pinned := h.DataSource
	if pinned != "" && !r.hasDataSource(pinned) {
		return nil, errors.Wrapf(ErrUnknownDataSource, "%q", pinned)
	}
	sharded := r.shardedTables(stmt)
	if len(sharded) == 0 {
		ds := pinned
		if ds == "" {
			names := r.rule.DataSourceNames()
			if len(names) == 0 {
				return res, nil
			}
			ds = names[0]
			if d := r.rule.DefaultDataSource(); d != "" {
				ds = d
			}
		}
		res.Units = []RoutingUnit{{DataSource: ds}}
		return res, nil
	}
	ds := pinned
	if ds == "" {
		first, ok := sharded[0].FirstNode()
		if !ok {
			return res, nil
		}
		ds = first.DataSource
	}
	unit := RoutingUnit{DataSource: ds}
	for _, tr := range sharded {
		if tables := tr.ActualTables(ds); len(tables) > 0 {
			unit.Tables = append(unit.Tables, TableUnit{LogicTable: tr.LogicTable, ActualTable: tables[0]})
		}
	}
	res.Units = []RoutingUnit{unit}
	return res, nil
}

// defaultRoute sends statements over unsharded tables to the default data
// source, or to the only data source when there is exactly one.
func (r *Router) defaultRoute(stmt *statement.Context) (*RoutingResult, error) {
	ds := r.rule.DefaultDataSource()
	if ds == "" {
		names := r.rule.DataSourceNames()
		if len(names) != 1 {
			return nil, errors.Wrapf(ErrNoDefaultDataSource, "tables %v", stmt.TableNames())
		}
		ds = names[0]
	}
	unit := RoutingUnit{DataSource: ds}
	for _, name := range stmt.TableNames() {
		unit.Tables = append(unit.Tables, TableUnit{LogicTable: name, ActualTable: name})
	}
	return &RoutingResult{Engine: EngineDefault, Units: []RoutingUnit{unit}}, nil
}

func (r *Router) hasDataSource(name string) bool {
	for _, ds := range r.rule.DataSourceNames() {
		if strings.EqualFold(ds, name) {
			return true
		}
	}
	return false
}

// decorate resolves readwrite groups to physical data sources. Writes and
// primary-only reads go to the primary; other reads are balanced over the
// replicas.
func (r *Router) decorate(res *RoutingResult, primary bool) {
	for i := range res.Units {
		u := &res.Units[i]
		if u.ActualDataSource == "" {
			u.ActualDataSource = r.ActualDataSource(u.DataSource, primary)
		}
	}
}

// ActualDataSource resolves a logical data source to a physical one.
func (r *Router) ActualDataSource(name string, primary bool) string {
	g, ok := r.rule.ReadwriteGroup(name)
	if !ok {
		return name
	}
	if primary || len(g.Replicas) == 0 || g.Balance == metadata.BalancePrimary {
		return g.Primary
	}
	if g.Balance == metadata.BalanceFirst {
		return g.Replicas[0]
	}
	n := atomic.AddUint64(r.counters[strings.ToLower(g.Name)], 1) - 1
	return g.Replicas[n%uint64(len(g.Replicas))]
}
