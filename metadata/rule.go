package metadata

import (
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Balance 读写分离组的从库选择策略
type Balance string

const (
	BalanceRoundRobin Balance = "ROUND_ROBIN"
	BalanceFirst      Balance = "FIRST"
	BalancePrimary    Balance = "PRIMARY"
)

// ParseBalance parses a balance name; empty means FIRST so that identical
// statements resolve to the same replica.
func ParseBalance(s string) (Balance, error) {
	switch b := Balance(strings.ToUpper(strings.TrimSpace(s))); b {
	case "":
		return BalanceFirst, nil
	case BalanceRoundRobin, BalanceFirst, BalancePrimary:
		return b, nil
	}
	return "", errors.Wrapf(ErrInvalidRule, "unknown balance %q", s)
}

// DataSource 物理数据源
type DataSource struct {
	Name string
	Host string
	Port int
}

// Instance returns host:port, or the data source name when the address is unknown.
func (d DataSource) Instance() string {
	if d.Host == "" {
		return d.Name
	}
	return net.JoinHostPort(strings.ToLower(d.Host), strconv.Itoa(d.Port))
}

// ReadwriteGroup 读写分离组: 一个主库 + 多个从库
type ReadwriteGroup struct {
	Name     string
	Primary  string
	Replicas []string
	Balance  Balance
}

// ShardingRule 分片规则, 构建后不可变
type ShardingRule struct {
	tables            map[string]*TableRule
	order             []*TableRule
	defaultDataSource string
	bindingGroups     [][]string
	bindingIndex      map[string]int
	dataSources       map[string]DataSource
	readwrite         map[string]ReadwriteGroup
	replicas          map[string]bool
	logicByActual     map[string]string
}

// Option configures a ShardingRule.
type Option func(*ShardingRule)

// WithDefaultDataSource sets the data source of unsharded tables.
func WithDefaultDataSource(name string) Option {
	return func(r *ShardingRule) { r.defaultDataSource = name }
}

// WithBindingGroup declares tables sharded identically; they route together.
func WithBindingGroup(tables ...string) Option {
	return func(r *ShardingRule) {
		group := make([]string, 0, len(tables))
		for _, t := range tables {
			group = append(group, strings.ToLower(strings.TrimSpace(t)))
		}
		r.bindingGroups = append(r.bindingGroups, group)
	}
}

// WithDataSource registers a physical data source.
func WithDataSource(ds DataSource) Option {
	return func(r *ShardingRule) { r.dataSources[strings.ToLower(ds.Name)] = ds }
}

// WithReadwriteGroup registers a readwrite splitting group; data nodes refer
// to the group name.
func WithReadwriteGroup(g ReadwriteGroup) Option {
	return func(r *ShardingRule) {
		if g.Balance == "" {
			g.Balance = BalanceFirst
		}
		r.readwrite[strings.ToLower(g.Name)] = g
	}
}

// NewShardingRule builds an immutable rule.
func NewShardingRule(tables []*TableRule, opts ...Option) (*ShardingRule, error) {
	r := &ShardingRule{
		tables:        map[string]*TableRule{},
		bindingIndex:  map[string]int{},
		dataSources:   map[string]DataSource{},
		readwrite:     map[string]ReadwriteGroup{},
		replicas:      map[string]bool{},
		logicByActual: map[string]string{},
	}
	for _, t := range tables {
		k := strings.ToLower(t.LogicTable)
		if _, dup := r.tables[k]; dup {
			return nil, errors.Wrapf(ErrInvalidRule, "duplicate table rule %s", t.LogicTable)
		}
		r.tables[k] = t
		r.order = append(r.order, t)
		for _, n := range t.DataNodes {
			if _, ok := r.logicByActual[strings.ToLower(n.Table)]; !ok {
				r.logicByActual[strings.ToLower(n.Table)] = t.LogicTable
			}
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	for gi, group := range r.bindingGroups {
		if err := r.checkBindingGroup(group); err != nil {
			return nil, err
		}
		for _, t := range group {
			if _, ok := r.bindingIndex[t]; ok {
				return nil, errors.Wrapf(ErrInvalidRule, "table %s is in more than one binding group", t)
			}
			r.bindingIndex[t] = gi
		}
	}
	for _, g := range r.readwrite {
		if g.Primary == "" {
			return nil, errors.Wrapf(ErrInvalidRule, "readwrite group %s has no primary", g.Name)
		}
		for _, replica := range g.Replicas {
			r.replicas[strings.ToLower(replica)] = true
		}
	}
	return r, nil
}

// checkBindingGroup requires every table of a group to have the same data
// sources and the same number of actual tables on each of them.
func (r *ShardingRule) checkBindingGroup(group []string) error {
	var first *TableRule
	for _, name := range group {
		t, ok := r.tables[name]
		if !ok {
			return errors.Wrapf(ErrInvalidRule, "binding table %s has no table rule", name)
		}
		if first == nil {
			first = t
			continue
		}
		a, b := first.DataSourceNames(), t.DataSourceNames()
		if len(a) != len(b) {
			return errors.Wrapf(ErrInvalidRule, "binding tables %s and %s differ in data sources", first.LogicTable, t.LogicTable)
		}
		for i := range a {
			if !strings.EqualFold(a[i], b[i]) || len(first.ActualTables(a[i])) != len(t.ActualTables(b[i])) {
				return errors.Wrapf(ErrInvalidRule, "binding tables %s and %s differ on %s", first.LogicTable, t.LogicTable, a[i])
			}
		}
	}
	return nil
}

// TableRule looks a logic table up case-insensitively.
func (r *ShardingRule) TableRule(logicTable string) (*TableRule, bool) {
	t, ok := r.tables[strings.ToLower(logicTable)]
	return t, ok
}

// TableRules returns the rules in configuration order.
func (r *ShardingRule) TableRules() []*TableRule {
	return r.order
}

// DefaultDataSource returns the data source of unsharded tables.
func (r *ShardingRule) DefaultDataSource() string {
	return r.defaultDataSource
}

// DataSource returns a physical data source.
func (r *ShardingRule) DataSource(name string) (DataSource, bool) {
	ds, ok := r.dataSources[strings.ToLower(name)]
	return ds, ok
}

// PhysicalDataSources returns the physical data sources sorted by name.
func (r *ShardingRule) PhysicalDataSources() []DataSource {
	out := make([]DataSource, 0, len(r.dataSources))
	for _, ds := range r.dataSources {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ReadwriteGroup returns the readwrite group with the given name.
func (r *ShardingRule) ReadwriteGroup(name string) (ReadwriteGroup, bool) {
	g, ok := r.readwrite[strings.ToLower(name)]
	return g, ok
}

// ReadwriteGroups returns the readwrite groups sorted by name.
func (r *ShardingRule) ReadwriteGroups() []ReadwriteGroup {
	out := make([]ReadwriteGroup, 0, len(r.readwrite))
	for _, g := range r.readwrite {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsReplica reports whether a physical data source is a replica of some group.
func (r *ShardingRule) IsReplica(name string) bool {
	return r.replicas[strings.ToLower(name)]
}

// DataSourceNames returns the logical data source names, sorted: every data
// node source, the default source, every readwrite group and every physical
// source that is not a member of a group.
func (r *ShardingRule) DataSourceNames() []string {
	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		if k := strings.ToLower(name); name != "" && !seen[k] {
			seen[k] = true
			out = append(out, name)
		}
	}
	members := map[string]bool{}
	for _, g := range r.readwrite {
		add(g.Name)
		members[strings.ToLower(g.Primary)] = true
		for _, replica := range g.Replicas {
			members[strings.ToLower(replica)] = true
		}
	}
	for _, t := range r.order {
		for _, ds := range t.DataSourceNames() {
			add(ds)
		}
	}
	add(r.defaultDataSource)
	for k, ds := range r.dataSources {
		if !members[k] {
			add(ds.Name)
		}
	}
	sort.Strings(out)
	return out
}

// LogicTable maps an actual table back to its logic table.
func (r *ShardingRule) LogicTable(actualTable string) (string, bool) {
	t, ok := r.logicByActual[strings.ToLower(actualTable)]
	return t, ok
}

// IsBindingGroup reports whether all tables belong to one binding group.
func (r *ShardingRule) IsBindingGroup(tables []string) bool {
	if len(tables) < 2 {
		return false
	}
	group, ok := r.bindingIndex[strings.ToLower(tables[0])]
	if !ok {
		return false
	}
	for _, t := range tables[1:] {
		if g, ok := r.bindingIndex[strings.ToLower(t)]; !ok || g != group {
			return false
		}
	}
	return true
}

// BindingActualTable maps an actual table of logicTable to the actual table of
// bindingTable at the same position on the same data source.
func (r *ShardingRule) BindingActualTable(logicTable, dataSource, actualTable, bindingTable string) (string, error) {
	primary, ok1 := r.TableRule(logicTable)
	other, ok2 := r.TableRule(bindingTable)
	if !ok1 || !ok2 {
		return "", errors.Wrapf(ErrInvalidRule, "binding tables %s, %s", logicTable, bindingTable)
	}
	tables := primary.ActualTables(dataSource)
	others := other.ActualTables(dataSource)
	for i, t := range tables {
		if strings.EqualFold(t, actualTable) && i < len(others) {
			return others[i], nil
		}
	}
	return "", errors.Wrapf(ErrInvalidRule, "no binding actual table for %s.%s in %s", dataSource, actualTable, bindingTable)
}
