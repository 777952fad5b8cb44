// Package route turns a bound statement into routing units over the data
// nodes of a sharding rule.
package route

import (
	"fmt"
	"sort"
	"strings"
)

// EngineKind 路由引擎类型
type EngineKind int

const (
	EngineStandard EngineKind = iota
	EngineCartesian
	EngineTableBroadcast
	EngineDatabaseBroadcast
	EngineInstanceBroadcast
	EngineUnicast
	EngineDefault
)

func (k EngineKind) String() string {
	switch k {
	case EngineStandard:
		return "STANDARD"
	case EngineCartesian:
		return "CARTESIAN"
	case EngineTableBroadcast:
		return "TABLE_BROADCAST"
	case EngineDatabaseBroadcast:
		return "DATABASE_BROADCAST"
	case EngineInstanceBroadcast:
		return "INSTANCE_BROADCAST"
	case EngineUnicast:
		return "UNICAST"
	case EngineDefault:
		return "DEFAULT"
	}
	return fmt.Sprintf("EngineKind(%d)", int(k))
}

// TableUnit maps a logic table to the actual table of one unit.
type TableUnit struct {
	LogicTable  string
	ActualTable string
}

// RoutingUnit 一次分片执行的目标: 逻辑数据源及其上的实际表
type RoutingUnit struct {
	DataSource string
	// ActualDataSource is the physical source after readwrite splitting.
	ActualDataSource string
	Tables           []TableUnit
	// InsertRows holds the 0-based VALUES rows an INSERT sends to this unit;
	// nil means every row.
	InsertRows []int
}

// TableMap returns lowercase logic table names mapped to actual tables.
func (u RoutingUnit) TableMap() map[string]string {
	m := make(map[string]string, len(u.Tables))
	for _, t := range u.Tables {
		m[strings.ToLower(t.LogicTable)] = t.ActualTable
	}
	return m
}

func (u RoutingUnit) String() string {
	ds := u.DataSource
	if u.ActualDataSource != "" && !strings.EqualFold(u.ActualDataSource, u.DataSource) {
		ds += "(" + u.ActualDataSource + ")"
	}
	if len(u.Tables) == 0 {
		return ds
	}
	tables := make([]string, len(u.Tables))
	for i, t := range u.Tables {
		tables[i] = t.ActualTable
	}
	return ds + "." + strings.Join(tables, ",")
}

func (u RoutingUnit) sortKey() string {
	var b strings.Builder
	for _, t := range u.Tables {
		b.WriteString(strings.ToLower(t.ActualTable))
		b.WriteByte(0)
	}
	return b.String()
}

// RoutingResult 路由结果
type RoutingResult struct {
	Engine EngineKind
	Units  []RoutingUnit
}

// IsSingle reports whether the statement runs on exactly one unit, in which
// case results need no merging.
func (r *RoutingResult) IsSingle() bool {
	return len(r.Units) == 1
}

// DataSources returns the distinct logical data sources in unit order.
func (r *RoutingResult) DataSources() []string {
	var out []string
	seen := map[string]bool{}
	for _, u := range r.Units {
		if k := strings.ToLower(u.DataSource); !seen[k] {
			seen[k] = true
			out = append(out, u.DataSource)
		}
	}
	return out
}

func (r *RoutingResult) String() string {
	units := make([]string, len(r.Units))
	for i, u := range r.Units {
		units[i] = u.String()
	}
	return fmt.Sprintf("%s[%s]", r.Engine, strings.Join(units, " "))
}

// sortUnits orders units by data source then actual tables.
func (r *RoutingResult) sortUnits() {
	sort.SliceStable(r.Units, func(i, j int) bool {
		a, b := r.Units[i], r.Units[j]
		if da, db := strings.ToLower(a.DataSource), strings.ToLower(b.DataSource); da != db {
			return da < db
		}
		return compareTables(a.sortKey(), b.sortKey()) < 0
	})
}

// compareTables compares table lists so that t_2 sorts before t_10.
func compareTables(a, b string) int {
	for a != "" && b != "" {
		pa, na := splitDigits(a)
		pb, nb := splitDigits(b)
		if pa != pb {
			return strings.Compare(pa, pb)
		}
		if len(na) != len(nb) {
			if len(na) < len(nb) {
				return -1
			}
			return 1
		}
		if c := strings.Compare(na, nb); c != 0 {
			return c
		}
		a, b = a[len(pa)+len(na):], b[len(pb)+len(nb):]
	}
	return strings.Compare(a, b)
}

// splitDigits splits s into a leading non-digit run and the digit run after it.
func splitDigits(s string) (prefix, digits string) {
	i := 0
	for i < len(s) && (s[i] < '0' || s[i] > '9') {
		i++
	}
	j := i
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	return s[:i], s[i:j]
}
