package shardroute

import (
	"gorm/shardroute/route"
	"gorm/shardroute/statement"
)

// unitSQL 按路由单元改写sql: logic tables become the unit's actual tables, a
// split INSERT keeps only the unit's rows and merged SELECTs carry derived
// columns.
func unitSQL(stmt *statement.Context, unit route.RoutingUnit, merging bool) (string, []any, error) {
	if unit.InsertRows != nil {
		return stmt.RewriteInsert(unit.TableMap(), unit.InsertRows)
	}
	return stmt.Rewrite(unit.TableMap(), merging)
}
