// Package expand builds gorm statements ahead of the gorm callbacks so the
// sql exists when it is routed.
package expand

import (
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/callbacks"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// ClearWhereTableName
//
//	@Description: 清空where条件中的前置表名, so conditions match the actual
//	table after the logic table is renamed
//	@param db
func ClearWhereTableName(db *gorm.DB) {
	if cs, ok := db.Statement.Clauses["WHERE"]; ok {
		if whereClause, ok := cs.Expression.(clause.Where); ok {
			clearExprs(whereClause.Exprs)
		}
	}
}

func clearExprs(exprs []clause.Expression) {
	for index, expr := range exprs {
		switch e := expr.(type) {
		case clause.Eq:
			e.Column = clearColumn(e.Column)
			exprs[index] = e
		case clause.Neq:
			e.Column = clearColumn(e.Column)
			exprs[index] = e
		case clause.Gt:
			e.Column = clearColumn(e.Column)
			exprs[index] = e
		case clause.Gte:
			e.Column = clearColumn(e.Column)
			exprs[index] = e
		case clause.Lt:
			e.Column = clearColumn(e.Column)
			exprs[index] = e
		case clause.Lte:
			e.Column = clearColumn(e.Column)
			exprs[index] = e
		case clause.Like:
			e.Column = clearColumn(e.Column)
			exprs[index] = e
		case clause.IN:
			e.Column = clearColumn(e.Column)
			exprs[index] = e
		case clause.AndConditions:
			clearExprs(e.Exprs)
		case clause.OrConditions:
			clearExprs(e.Exprs)
		case clause.NotConditions:
			clearExprs(e.Exprs)
		}
	}
}

func clearColumn(column any) any {
	if col, ok := column.(clause.Column); ok {
		col.Table = ""
		return col
	}
	return column
}

// PreBuildSql
//
//	@Description: 提前构造SQL，用于路由
//	@param db
func PreBuildSql(db *gorm.DB) {
	if db.Statement.SQL.Len() != 0 || len(db.Statement.BuildClauses) == 0 {
		return
	}
	switch db.Statement.BuildClauses[0] {
	case "INSERT":
		db.Statement.SQL.Grow(180)
		db.Statement.AddClauseIfNotExists(clause.Insert{})
		db.Statement.AddClause(callbacks.ConvertToCreateValues(db.Statement))
		db.Statement.Build(db.Statement.BuildClauses...)
	case "UPDATE":
		db.Statement.SQL.Grow(180)
		db.Statement.AddClauseIfNotExists(clause.Update{})
		if _, ok := db.Statement.Clauses["SET"]; !ok {
			set := callbacks.ConvertToAssignments(db.Statement)
			if len(set) == 0 {
				return
			}
			db.Statement.AddClause(set)
		}
		db.Statement.Build(db.Statement.BuildClauses...)
	case "SELECT":
		callbacks.BuildQuerySQL(db)
	case "DELETE":
		db.Statement.SQL.Grow(100)
		db.Statement.AddClauseIfNotExists(clause.Delete{})
		if db.Statement.Schema != nil {
			addPrimaryKeys(db, db.Statement.ReflectValue)
			if db.Statement.ReflectValue.CanAddr() && db.Statement.Dest != db.Statement.Model && db.Statement.Model != nil {
				addPrimaryKeys(db, reflect.ValueOf(db.Statement.Model))
			}
		}
		db.Statement.AddClauseIfNotExists(clause.From{})
		db.Statement.Build(db.Statement.BuildClauses...)
	}
}

// addPrimaryKeys restricts a DELETE to the primary keys held by value.
func addPrimaryKeys(db *gorm.DB, value reflect.Value) {
	_, queryValues := schema.GetIdentityFieldValuesMap(db.Statement.Context, value, db.Statement.Schema.PrimaryFields)
	column, values := schema.ToQueryValues(db.Statement.Table, db.Statement.Schema.PrimaryFieldDBNames, queryValues)
	if len(values) > 0 {
		db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{clause.IN{Column: column, Values: values}}})
	}
}
