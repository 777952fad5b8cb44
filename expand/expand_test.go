package expand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func TestClearWhereTableName(t *testing.T) {
	db := &gorm.DB{Statement: &gorm.Statement{Clauses: map[string]clause.Clause{}}}
	db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: "t_order", Name: "order_id"}, Value: 1},
		clause.IN{Column: clause.Column{Table: "t_order", Name: "user_id"}, Values: []any{1, 2}},
		clause.OrConditions{Exprs: []clause.Expression{
			clause.Gt{Column: clause.Column{Table: "t_order", Name: "amount"}, Value: 10},
			clause.Expr{SQL: "status = ?", Vars: []any{"paid"}},
		}},
		clause.Lte{Column: "created_at", Value: 3},
	}})

	ClearWhereTableName(db)

	exprs := db.Statement.Clauses["WHERE"].Expression.(clause.Where).Exprs
	assert.Equal(t, clause.Column{Name: "order_id"}, exprs[0].(clause.Eq).Column)
	assert.Equal(t, clause.Column{Name: "user_id"}, exprs[1].(clause.IN).Column)
	or := exprs[2].(clause.OrConditions)
	assert.Equal(t, clause.Column{Name: "amount"}, or.Exprs[0].(clause.Gt).Column)
	assert.Equal(t, clause.Expr{SQL: "status = ?", Vars: []any{"paid"}}, or.Exprs[1])
	assert.Equal(t, "created_at", exprs[3].(clause.Lte).Column)
}

func TestClearWhereTableNameNoWhere(t *testing.T) {
	db := &gorm.DB{Statement: &gorm.Statement{Clauses: map[string]clause.Clause{}}}
	assert.NotPanics(t, func() { ClearWhereTableName(db) })
}

func TestPreBuildSqlSkips(t *testing.T) {
	db := &gorm.DB{Statement: &gorm.Statement{Clauses: map[string]clause.Clause{}}}
	PreBuildSql(db)
	assert.Zero(t, db.Statement.SQL.Len())

	db.Statement.BuildClauses = []string{"SELECT"}
	db.Statement.SQL.WriteString("select 1")
	PreBuildSql(db)
	assert.Equal(t, "select 1", db.Statement.SQL.String())
}
