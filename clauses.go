package shardroute

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gorm/shardroute/hint"
)

type Operation string

const (
	writeName = "gorm:shard_route:write"
	usingName = "gorm:shard_route:using"
	hintName  = "gorm:shard_route:hint"
)

// Use pins routing to a logical data source, e.g. db.Clauses(Use("ds_1")).
func Use(dataSource string) clause.Expression {
	return hinting{name: usingName, apply: func(ctx context.Context) context.Context {
		return hint.WithDataSource(ctx, dataSource)
	}}
}

// DatabaseHint 指定逻辑表的分库提示值
func DatabaseHint(table string, values ...any) clause.Expression {
	return hinting{name: hintName, apply: func(ctx context.Context) context.Context {
		return hint.WithDatabaseValues(ctx, table, values...)
	}}
}

// TableHint 指定逻辑表的分表提示值
func TableHint(table string, values ...any) clause.Expression {
	return hinting{name: hintName, apply: func(ctx context.Context) context.Context {
		return hint.WithTableValues(ctx, table, values...)
	}}
}

// Primary routes reads of the statement to the primary data source.
func Primary() clause.Expression {
	return hinting{name: writeName, apply: hint.WithPrimary}
}

type hinting struct {
	name  string
	apply func(context.Context) context.Context
}

// ModifyStatement carries the hint on the statement context
func (h hinting) ModifyStatement(stmt *gorm.Statement) {
	ctx := stmt.Context
	if ctx == nil {
		ctx = context.Background()
	}
	stmt.Context = h.apply(ctx)
	if h.name == writeName {
		stmt.Settings.Store(writeName, true)
	}
}

// Build implements clause.Expression interface
func (h hinting) Build(clause.Builder) {
}
