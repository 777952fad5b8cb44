package shardroute

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	"gorm/shardroute/hint"
	"gorm/shardroute/route"
	"gorm/shardroute/statement"
)

// route
//
//	@Description: 路由gorm语句. A single unit rewrites the statement sql for
//	its actual tables and switches the statement to the unit's pool; writes
//	over several units run on a scatter pool; reads over several units fail
//	with ErrScatterRoute.
//	@param db
//	@param op
func (dr *DBRoute) route(db *gorm.DB, op Operation) {
	stmt := db.Statement
	if stmt.SQL.Len() == 0 {
		return
	}
	ctx := stmt.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if op == Write {
		ctx = hint.WithPrimary(ctx)
	}
	sctx, res, err := dr.plan(ctx, stmt.SQL.String(), stmt.Vars)
	if err != nil {
		_ = db.AddError(err)
		return
	}

	if res.IsSingle() {
		unit := res.Units[0]
		query, args, err := unitSQL(sctx, unit, false)
		if err != nil {
			_ = db.AddError(err)
			return
		}
		connPool, err := dr.statementPool(stmt, unit.ActualDataSource)
		if err != nil {
			_ = db.AddError(err)
			return
		}
		stmt.SQL.Reset()
		stmt.SQL.WriteString(query)
		stmt.Vars = args
		stmt.ConnPool = connPool
		if dr.config.TraceRouteMode {
			markStmtRouteMode(stmt, unit.String())
		}
		return
	}

	switch sctx.Category {
	case statement.Select, statement.DALUnicast, statement.DALBroadcast:
		_ = db.AddError(ErrScatterRoute)
	default:
		stmt.ConnPool = &scatterPool{ConnPool: stmt.ConnPool, dr: dr, stmt: sctx, routing: res}
	}
}

// scatterPool executes a write on every routing unit and sums the results.
// Queries are not merged through gorm.
type scatterPool struct {
	gorm.ConnPool
	dr      *DBRoute
	stmt    *statement.Context
	routing *route.RoutingResult
}

func (p *scatterPool) ExecContext(ctx context.Context, _ string, _ ...any) (sql.Result, error) {
	return p.dr.exec(ctx, p.stmt, p.routing)
}

func (p *scatterPool) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, ErrScatterRoute
}

func (p *scatterPool) PrepareContext(context.Context, string) (*sql.Stmt, error) {
	return nil, ErrScatterRoute
}
