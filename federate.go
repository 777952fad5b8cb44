package shardroute

import (
	"context"
	"database/sql"

	"golang.org/x/sync/errgroup"

	"gorm/shardroute/merge"
	"gorm/shardroute/route"
	"gorm/shardroute/statement"
)

// QueryContext routes a query, runs it on every routing unit in parallel and
// merges the unit results. The caller closes the merged result.
func (dr *DBRoute) QueryContext(ctx context.Context, query string, args ...any) (merge.MergedResult, error) {
	stmt, res, err := dr.plan(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return dr.query(ctx, stmt, res)
}

// ExecContext routes a statement, runs it on every routing unit in parallel
// and sums the affected rows.
func (dr *DBRoute) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	stmt, res, err := dr.plan(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return dr.exec(ctx, stmt, res)
}

func (dr *DBRoute) query(ctx context.Context, stmt *statement.Context, res *route.RoutingResult) (merge.MergedResult, error) {
	merging := !res.IsSingle()
	results := make([]merge.QueryResult, len(res.Units))
	// rows outlive the group, so units run on ctx rather than a group context
	var g errgroup.Group
	for i, unit := range res.Units {
		i, unit := i, unit
		g.Go(func() error {
			query, args, err := unitSQL(stmt, unit, merging)
			if err != nil {
				return err
			}
			connPool, err := dr.pool(unit.ActualDataSource)
			if err != nil {
				return err
			}
			rows, err := connPool.QueryContext(ctx, query, args...)
			if err != nil {
				return err
			}
			r, err := merge.NewRowsResult(rows)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range results {
			if r != nil {
				_ = r.Close()
			}
		}
		return nil, err
	}
	return dr.merger.Merge(stmt, res, results)
}

func (dr *DBRoute) exec(ctx context.Context, stmt *statement.Context, res *route.RoutingResult) (sql.Result, error) {
	results := make([]merge.ExecResult, len(res.Units))
	g, gctx := errgroup.WithContext(ctx)
	for i, unit := range res.Units {
		i, unit := i, unit
		g.Go(func() error {
			query, args, err := unitSQL(stmt, unit, false)
			if err != nil {
				return err
			}
			connPool, err := dr.pool(unit.ActualDataSource)
			if err != nil {
				return err
			}
			r, err := connPool.ExecContext(gctx, query, args...)
			if err != nil {
				return err
			}
			results[i], err = merge.FromSQLResult(r)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merge.MergeUpdate(results), nil
}
