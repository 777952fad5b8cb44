package shardroute

import (
	"context"
	"database/sql/driver"

	"github.com/pkg/errors"

	"gorm/shardroute/route"
	"gorm/shardroute/statement"
)

// parse 解析sql并绑定参数. driver.Valuer arguments are resolved first so
// sharding algorithms see plain values.
func (dr *DBRoute) parse(sql string, vars []any) (*statement.Context, error) {
	stmt, err := dr.parser.Parse(sql)
	if err != nil {
		return nil, err
	}
	params := make([]any, len(vars))
	for i, v := range vars {
		if params[i], err = bindValue(v); err != nil {
			return nil, errors.Wrapf(err, "bind parameter %d", i+1)
		}
	}
	return stmt.Bind(params), nil
}

func bindValue(v any) (any, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		return valuer.Value()
	}
	return v, nil
}

// plan parses and routes a statement, recording route metrics.
func (dr *DBRoute) plan(ctx context.Context, sql string, vars []any) (*statement.Context, *route.RoutingResult, error) {
	stmt, err := dr.parse(sql, vars)
	if err != nil {
		return nil, nil, err
	}
	res, err := dr.router.Route(ctx, stmt)
	if err != nil {
		return nil, nil, err
	}
	dr.metrics.observe(stmt.Category, res)
	return stmt, res, nil
}
