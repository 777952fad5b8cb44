package shardroute

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type routeModeKey struct{}

type routeModeLogger struct {
	logger.Interface
}

// Trace prefixes the sql with the routing unit it ran on, e.g. "[ds_1.t_order_0] select ...".
func (l routeModeLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	var splitFn = func() (sql string, rowsAffected int64) {
		sql, rowsAffected = fc()
		if unit, ok := ctx.Value(routeModeKey{}).(string); ok {
			sql = fmt.Sprintf("[%s] %s", unit, sql)
		}
		// transactions and scatter statements carry no unit
		return
	}
	l.Interface.Trace(ctx, begin, splitFn, err)
}

func (l routeModeLogger) LogMode(level logger.LogLevel) logger.Interface {
	return routeModeLogger{Interface: l.Interface.LogMode(level)}
}

func NewRouteModeLogger(l logger.Interface) logger.Interface {
	if _, ok := l.(routeModeLogger); ok {
		return l
	}
	return routeModeLogger{
		Interface: l,
	}
}

func markStmtRouteMode(stmt *gorm.Statement, unit string) {
	if _, ok := stmt.Logger.(routeModeLogger); ok {
		stmt.Context = context.WithValue(stmt.Context, routeModeKey{}, unit)
	}
}
