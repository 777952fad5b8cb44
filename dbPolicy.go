package shardroute

import (
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// pool 按物理数据源选取连接池. Without configured data sources every unit
// runs on the pool of the gorm DB itself.
func (dr *DBRoute) pool(actualDataSource string) (gorm.ConnPool, error) {
	if len(dr.pools) == 0 {
		return dr.DB.Config.ConnPool, nil
	}
	connPool, ok := dr.pools[strings.ToLower(actualDataSource)]
	if !ok {
		return nil, errors.Wrap(ErrNoPool, actualDataSource)
	}
	return connPool, nil
}

// statementPool wraps the pool in the prepared statement store when the
// statement prepares.
func (dr *DBRoute) statementPool(stmt *gorm.Statement, actualDataSource string) (gorm.ConnPool, error) {
	connPool, err := dr.pool(actualDataSource)
	if err != nil {
		return nil, err
	}
	if stmt.DB.PrepareStmt {
		if preparedStmt, ok := dr.prepareStmtStore[connPool]; ok {
			return &gorm.PreparedStmtDB{
				ConnPool: connPool,
				Mux:      preparedStmt.Mux,
				Stmts:    preparedStmt.Stmts,
			}, nil
		}
	}
	return connPool, nil
}
