package shardroute

import (
	"strings"

	"gorm.io/gorm"

	"gorm/shardroute/expand"
)

func (dr *DBRoute) registerCallbacks(db *gorm.DB) {
	name := dr.Name()
	_ = db.Callback().Create().Before("*").Register(name, dr.switchWrite)
	_ = db.Callback().Query().Before("*").Register(name, dr.switchRead)
	_ = db.Callback().Update().Before("*").Register(name, dr.switchWrite)
	_ = db.Callback().Delete().Before("*").Register(name, dr.switchWrite)
	_ = db.Callback().Row().Before("*").Register(name, dr.switchRead)
	_ = db.Callback().Raw().Before("*").Register(name, dr.switchGuess)
}

// base 事务中的语句不路由, they stay on the connection of the transaction
func (dr *DBRoute) base(db *gorm.DB, op func(*gorm.DB) Operation) {
	if db.Error != nil || isTransaction(db.Statement.ConnPool) {
		return
	}
	expand.ClearWhereTableName(db)
	expand.PreBuildSql(db)
	dr.route(db, op(db))
}

func (dr *DBRoute) switchWrite(db *gorm.DB) {
	dr.base(db, func(*gorm.DB) Operation { return Write })
}

func (dr *DBRoute) switchRead(db *gorm.DB) {
	dr.base(db, readOperation)
}

func (dr *DBRoute) switchGuess(db *gorm.DB) {
	dr.base(db, guessOperation)
}

// readOperation: locking reads and Primary() go to the primary.
func readOperation(db *gorm.DB) Operation {
	if db.Statement.SQL.Len() > 0 {
		return guessOperation(db)
	}
	_, locking := db.Statement.Clauses["FOR"]
	if _, ok := db.Statement.Settings.Load(writeName); ok || locking {
		return Write
	}
	return Read
}

// guessOperation classifies raw sql: only a plain SELECT reads.
func guessOperation(db *gorm.DB) Operation {
	if _, ok := db.Statement.Settings.Load(writeName); ok {
		return Write
	}
	rawSQL := strings.TrimSpace(db.Statement.SQL.String())
	if len(rawSQL) > 10 && strings.EqualFold(rawSQL[:6], "select") && !strings.EqualFold(rawSQL[len(rawSQL)-10:], "for update") {
		return Read
	}
	return Write
}

func isTransaction(connPool gorm.ConnPool) bool {
	_, ok := connPool.(gorm.TxCommitter)
	return ok
}
