package shardroute

import (
	"time"

	"gorm.io/gorm"
)

// configurePool applies the non-zero pool limits of dc to connPool.
func configurePool(connPool gorm.ConnPool, dc DialectorConfig) {
	if dc.MaxOpen != 0 {
		if conn, ok := connPool.(interface{ SetMaxOpenConns(int) }); ok {
			conn.SetMaxOpenConns(dc.MaxOpen)
		}
	}
	if dc.MaxIdleConns != 0 {
		if conn, ok := connPool.(interface{ SetMaxIdleConns(int) }); ok {
			conn.SetMaxIdleConns(dc.MaxIdleConns)
		}
	}
	if dc.MaxLifetime != 0 {
		if conn, ok := connPool.(interface{ SetConnMaxLifetime(time.Duration) }); ok {
			conn.SetConnMaxLifetime(dc.MaxLifetime)
		}
	}
	if dc.MaxIdleTime != 0 {
		if conn, ok := connPool.(interface{ SetConnMaxIdleTime(time.Duration) }); ok {
			conn.SetConnMaxIdleTime(dc.MaxIdleTime)
		}
	}
}
