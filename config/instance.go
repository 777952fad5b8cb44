package config

import (
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"gorm/shardroute/metadata"
)

// ErrUnknownDBType 不支持的数据库类型
var ErrUnknownDBType = errors.New("unknown db type")

// InstanceCache 解析DSN得到实例地址, caching by db type and dsn. It is passed
// explicitly to whatever builds rules.
type InstanceCache struct {
	mu      sync.Mutex
	entries map[string]metadata.DataSource
}

func NewInstanceCache() *InstanceCache {
	return &InstanceCache{entries: map[string]metadata.DataSource{}}
}

// Resolve returns the physical data source of cfg named name.
func (c *InstanceCache) Resolve(name string, cfg DBConfig) (metadata.DataSource, error) {
	key := strings.ToLower(cfg.DBType) + "|" + cfg.DSN
	c.mu.Lock()
	ds, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		host, port, err := instanceAddr(cfg)
		if err != nil {
			return metadata.DataSource{}, errors.Wrapf(err, "data source %s", name)
		}
		ds = metadata.DataSource{Host: host, Port: port}
		c.mu.Lock()
		c.entries[key] = ds
		c.mu.Unlock()
	}
	ds.Name = name
	return ds, nil
}

func instanceAddr(cfg DBConfig) (string, int, error) {
	switch strings.ToLower(cfg.DBType) {
	case "mysql":
		dsn, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return "", 0, errors.Wrap(err, "parse mysql dsn")
		}
		if dsn.Net == "unix" {
			return dsn.Addr, 0, nil
		}
		host, port, err := net.SplitHostPort(dsn.Addr)
		if err != nil {
			return "", 0, errors.Wrapf(err, "mysql addr %s", dsn.Addr)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return "", 0, errors.Wrapf(err, "mysql port %s", port)
		}
		return host, p, nil
	case "postgres":
		pc, err := pgconn.ParseConfig(cfg.DSN)
		if err != nil {
			return "", 0, errors.Wrap(err, "parse postgres dsn")
		}
		return pc.Host, int(pc.Port), nil
	}
	return "", 0, errors.Wrap(ErrUnknownDBType, cfg.DBType)
}
