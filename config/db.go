package config

import (
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"gorm/shardroute"
	"gorm/shardroute/algorithm"
	"gorm/shardroute/metadata"
)

// BuildRule builds the sharding rule with every configured data source
// registered; instance addresses come from cache.
func BuildRule(cfg *Config, reg *algorithm.Registry, cache *InstanceCache) (*metadata.ShardingRule, error) {
	if cache == nil {
		cache = NewInstanceCache()
	}
	var opts []metadata.Option
	for _, name := range cfg.dataSourceNames() {
		ds, err := cache.Resolve(name, cfg.DataSources[name])
		if err != nil {
			return nil, err
		}
		opts = append(opts, metadata.WithDataSource(ds))
	}
	return cfg.Sharding.Build(reg, opts...)
}

// NewOrmDB opens the default data source and installs the route plugin over
// every configured data source. registerer may be nil.
func NewOrmDB(cfg *Config, registerer prometheus.Registerer) (*gorm.DB, *shardroute.DBRoute, error) {
	name, ok := cfg.DefaultDataSource()
	if !ok {
		return nil, nil, errors.New("no data source configured")
	}
	rule, err := BuildRule(cfg, algorithm.DefaultRegistry(), NewInstanceCache())
	if err != nil {
		return nil, nil, err
	}
	defaultDialector, err := openDialector(cfg.DataSources[name])
	if err != nil {
		return nil, nil, err
	}
	db, err := gorm.Open(defaultDialector, defaultConfig(cfg.Orm))
	if err != nil {
		return nil, nil, errors.Wrap(err, "open default dialector")
	}

	dataSources := make(map[string]shardroute.DialectorConfig, len(cfg.DataSources))
	for dsName, dc := range cfg.DataSources {
		dialector, err := openDialector(dc)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "data source %s", dsName)
		}
		dataSources[dsName] = shardroute.DialectorConfig{
			Dialector:    dialector,
			MaxOpen:      dc.MaxOpenConns,
			MaxIdleConns: dc.MaxIdleConns,
			MaxLifetime:  time.Duration(dc.MaxLifetime) * time.Second,
			MaxIdleTime:  time.Duration(dc.MaxIdleTime) * time.Second,
		}
	}
	dbRoute := shardroute.Register(shardroute.Config{
		Rule:                 rule,
		DataSources:          dataSources,
		ParserCacheSize:      cfg.ParserCacheSize,
		Schema:               cfg.Schema,
		TraceRouteMode:       cfg.TraceRouteMode,
		CaseInsensitiveOrder: cfg.CaseInsensitiveOrder,
		Registerer:           registerer,
	})
	if err := db.Use(dbRoute); err != nil {
		return nil, nil, errors.Wrap(err, "install route plugin")
	}
	return db, dbRoute, nil
}

func (c *Config) dataSourceNames() []string {
	names := make([]string, 0, len(c.DataSources))
	for name := range c.DataSources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func openDialector(cfg DBConfig) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.DBType) {
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	}
	return nil, errors.Wrap(ErrUnknownDBType, cfg.DBType)
}

func defaultConfig(ormConfig OrmConfig) (config *gorm.Config) {
	level := logger.Warn
	if ormConfig.Debug {
		level = logger.Info
	}
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   ormConfig.TablePrefix,
			SingularTable: ormConfig.SingularTable,
		},
		Logger:      newLogger,
		PrepareStmt: true,
	}
}
