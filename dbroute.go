package shardroute

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"gorm/shardroute/merge"
	"gorm/shardroute/metadata"
	"gorm/shardroute/route"
	"gorm/shardroute/statement"
)

const (
	Write Operation = "write"
	Read  Operation = "read"

	// DefaultParserCacheSize 解析缓存默认大小
	DefaultParserCacheSize = 1024
)

var (
	// ErrScatterRoute is returned when a gorm query routes to more than one
	// unit; use DBRoute.QueryContext to merge such results.
	ErrScatterRoute = errors.New("query routes to more than one unit")
	// ErrNoPool is returned when a routed data source has no connection pool.
	ErrNoPool = errors.New("no connection pool for data source")
)

type DBRoute struct {
	*gorm.DB
	config           Config
	parser           *statement.Parser
	router           *route.Router
	merger           *merge.Engine
	metrics          *metrics
	pools            map[string]gorm.ConnPool
	prepareStmtStore map[gorm.ConnPool]*gorm.PreparedStmtDB
}

type Config struct {
	Rule *metadata.ShardingRule
	// DataSources 物理数据源, 按名称; empty means every data source uses the
	// connection pool of the gorm DB the plugin is installed on.
	DataSources map[string]DialectorConfig
	// ParserCacheSize caps the parsed statement cache; negative disables it.
	ParserCacheSize int
	// Schema is the logical database name returned by SHOW DATABASES.
	Schema string
	// 打印路由信息
	TraceRouteMode bool
	// CaseInsensitiveOrder 归并排序时字符串忽略大小写
	CaseInsensitiveOrder bool
	// Registerer receives the route metrics; nil disables them.
	Registerer prometheus.Registerer
}

// DialectorConfig dialector及连接池配置
type DialectorConfig struct {
	Dialector    gorm.Dialector
	MaxOpen      int
	MaxIdleConns int
	MaxLifetime  time.Duration
	MaxIdleTime  time.Duration
}

func Register(config Config) *DBRoute {
	return &DBRoute{config: config}
}

func (dr *DBRoute) Name() string {
	return "gorm:shard_route"
}

func (dr *DBRoute) Initialize(db *gorm.DB) error {
	if dr.config.Rule == nil {
		return errors.New("shardroute: sharding rule is required")
	}
	dr.DB = db
	if err := dr.compile(); err != nil {
		return err
	}
	dr.registerCallbacks(db)
	return nil
}

func (dr *DBRoute) compile() (err error) {
	size := dr.config.ParserCacheSize
	if size == 0 {
		size = DefaultParserCacheSize
	}
	if dr.parser, err = statement.NewParser(size); err != nil {
		return err
	}
	if dr.metrics, err = newMetrics(dr.config.Registerer); err != nil {
		return err
	}

	opts := []route.Option{}
	if dr.config.TraceRouteMode {
		dr.Logger = NewRouteModeLogger(dr.Logger)
		opts = append(opts, route.WithLogger(dr.Logger))
	}
	dr.router = route.New(dr.config.Rule, opts...)
	mergeOpts := []merge.Option{merge.WithSchema(dr.config.Schema)}
	if dr.config.CaseInsensitiveOrder {
		mergeOpts = append(mergeOpts, merge.WithCaseInsensitiveOrder())
	}
	dr.merger = merge.NewEngine(dr.config.Rule, mergeOpts...)

	dr.pools = map[string]gorm.ConnPool{}
	dr.prepareStmtStore = map[gorm.ConnPool]*gorm.PreparedStmtDB{}
	config := *dr.DB.Config
	for name, dc := range dr.config.DataSources {
		if dc.Dialector == nil {
			return errors.Errorf("shardroute: data source %s has no dialector", name)
		}
		db, err := gorm.Open(dc.Dialector, &config)
		if err != nil {
			return errors.Wrapf(err, "open data source %s", name)
		}
		connPool := db.Config.ConnPool
		if preparedStmtDB, ok := connPool.(*gorm.PreparedStmtDB); ok {
			connPool = preparedStmtDB.ConnPool
		}
		dr.prepareStmtStore[connPool] = &gorm.PreparedStmtDB{
			ConnPool:    db.Config.ConnPool,
			Stmts:       map[string]*gorm.Stmt{},
			Mux:         &sync.RWMutex{},
			PreparedSQL: make([]string, 0, 100),
		}
		configurePool(connPool, dc)
		dr.pools[strings.ToLower(name)] = connPool
	}
	return nil
}

// Router returns the routing engine of the plugin.
func (dr *DBRoute) Router() *route.Router {
	return dr.router
}

// DataSources returns the names of the opened physical data sources, sorted.
func (dr *DBRoute) DataSources() []string {
	names := make([]string, 0, len(dr.pools))
	for name := range dr.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
