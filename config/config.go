package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"gorm/shardroute"
	"gorm/shardroute/util/str"
)

const (
	DefaultDatabaseName = "default"
)

// Config 路由配置
type Config struct {
	Orm OrmConfig `yaml:"orm"`
	// DataSources 物理数据源, 按名称
	DataSources map[string]DBConfig `yaml:"datasources"`
	// Sharding 分片规则
	Sharding shardroute.ShardingRuleModel `yaml:"sharding"`
	// Schema is the logical database name returned by SHOW DATABASES.
	Schema          string `yaml:"schema"`
	ParserCacheSize int    `yaml:"parser-cache-size"`
	TraceRouteMode  bool   `yaml:"trace-route-mode"`

	// 分片列使用 *_ci 排序规则时打开
	CaseInsensitiveOrder bool `yaml:"case-insensitive-order"`
}

// DBConfig database config
type DBConfig struct {
	DBType       string `yaml:"db-type"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max-open-conns"`
	MaxIdleConns int    `yaml:"max-idle-conns"`
	// seconds
	MaxLifetime int `yaml:"max-lifetime"`
	MaxIdleTime int `yaml:"max-idle-time"`
}

// OrmConfig orm global config
type OrmConfig struct {
	Debug         bool   `yaml:"debug"`
	TablePrefix   string `yaml:"table-prefix"`
	SingularTable bool   `yaml:"singular-table"`
}

// Load reads a yaml config file.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	return Parse(content)
}

// Parse decodes a yaml config.
func Parse(content []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return cfg, nil
}

// ParseRulesJSON decodes sharding rules kept as a json string, e.g. in a
// config center.
func ParseRulesJSON(s string) (shardroute.ShardingRuleModel, error) {
	var model shardroute.ShardingRuleModel
	if err := str.ConvertStrToStruct(s, &model); err != nil {
		return model, errors.Wrap(err, "sharding rules")
	}
	return model, nil
}

// DefaultDataSource returns the data source the gorm DB itself opens: the
// sharding default, a source named "default", or the first by name.
func (c *Config) DefaultDataSource() (string, bool) {
	if name := c.Sharding.DefaultDataSource; name != "" {
		if _, ok := c.DataSources[name]; ok {
			return name, true
		}
	}
	if _, ok := c.DataSources[DefaultDatabaseName]; ok {
		return DefaultDatabaseName, true
	}
	names := c.dataSourceNames()
	if len(names) == 0 {
		return "", false
	}
	return names[0], true
}
