// Package config loads datasource, logging and cache settings from a YAML
// file with OQL_ environment overrides.
package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "OQL"

// DataSource describes one database. DSN wins over the discrete fields.
type DataSource struct {
	Driver   string            `mapstructure:"driver"`
	DSN      string            `mapstructure:"dsn"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	User     string            `mapstructure:"user"`
	Password string            `mapstructure:"password"`
	Database string            `mapstructure:"database"`
	Params   map[string]string `mapstructure:"params"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// Log configures the SQL logger.
type Log struct {
	Level         string        `mapstructure:"level"`
	Format        string        `mapstructure:"format"`
	Color         bool          `mapstructure:"color"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

// Cache configures the query cache middlewares.
type Cache struct {
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	MemorySize    int           `mapstructure:"memory_size"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// Config is the root document.
type Config struct {
	DataSource DataSource `mapstructure:"datasource"`
	Log        Log        `mapstructure:"log"`
	Cache      Cache      `mapstructure:"cache"`
	Auditor    string     `mapstructure:"auditor"`
}

var defaults = map[string]any{
	"datasource.driver":             "sqlite3",
	"datasource.dsn":                "",
	"datasource.host":               "localhost",
	"datasource.port":               0,
	"datasource.user":               "",
	"datasource.password":           "",
	"datasource.database":           "",
	"datasource.params":             map[string]string{},
	"datasource.max_open_conns":     0,
	"datasource.max_idle_conns":     0,
	"datasource.conn_max_lifetime":  time.Duration(0),
	"datasource.conn_max_idle_time": time.Duration(0),
	"log.level":                     "info",
	"log.format":                    "text",
	"log.color":                     false,
	"log.slow_threshold":            200 * time.Millisecond,
	"cache.default_ttl":             5 * time.Minute,
	"cache.memory_size":             32 << 20,
	"cache.redis_addr":              "",
	"cache.redis_password":          "",
	"cache.redis_db":                0,
	"auditor":                       "",
}

// New returns a viper instance carrying the defaults and env bindings.
// OQL_DATASOURCE_DSN overrides datasource.dsn, and so on.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when not empty) and decodes the result.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
	}
	return Decode(v)
}

// Decode unmarshals a prepared viper instance.
func Decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if c.DataSource.Driver == "" {
		return nil, errors.New("datasource requires driver")
	}
	return &c, nil
}

// ConnString returns the driver specific DSN.
func (ds DataSource) ConnString() (string, error) {
	if ds.DSN != "" {
		return ds.DSN, nil
	}
	switch ds.Driver {
	case "mysql":
		c := mysql.NewConfig()
		c.User = ds.User
		c.Passwd = ds.Password
		c.Net = "tcp"
		c.Addr = net.JoinHostPort(ds.Host, strconv.Itoa(ds.portOr(3306)))
		c.DBName = ds.Database
		c.ParseTime = true
		if len(ds.Params) > 0 {
			c.Params = ds.Params
		}
		return c.FormatDSN(), nil
	case "postgres", "pgx":
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(ds.Host, strconv.Itoa(ds.portOr(5432))),
			Path:   "/" + ds.Database,
		}
		if ds.User != "" {
			u.User = url.UserPassword(ds.User, ds.Password)
		}
		q := url.Values{}
		q.Set("sslmode", "disable")
		for k, v := range ds.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		return pq.ParseURL(u.String())
	case "sqlite3", "sqlite":
		if ds.Database == "" {
			return "", errors.New("sqlite datasource requires database")
		}
		if len(ds.Params) == 0 {
			return ds.Database, nil
		}
		keys := make([]string, 0, len(ds.Params))
		for k := range ds.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + url.QueryEscape(ds.Params[k])
		}
		return "file:" + ds.Database + "?" + strings.Join(parts, "&"), nil
	}
	return "", fmt.Errorf("driver %q needs an explicit dsn", ds.Driver)
}

func (ds DataSource) portOr(def int) int {
	if ds.Port > 0 {
		return ds.Port
	}
	return def
}
