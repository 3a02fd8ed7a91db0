// Package oql builds parameterized SQL from typed entities and runs it.
//
//	db, err := oql.Open("mysql", dsn, nil)
//	b := &Book{}
//	var books []Book
//	_, err = db.List(ctx, db.From(b).Select(&b.ID, &b.Name).
//		Where(func(c *oql.Compare) *oql.Compare { return c.Like(&b.Name, "go%") }), &books)
//
// The subpackages hold the pieces: query (the builder), core (execution),
// model (entity metadata), dialect, middleware and config.
package oql

import (
	"github.com/redis/go-redis/v9"

	"github.com/shrek82/oql/config"
	"github.com/shrek82/oql/core"
	"github.com/shrek82/oql/middleware"
	"github.com/shrek82/oql/query"
)

type (
	DB         = core.DB
	Tx         = core.Tx
	Options    = core.Options
	Result     = core.Result
	Pagination = core.Pagination
	Migration  = core.Migration
	Middleware = core.QueryMiddleware

	Compare    = query.Compare
	Terminal   = query.Terminal
	BuildError = query.BuildError
)

var (
	Open         = core.Open
	OpenDB       = core.OpenDB
	From         = query.From
	WithCache    = core.WithCache
	NewMigrator  = core.NewMigrator
	WithDialect  = query.WithDialect
	WithAuditor  = query.WithAuditor
	WithUnscoped = query.WithUnscoped
)

const (
	CacheDefault = core.CacheDefault
	CacheForever = core.CacheForever
)

var (
	ErrRecordNotFound  = core.ErrRecordNotFound
	ErrDuplicateKey    = core.ErrDuplicateKey
	ErrForeignKey      = core.ErrForeignKey
	ErrValidation      = core.ErrValidation
	ErrVersionConflict = core.ErrVersionConflict

	ErrMissingPrimaryKey = query.ErrMissingPrimaryKey
	ErrFieldCount        = query.ErrFieldCount
	ErrWhereTwice        = query.ErrWhereTwice
)

// Load reads a config file and opens the database it describes.
func Load(path string) (*DB, error) {
	c, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return OpenConfig(c)
}

// OpenConfig opens c.DataSource and installs the middlewares c asks for:
// a slow log when log.slow_threshold is set, then a Redis cache when
// cache.redis_addr is set or an in-process cache sized cache.memory_size.
func OpenConfig(c *config.Config) (*DB, error) {
	db, err := core.OpenConfig(c)
	if err != nil {
		return nil, err
	}
	if err := db.Use(configured(c)...); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func configured(c *config.Config) []Middleware {
	var mws []Middleware
	if c.Log.SlowThreshold > 0 {
		mws = append(mws, middleware.NewSlowLog(c.Log.SlowThreshold, ""))
	}
	switch {
	case c.Cache.RedisAddr != "":
		mws = append(mws, middleware.NewRedisCache(&redis.Options{
			Addr:     c.Cache.RedisAddr,
			Password: c.Cache.RedisPassword,
			DB:       c.Cache.RedisDB,
		}, c.Cache.DefaultTTL))
	case c.Cache.MemorySize > 0:
		mws = append(mws, middleware.NewMemoryCache(c.Cache.MemorySize, c.Cache.DefaultTTL))
	}
	return mws
}
