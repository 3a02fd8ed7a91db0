package oql_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrek82/oql"
	"github.com/shrek82/oql/config"
)

type Note struct {
	ID   int64 `oql:"pk auto"`
	Body string
}

func sqliteConfig(t *testing.T) *config.Config {
	return &config.Config{
		DataSource: config.DataSource{Driver: "sqlite3", Database: filepath.Join(t.TempDir(), "notes.db")},
		Log:        config.Log{Level: "silent", SlowThreshold: time.Hour},
		Cache:      config.Cache{MemorySize: 1 << 20, DefaultTTL: time.Minute},
	}
}

func listTwice(t *testing.T, db *oql.DB) *oql.Result {
	t.Helper()
	ctx := oql.WithCache(context.Background(), oql.CacheDefault)
	_, err := db.Insert(context.Background(), &Note{Body: "hello"})
	require.NoError(t, err)

	n := &Note{}
	var notes []Note
	res, err := db.List(ctx, db.From(n).Select(), &notes)
	require.NoError(t, err)
	require.False(t, res.Cached)

	res, err = db.List(ctx, db.From(n).Select(), &notes)
	require.NoError(t, err)
	assert.Equal(t, []Note{{ID: 1, Body: "hello"}}, notes)
	return res
}

func TestOpenConfig(t *testing.T) {
	db, err := oql.OpenConfig(sqliteConfig(t))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.AutoMigrate(&Note{}))

	assert.True(t, listTwice(t, db).Cached)
}

func TestOpenConfigRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	c := sqliteConfig(t)
	c.Cache.RedisAddr = mr.Addr()

	db, err := oql.OpenConfig(c)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.AutoMigrate(&Note{}))

	assert.True(t, listTwice(t, db).Cached)
	var cached int
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, "oql:cache:Note:") {
			cached++
		}
	}
	assert.Equal(t, 1, cached)

	t.Run("Unreachable", func(t *testing.T) {
		c := sqliteConfig(t)
		c.Cache.RedisAddr = "127.0.0.1:1"
		_, err := oql.OpenConfig(c)
		assert.ErrorContains(t, err, "init RedisCache")
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oql.yaml")
	yaml := "datasource:\n  driver: sqlite3\n  database: " + filepath.Join(dir, "app.db") + "\nlog:\n  level: silent\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	db, err := oql.Load(path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.AutoMigrate(&Note{}))
	assert.True(t, listTwice(t, db).Cached, "memory cache is on by default")

	_, err = oql.Load(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestBuildErrorsSurface(t *testing.T) {
	n := &Note{}
	q := oql.From(n).Select(&n.Body).
		Where(func(c *oql.Compare) *oql.Compare { return c.Eq(&n.ID, 1) }).Query()
	q.Where(&n.ID)
	assert.ErrorIs(t, q.Err(), oql.ErrWhereTwice)

	var be *oql.BuildError
	require.ErrorAs(t, q.Err(), &be)
	assert.Equal(t, "Note", be.Table)
}
