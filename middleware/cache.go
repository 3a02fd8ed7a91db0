package middleware

import (
	"context"
	"encoding/hex"
	"hash/fnv"
	"reflect"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/shrek82/oql/core"
	"github.com/shrek82/oql/logger"
)

// Generation counters. A table bound SELECT is keyed on its table and on
// rawWrites; a raw SELECT, whose tables are unknown, on allWrites.
const (
	allWrites = "*all"
	rawWrites = "*raw"
)

// dependsOn lists the counters a cached SELECT on table is keyed on.
func dependsOn(table string) []string {
	if table == "" {
		return []string{allWrites}
	}
	return []string{table, rawWrites}
}

// invalidates lists the counters a write on table bumps.
func invalidates(table string) []string {
	if table == "" {
		return []string{allWrites, rawWrites}
	}
	return []string{table, allWrites}
}

// store is the storage behind a result cache.
type store interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	// set stores val; a zero ttl means no expiry.
	set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	generations(ctx context.Context, names []string) ([]uint64, error)
	bump(ctx context.Context, names []string) error
}

// resultCache caches the rows of SELECTs run with core.WithCache and
// drops them on writes to their table by moving the table's generation.
type resultCache struct {
	name       string
	prefix     string
	defaultTTL time.Duration
	store      store
	group      singleflight.Group
	log        logger.Logger
}

func (c *resultCache) init(db *core.DB) {
	if c.log == nil {
		c.log = db.Logger()
	}
}

// ttl resolves the WithCache value; 0 means no expiry.
func (c *resultCache) ttl(v time.Duration) time.Duration {
	switch v {
	case core.CacheForever:
		return 0
	case core.CacheDefault:
		if c.defaultTTL > 0 {
			return c.defaultTTL
		}
		return 24 * time.Hour
	}
	return v
}

func (c *resultCache) key(ctx context.Context, q *core.Query) (string, error) {
	gens, err := c.store.generations(ctx, dependsOn(q.Table))
	if err != nil {
		return "", errors.WithMessage(err, "read generations")
	}
	args, err := msgpack.Marshal(q.Args)
	if err != nil {
		return "", errors.WithMessage(err, "encode args")
	}

	h := fnv.New128a()
	h.Write([]byte(q.SQL))
	h.Write([]byte{0})
	h.Write(args)
	h.Write([]byte(reflect.TypeOf(q.Dest).String()))
	for _, g := range gens {
		h.Write([]byte{0})
		h.Write(strconv.AppendUint(nil, g, 10))
	}
	table := q.Table
	if table == "" {
		table = "raw"
	}
	return c.prefix + table + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

func (c *resultCache) process(ctx context.Context, q *core.Query, next core.QueryFunc) (*core.Result, error) {
	if q.Kind == core.KindExec {
		res, err := next(ctx, q)
		if err == nil && (q.Table == "" || res == nil || res.RowsAffected != 0) {
			if err := c.store.bump(ctx, invalidates(q.Table)); err != nil {
				c.log.Warn("%s: invalidate %s: %v", c.name, q.Table, err)
			}
		}
		return res, err
	}

	v, ok := core.CacheTTL(ctx)
	if !ok || q.Dest == nil {
		return next(ctx, q)
	}
	key, err := c.key(ctx, q)
	if err != nil {
		c.log.Warn("%s: %v", c.name, err)
		return next(ctx, q)
	}

	data, hit, err := c.store.get(ctx, key)
	if err != nil {
		c.log.Warn("%s: get %s: %v", c.name, key, err)
	}
	if hit {
		if err := decodeInto(q.Dest, data); err == nil {
			return &core.Result{Rows: rowCount(q.Dest), Data: q.Dest, Cached: true}, nil
		}
		c.log.Warn("%s: decode %s: %v", c.name, key, err)
	}

	ttl := c.ttl(v)
	var res *core.Result
	out, err, _ := c.group.Do(key, func() (any, error) {
		var err error
		if res, err = next(ctx, q); err != nil {
			return nil, err
		}
		data, err := msgpack.Marshal(q.Dest)
		if err != nil {
			c.log.Warn("%s: encode %T: %v", c.name, q.Dest, err)
			return nil, nil
		}
		if err := c.store.set(ctx, key, data, ttl); err != nil {
			c.log.Warn("%s: set %s: %v", c.name, key, err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	// another caller ran the query; share its rows
	if data, ok := out.([]byte); ok {
		if err := decodeInto(q.Dest, data); err == nil {
			return &core.Result{Rows: rowCount(q.Dest), Data: q.Dest, Cached: true}, nil
		}
	}
	return next(ctx, q)
}

// decodeInto decodes into a fresh value so a failed decode leaves dest as is.
func decodeInto(dest any, data []byte) error {
	dt := reflect.TypeOf(dest)
	if dt.Kind() != reflect.Ptr {
		return errors.Errorf("dest must be a pointer, got %T", dest)
	}
	tmp := reflect.New(dt.Elem())
	if err := msgpack.Unmarshal(data, tmp.Interface()); err != nil {
		return err
	}
	reflect.ValueOf(dest).Elem().Set(tmp.Elem())
	return nil
}

func rowCount(dest any) int {
	v := reflect.Indirect(reflect.ValueOf(dest))
	if v.Kind() == reflect.Slice {
		return v.Len()
	}
	return 1
}
