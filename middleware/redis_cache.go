package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/shrek82/oql/core"
	"github.com/shrek82/oql/logger"
)

// RedisCacheMiddleware caches query results in Redis. Generations live in
// Redis as well, so every process sharing the server sees a write.
// Enable it per call with core.WithCache.
type RedisCacheMiddleware struct {
	resultCache
	Client redis.UniversalClient
}

// NewRedisCache creates a RedisCacheMiddleware with its own client.
func NewRedisCache(opt *redis.Options, defaultTTL time.Duration) *RedisCacheMiddleware {
	return NewRedisCacheWithClient(redis.NewClient(opt), defaultTTL)
}

// NewRedisCacheWithClient uses an existing client (single node, cluster or
// sentinel). Shutdown closes it.
func NewRedisCacheWithClient(client redis.UniversalClient, defaultTTL time.Duration) *RedisCacheMiddleware {
	m := &RedisCacheMiddleware{Client: client}
	m.resultCache = resultCache{
		name:       "RedisCache",
		prefix:     "oql:cache:",
		defaultTTL: defaultTTL,
		store:      &redisStore{client: client, prefix: "oql:gen:"},
	}
	return m
}

// SetLogger overrides the DB logger for cache warnings.
func (m *RedisCacheMiddleware) SetLogger(l logger.Logger) { m.log = l }

func (m *RedisCacheMiddleware) Name() string {
	return m.name
}

func (m *RedisCacheMiddleware) Init(db *core.DB) error {
	m.init(db)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Client.Ping(ctx).Err()
}

func (m *RedisCacheMiddleware) Shutdown() error {
	return m.Client.Close()
}

func (m *RedisCacheMiddleware) Process(ctx context.Context, q *core.Query, next core.QueryFunc) (*core.Result, error) {
	return m.process(ctx, q, next)
}

type redisStore struct {
	client redis.UniversalClient
	prefix string
}

func (s *redisStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *redisStore) set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, val, ttl).Err()
}

func (s *redisStore) generations(ctx context.Context, names []string) ([]uint64, error) {
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = s.prefix + n
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		if out[i], err = strconv.ParseUint(str, 10, 64); err != nil {
			return nil, errors.Wrapf(err, "generation %s", keys[i])
		}
	}
	return out, nil
}

func (s *redisStore) bump(ctx context.Context, names []string) error {
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, n := range names {
			p.Incr(ctx, s.prefix+n)
		}
		return nil
	})
	return err
}
