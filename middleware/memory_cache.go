package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/coocood/freecache"

	"github.com/shrek82/oql/core"
	"github.com/shrek82/oql/logger"
)

// MemoryCacheMiddleware caches query results in process memory.
// Enable it per call with core.WithCache.
type MemoryCacheMiddleware struct {
	resultCache
	mem *memoryStore
}

// NewMemoryCache creates a cache of size bytes (at least 512KB, as
// enforced by freecache). Entries larger than size/1024 are not cached.
func NewMemoryCache(size int, defaultTTL time.Duration) *MemoryCacheMiddleware {
	mem := &memoryStore{
		cache: freecache.NewCache(size),
		gens:  make(map[string]uint64),
	}
	return &MemoryCacheMiddleware{
		resultCache: resultCache{
			name:       "MemoryCache",
			prefix:     "oql:cache:",
			defaultTTL: defaultTTL,
			store:      mem,
		},
		mem: mem,
	}
}

// SetLogger overrides the DB logger for cache warnings.
func (m *MemoryCacheMiddleware) SetLogger(l logger.Logger) { m.log = l }

func (m *MemoryCacheMiddleware) Name() string {
	return m.name
}

func (m *MemoryCacheMiddleware) Init(db *core.DB) error {
	m.init(db)
	return nil
}

func (m *MemoryCacheMiddleware) Shutdown() error {
	m.Clear()
	return nil
}

func (m *MemoryCacheMiddleware) Process(ctx context.Context, q *core.Query, next core.QueryFunc) (*core.Result, error) {
	return m.process(ctx, q, next)
}

// Clear drops every cached result.
func (m *MemoryCacheMiddleware) Clear() {
	m.mem.cache.Clear()
}

// HitRate reports the share of lookups served from memory.
func (m *MemoryCacheMiddleware) HitRate() float64 {
	return m.mem.cache.HitRate()
}

// Len returns the number of cached results.
func (m *MemoryCacheMiddleware) Len() int64 {
	return m.mem.cache.EntryCount()
}

// memoryStore keeps results in freecache and generations in a map, so
// eviction can never roll a generation back.
type memoryStore struct {
	cache *freecache.Cache

	mu   sync.RWMutex
	gens map[string]uint64
}

func (s *memoryStore) get(_ context.Context, key string) ([]byte, bool, error) {
	val, err := s.cache.Get([]byte(key))
	if err == freecache.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *memoryStore) set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	secs := 0
	if ttl > 0 {
		secs = max(int((ttl+time.Second-1)/time.Second), 1)
	}
	return s.cache.Set([]byte(key), val, secs)
}

func (s *memoryStore) generations(_ context.Context, names []string) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint64, len(names))
	for i, n := range names {
		out[i] = s.gens[n]
	}
	return out, nil
}

func (s *memoryStore) bump(_ context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		s.gens[n]++
	}
	return nil
}
