package core

import (
	"context"
	"time"

	"github.com/shrek82/oql/query"
)

// Component is the base interface for all oql components/middleware.
type Component interface {
	Name() string
	Init(db *DB) error
	Shutdown() error
}

// Kind tells whether a statement returns rows.
type Kind int

const (
	KindQuery Kind = iota
	KindExec
)

func (k Kind) String() string {
	if k == KindExec {
		return "exec"
	}
	return "query"
}

// Query is one driver-ready statement travelling through the middleware
// chain. Dest receives the mapped rows of a KindQuery statement.
type Query struct {
	Kind   Kind
	Op     query.Op // OpNone for raw statements
	Table  string   // empty for raw statements
	SQL    string
	Args   []any
	Dest   any
	Fields map[string]any
}

// WithFields attaches log fields to the statement.
func (q *Query) WithFields(fields map[string]any) {
	if q.Fields == nil {
		q.Fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		q.Fields[k] = v
	}
}

// Result represents the result of a statement execution.
type Result struct {
	RowsAffected int64
	LastInsertId int64
	Rows         int // rows mapped into Data
	Data         any // The destination (pointer to slice or struct)
	Cached       bool
	Conflict     bool // a versioned update matched no row
	Warnings     []string
}

// Check returns ErrVersionConflict for a conflicting versioned update.
func (r *Result) Check() error {
	if r != nil && r.Conflict {
		return ErrVersionConflict
	}
	return nil
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// QueryFunc is the function type for the next step in the middleware chain.
type QueryFunc func(ctx context.Context, q *Query) (*Result, error)

// QueryMiddleware is the interface for query interceptors.
type QueryMiddleware interface {
	Component
	Process(ctx context.Context, q *Query, next QueryFunc) (*Result, error)
}

type cacheKey struct{}

const (
	// CacheDefault caches with the middleware's default TTL.
	CacheDefault time.Duration = -2
	// CacheForever caches without expiry.
	CacheForever time.Duration = -1
)

// WithCache asks the cache middlewares to cache the SELECTs run with ctx.
// A zero ttl disables caching.
func WithCache(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, cacheKey{}, ttl)
}

// CacheTTL returns the TTL set by WithCache; ok is false when caching is off.
func CacheTTL(ctx context.Context) (ttl time.Duration, ok bool) {
	ttl, ok = ctx.Value(cacheKey{}).(time.Duration)
	return ttl, ok && ttl != 0
}

// chain wraps final with mws; mws[0] runs first.
func chain(mws []QueryMiddleware, final QueryFunc) QueryFunc {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		m, next := mws[i], h
		h = func(ctx context.Context, q *Query) (*Result, error) {
			return m.Process(ctx, q, next)
		}
	}
	return h
}
