package core

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/shrek82/oql/dialect"
	"github.com/shrek82/oql/model"
	"github.com/shrek82/oql/query"
)

// conn is implemented by *sql.DB (through pool.Pool) and *sql.Tx.
type conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Executor runs OQL queries and entity operations. DB and Tx implement it.
type Executor interface {
	From(entity any, opts ...query.Option) query.Starter
	Exec(ctx context.Context, t query.Terminal) (*Result, error)
	List(ctx context.Context, t query.Terminal, dest any) (*Result, error)
	First(ctx context.Context, t query.Terminal, dest any) (*Result, error)
	Count(ctx context.Context, t query.Terminal) (int64, error)
	Page(ctx context.Context, t query.Terminal, dest any) (*Pagination, error)
	Insert(ctx context.Context, entity any, fields ...any) (*Result, error)
	Save(ctx context.Context, entity any, snap *model.Snapshot) (*Result, error)
	Remove(ctx context.Context, entity any) (*Result, error)
	Raw(ctx context.Context, sqlText string, params map[string]any, dest any) (*Result, error)
}

// Pagination describes the page returned by Page.
type Pagination struct {
	Page      int
	PageSize  int
	Total     int64
	TotalPage int
	Result    *Result
}

type session struct {
	db   *DB
	conn conn
}

var _ Executor = (*session)(nil)

// From starts a query bound to the session's dialect, auditor and clock.
func (s *session) From(entity any, opts ...query.Option) query.Starter {
	base := []query.Option{query.WithDialect(s.db.dialect)}
	if s.db.auditor != nil {
		base = append(base, query.WithAuditor(s.db.auditor))
	}
	if s.db.now != nil {
		base = append(base, query.WithClock(s.db.now))
	}
	return query.From(entity, append(base, opts...)...)
}

// Exec runs an INSERT, UPDATE or DELETE. A versioned update that matches
// no row is reported through Result.Conflict and a warning.
func (s *session) Exec(ctx context.Context, t query.Terminal) (*Result, error) {
	st, err := t.Build()
	if err != nil {
		return nil, err
	}
	if st.Op == query.OpSelect {
		return nil, errors.WithMessage(ErrInvalidQuery, "Exec needs a write statement, use List")
	}
	res, err := s.run(ctx, &Query{Kind: KindExec, Op: st.Op, Table: st.Table, SQL: st.SQL, Args: st.Args})
	if err != nil {
		return res, err
	}
	schema := t.Query().Schema()
	if schema.Version != nil && res.RowsAffected == 0 && (st.Op == query.OpUpdate || st.Op == query.OpUpdateSelf) {
		res.Conflict = true
		res.warn(fmt.Sprintf("%s: no row matched the version check", st.Table))
		s.db.logger.Warn("version conflict on %s", st.Table)
	}
	return res, nil
}

// List maps every row of a SELECT into dest, a pointer to a slice of
// entities, entity pointers, map[string]any or scalars.
func (s *session) List(ctx context.Context, t query.Terminal, dest any) (*Result, error) {
	st, err := t.Build()
	if err != nil {
		return nil, err
	}
	return s.list(ctx, st, dest)
}

func (s *session) list(ctx context.Context, st *query.Statement, dest any) (*Result, error) {
	if st.Op != query.OpSelect {
		return nil, errors.WithMessagef(ErrInvalidQuery, "%s returns no rows", st.Op)
	}
	return s.run(ctx, &Query{Kind: KindQuery, Op: st.Op, Table: st.Table, SQL: st.SQL, Args: st.Args, Dest: dest})
}

// First maps the first row into dest. More than one row is not an error
// but leaves a warning on the result.
func (s *session) First(ctx context.Context, t query.Terminal, dest any) (*Result, error) {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return nil, errors.WithMessagef(ErrInvalidQuery, "dest must be a non-nil pointer, got %T", dest)
	}
	rows := reflect.New(reflect.SliceOf(dv.Elem().Type()))
	res, err := s.List(ctx, t, rows.Interface())
	if err != nil {
		return res, err
	}
	n := rows.Elem().Len()
	if n == 0 {
		return res, ErrRecordNotFound
	}
	if n > 1 {
		res.warn(fmt.Sprintf("First matched %d rows, using the first", n))
		s.db.logger.Warn("First on %s matched %d rows", t.Query().Schema().Table, n)
	}
	dv.Elem().Set(rows.Elem().Index(0))
	res.Data = dest
	return res, nil
}

// Count returns the number of rows the SELECT (and its page filter) yields.
func (s *session) Count(ctx context.Context, t query.Terminal) (int64, error) {
	st, err := t.BuildCount()
	if err != nil {
		return 0, err
	}
	var n []int64
	if _, err := s.list(ctx, st, &n); err != nil {
		return 0, err
	}
	if len(n) == 0 {
		return 0, nil
	}
	return n[0], nil
}

// Page runs a SELECT that was given Limit. With CountTotal the row count
// is queried first and the page number clamped to the last page.
func (s *session) Page(ctx context.Context, t query.Terminal, dest any) (*Pagination, error) {
	q := t.Query()
	if err := q.Err(); err != nil {
		return nil, err
	}
	pg := q.Paging()
	if !pg.Enabled {
		return nil, errors.WithMessage(ErrInvalidQuery, "Page needs Limit")
	}
	if pg.AutoCount && pg.Total == 0 {
		n, err := s.Count(ctx, t)
		if err != nil {
			return nil, err
		}
		q.SetTotal(n)
		pg.Total = n
	}

	p := &Pagination{Page: max(pg.Number, 1), PageSize: pg.Size, Total: pg.Total}
	if pg.Total > 0 {
		p.TotalPage = int((pg.Total + int64(pg.Size) - 1) / int64(pg.Size))
		p.Page = min(p.Page, p.TotalPage)
	}
	res, err := s.List(ctx, t, dest)
	if err != nil {
		return nil, err
	}
	p.Result = res
	return p, nil
}

// Insert validates entity and inserts the given fields (all writable
// fields when none are given). An auto-increment key is written back.
func (s *session) Insert(ctx context.Context, entity any, fields ...any) (*Result, error) {
	if err := s.db.validateEntity(ctx, entity); err != nil {
		return nil, err
	}
	if err := runHook(beforeInsert, entity, 0); err != nil {
		return nil, err
	}
	t := s.From(entity).Insert(fields...)
	res, err := s.Exec(ctx, t)
	if err != nil {
		return res, err
	}
	if err := writeBackID(entity, t.Query().Schema(), res.LastInsertId); err != nil {
		return res, err
	}
	return res, runHook(afterInsert, entity, res.LastInsertId)
}

func writeBackID(entity any, s *model.Schema, id int64) error {
	if id == 0 {
		return nil
	}
	ev := reflect.ValueOf(entity).Elem()
	for _, pk := range s.PrimaryKeys {
		if pk.IDKind == model.AutoIncrement && pk.IsZero(ev) {
			return pk.Set(ev, id)
		}
	}
	return nil
}

// Save updates entity by primary key. With a snapshot only the fields
// changed since it was taken are written and the snapshot is refreshed
// afterwards; without one every writable field is written. A successful
// versioned update bumps the in-memory version.
func (s *session) Save(ctx context.Context, entity any, snap *model.Snapshot) (*Result, error) {
	schema, err := model.Parse(entity)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidModel, err.Error())
	}
	ev := reflect.ValueOf(entity).Elem()
	candidates := schema.Fields
	if snap != nil {
		if candidates, err = snap.Changed(entity); err != nil {
			return nil, errors.Wrap(ErrInvalidModel, err.Error())
		}
	}
	ptrs := lo.FilterMap(candidates, func(f *model.Field, _ int) (any, bool) {
		if f.IsPK || f.IDKind != model.IDNone || schema.IsSpecial(f) {
			return nil, false
		}
		return f.Value(ev).Addr().Interface(), true
	})
	if len(ptrs) == 0 {
		res := &Result{}
		res.warn("nothing to save")
		return res, nil
	}

	if err := s.db.validateEntity(ctx, entity); err != nil {
		return nil, err
	}
	if err := runHook(beforeUpdate, entity, 0); err != nil {
		return nil, err
	}
	res, err := s.Exec(ctx, s.From(entity).Update(ptrs...))
	if err != nil || res.Conflict {
		return res, err
	}
	if v := schema.Version; v != nil {
		if err := bumpVersion(v.Value(ev)); err != nil {
			return res, err
		}
	}
	if snap != nil {
		if err := snap.Refresh(entity); err != nil {
			return res, err
		}
	}
	return res, runHook(afterUpdate, entity, 0)
}

func bumpVersion(v reflect.Value) error {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	switch {
	case v.CanInt():
		v.SetInt(v.Int() + 1)
	case v.CanUint():
		v.SetUint(v.Uint() + 1)
	default:
		return errors.Errorf("version field of kind %s cannot be incremented", v.Kind())
	}
	return nil
}

// Remove deletes entity by primary key; soft-delete entities are marked
// deleted instead.
func (s *session) Remove(ctx context.Context, entity any) (*Result, error) {
	if err := runHook(beforeDelete, entity, 0); err != nil {
		return nil, err
	}
	res, err := s.Exec(ctx, s.From(entity).Delete())
	if err != nil {
		return res, err
	}
	return res, runHook(afterDelete, entity, 0)
}

// Raw runs neutral SQL: [ident] is quoted for the dialect and @name is
// bound from params. With a nil dest the statement is executed, otherwise
// its rows are mapped into dest.
func (s *session) Raw(ctx context.Context, sqlText string, params map[string]any, dest any) (*Result, error) {
	if strings.TrimSpace(sqlText) == "" {
		return nil, ErrInvalidSQL
	}
	text, args, err := dialect.Bind(s.db.dialect, sqlText, params)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidSQL, Err: err}
	}
	q := &Query{Kind: KindExec, SQL: text, Args: args}
	if dest != nil {
		q.Kind, q.Dest = KindQuery, dest
	}
	return s.run(ctx, q)
}

// run sends q through the middlewares to the driver.
func (s *session) run(ctx context.Context, q *Query) (*Result, error) {
	s.db.mu.RLock()
	mws := s.db.middlewares
	s.db.mu.RUnlock()
	return chain(mws, s.execute)(ctx, q)
}

func (s *session) execute(ctx context.Context, q *Query) (*Result, error) {
	log := s.db.logger
	if len(q.Fields) > 0 {
		log = log.WithFields(q.Fields)
	}
	start := time.Now()

	if q.Kind == KindExec {
		r, err := s.conn.ExecContext(ctx, q.SQL, q.Args...)
		log.SQL(q.SQL, time.Since(start), q.Args...)
		if err != nil {
			log.Error("exec failed: %v | %s", err, q.SQL)
			return nil, Classify(err)
		}
		res := &Result{}
		res.RowsAffected, _ = r.RowsAffected()
		if q.Op == query.OpInsert || q.Op == query.OpNone {
			// lib/pq reports LastInsertId as unsupported
			res.LastInsertId, _ = r.LastInsertId()
		}
		return res, nil
	}

	rows, err := s.conn.QueryContext(ctx, q.SQL, q.Args...)
	log.SQL(q.SQL, time.Since(start), q.Args...)
	if err != nil {
		log.Error("query failed: %v | %s", err, q.SQL)
		return nil, Classify(err)
	}
	defer rows.Close()
	n, err := scanAll(rows, q.Dest)
	if err != nil {
		return nil, err
	}
	return &Result{Rows: n, Data: q.Dest}, nil
}
