package query

import (
	"reflect"
	"strings"

	"github.com/samber/lo"

	"github.com/shrek82/oql/model"
)

// Select adds fields to the SELECT list; with no arguments every mapped
// field of the FROM entity is selected. Repeated calls accumulate and
// duplicates are dropped.
func (q *Query) Select(fields ...any) Selector {
	if !q.enter("Select", stageVerb, stageVerb) || !q.verb("Select", OpSelect) {
		return q
	}
	if len(fields) == 0 {
		b := q.bindings[0]
		for _, f := range b.schema.Fields {
			q.addSelect(b.ref(f))
		}
		return q
	}
	refs, ok := q.take("Select", fields...)
	if !ok {
		return q
	}
	for _, r := range refs {
		q.addSelect(r.expr())
	}
	return q
}

func (q *Query) addSelect(expr string) {
	if !lo.Contains(q.selects, expr) {
		q.selects = append(q.selects, expr)
	}
}

// Distinct renders SELECT DISTINCT.
func (q *Query) Distinct() Selector {
	if !q.enter("Distinct", stageVerb, stageVerb) || !q.verb("Distinct", OpSelect) {
		return q
	}
	q.distinct = true
	return q
}

// Count adds COUNT(field) AS alias. field may be "*".
func (q *Query) Count(field any, alias ...string) Selector {
	return q.aggregate("COUNT", field, alias)
}

func (q *Query) Max(field any, alias ...string) Selector { return q.aggregate("MAX", field, alias) }
func (q *Query) Min(field any, alias ...string) Selector { return q.aggregate("MIN", field, alias) }
func (q *Query) Sum(field any, alias ...string) Selector { return q.aggregate("SUM", field, alias) }
func (q *Query) Avg(field any, alias ...string) Selector { return q.aggregate("AVG", field, alias) }

func (q *Query) aggregate(fn string, field any, alias []string) Selector {
	op := strings.ToLower(fn)
	if !q.enter(op, stageVerb, stageVerb) || !q.verb(op, OpSelect) {
		return q
	}
	name := ""
	if len(alias) > 0 {
		name = alias[0]
	}
	if name != "" && !validAlias(name) {
		q.fail(op, "", ErrInvalidValue, "alias %q must be an identifier", name)
		return q
	}

	if s, ok := field.(string); ok && s == "*" {
		if fn != "COUNT" {
			q.fail(op, "", ErrInvalidValue, "%s(*) is not supported", fn)
			return q
		}
		if name == "" {
			name = "count"
		}
		q.aggregates = append(q.aggregates, "COUNT(*) AS ["+name+"]")
		return q
	}

	refs, ok := q.take(op, field)
	if !ok {
		return q
	}
	r := refs[0]
	if name == "" {
		if len(q.joins) > 0 {
			q.fail(op, r.Field.Name, ErrAmbiguousAlias, "%s(%s)", fn, r.Field.Column)
			return q
		}
		name = r.Field.Column
	}
	if name == r.Field.Column || name == r.Field.Name {
		// the scanned aggregate lands in this field
		fv := r.Field.Value(r.binding.value)
		fv.Set(reflect.Zero(fv.Type()))
	}
	q.aggregates = append(q.aggregates, fn+"("+r.expr()+") AS ["+name+"]")
	return q
}

func validAlias(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isIdent(s[i], i == 0) {
			return false
		}
	}
	return s != ""
}

// Where sets the filter. It accepts a func(*Compare) *Compare, a
// *Compare, or field pointers, which compare each field for equality
// with its current value. It may be called once.
func (q *Query) Where(args ...any) Filtered {
	if q.err != nil {
		return q
	}
	if q.hasWhere {
		q.fail("Where", "", ErrWhereTwice, "")
		return q
	}
	if !q.enter("Where", stageVerb, stageWhere) {
		return q
	}
	switch q.op {
	case OpNone, OpInsert, OpInsertFrom:
		q.fail("Where", "", ErrInvalidState, "where is not valid for %s", q.op)
		return q
	}
	q.hasWhere = true

	c, ok := q.predicate("Where", args)
	if !ok {
		return q
	}
	if !c.isEmpty() {
		q.where = c.render(logicAnd)
	}
	return q
}

// predicate turns Where or Having arguments into a comparison tree.
func (q *Query) predicate(op string, args []any) (*Compare, bool) {
	if len(args) == 1 {
		switch a := args[0].(type) {
		case func(*Compare) *Compare:
			c := a(q.Compare())
			return c, q.settle(op)
		case *Compare:
			if a != nil && a.q != q && !a.isEmpty() {
				q.fail(op, "", ErrInvalidState, "predicate was built for another query")
				return nil, false
			}
			return a, q.settle(op)
		}
	}
	refs, ok := q.take(op, args...)
	if !ok {
		return nil, false
	}
	c := q.Compare()
	for _, r := range refs {
		v := r.Value.OrEmpty()
		var leaf string
		if isNil(v) {
			leaf = r.expr() + " IS NULL"
		} else {
			leaf = r.expr() + " = " + q.bindParam(v)
		}
		c = c.And(c.leaf(leaf))
	}
	return c, true
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

// GroupBy appends fields to GROUP BY.
func (q *Query) GroupBy(fields ...any) Grouped {
	if !q.requireSelect("GroupBy") || !q.enter("GroupBy", stageGroup, stageGroup) {
		return q
	}
	if len(fields) == 0 {
		q.fail("GroupBy", "", ErrNoFields, "")
		return q
	}
	refs, ok := q.take("GroupBy", fields...)
	if !ok {
		return q
	}
	for _, r := range refs {
		if !lo.Contains(q.groupBy, r.expr()) {
			q.groupBy = append(q.groupBy, r.expr())
		}
	}
	return q
}

// Having filters groups. It accepts the Where predicate forms, or
// (field, value, format) where format is a SQL template such as
// "SUM(%1) > %2" with %1 the field and %2 the bound value.
func (q *Query) Having(args ...any) Grouped {
	if !q.requireSelect("Having") {
		return q
	}
	if len(q.groupBy) == 0 {
		q.fail("Having", "", ErrGroupBy, "having requires group by")
		return q
	}
	if q.having != "" {
		q.fail("Having", "", ErrInvalidState, "having already set")
		return q
	}
	if !q.enter("Having", stageHaving, stageHaving) {
		return q
	}

	if len(args) == 3 {
		if format, ok := args[2].(string); ok && q.isRef(args[0]) {
			refs, ok := q.take("Having", args[0])
			if !ok {
				return q
			}
			if !strings.Contains(format, "%2") {
				q.fail("Having", refs[0].Field.Name, ErrBadFunctionFormat, "%q has no %%2", format)
				return q
			}
			s, ok := applyTemplate(format, refs[0].expr(), "\x01")
			if !ok {
				q.fail("Having", refs[0].Field.Name, ErrBadFunctionFormat, "%q", format)
				return q
			}
			q.having = strings.ReplaceAll(s, "\x01", q.bindParam(args[1]))
			return q
		}
	}

	c, ok := q.predicate("Having", args)
	if !ok {
		return q
	}
	if c.isEmpty() {
		q.fail("Having", "", ErrInvalidValue, "empty predicate")
		return q
	}
	q.having = c.render(logicLeaf)
	return q
}

// OrderBy appends ordering terms. Arguments are field pointers, each
// optionally followed by "asc" or "desc", or a single string such as
// "Name desc, T0.Age".
func (q *Query) OrderBy(args ...any) Ordered {
	if !q.requireSelect("OrderBy") || !q.enter("OrderBy", stageOrder, stageOrder) {
		return q
	}
	if len(args) == 1 {
		if s, ok := args[0].(string); ok {
			q.orderDSL(s)
			return q
		}
	}
	for i := 0; i < len(args); i++ {
		refs, ok := q.take("OrderBy", args[i])
		if !ok {
			return q
		}
		dir := "ASC"
		if i+1 < len(args) {
			if s, ok := args[i+1].(string); ok {
				d, ok := direction(s)
				if !ok {
					q.fail("OrderBy", refs[0].Field.Name, ErrInvalidValue, "direction %q", s)
					return q
				}
				dir = d
				i++
			}
		}
		q.orderBy = append(q.orderBy, refs[0].expr()+" "+dir)
	}
	return q
}

func (q *Query) orderDSL(s string) {
	for _, term := range strings.Split(s, ",") {
		parts := strings.Fields(term)
		if len(parts) == 0 || len(parts) > 2 {
			q.fail("OrderBy", "", ErrInvalidValue, "order term %q", strings.TrimSpace(term))
			return
		}
		dir := "ASC"
		if len(parts) == 2 {
			d, ok := direction(parts[1])
			if !ok {
				q.fail("OrderBy", parts[0], ErrInvalidValue, "direction %q", parts[1])
				return
			}
			dir = d
		}
		name, alias := parts[0], ""
		if i := strings.IndexByte(name, '.'); i > 0 {
			alias, name = name[:i], name[i+1:]
		}
		col, ok := q.rawColumn(strings.Trim(name, "[]"), alias)
		if !ok {
			q.fail("OrderBy", name, ErrUnknownField, "not a field of a bound entity")
			return
		}
		q.orderBy = append(q.orderBy, col+" "+dir)
	}
}

func direction(s string) (string, bool) {
	switch strings.ToUpper(s) {
	case "ASC":
		return "ASC", true
	case "DESC":
		return "DESC", true
	}
	return "", false
}

// Asc orders by fields ascending.
func (q *Query) Asc(fields ...any) Ordered { return q.orderAll("Asc", "ASC", fields) }

// Desc orders by fields descending.
func (q *Query) Desc(fields ...any) Ordered { return q.orderAll("Desc", "DESC", fields) }

func (q *Query) orderAll(op, dir string, fields []any) Ordered {
	if !q.requireSelect(op) || !q.enter(op, stageOrder, stageOrder) {
		return q
	}
	refs, ok := q.take(op, fields...)
	if !ok {
		return q
	}
	for _, r := range refs {
		q.orderBy = append(q.orderBy, r.expr()+" "+dir)
	}
	return q
}

// Limit pages the result: size rows per page, page numbered from 1. The
// window is rendered by the dialect at Build time.
func (q *Query) Limit(size int, page ...int) Paged {
	if !q.requireSelect("Limit") || !q.enter("Limit", stageLimit, stageLimit) {
		return q
	}
	if q.parent != nil {
		q.fail("Limit", "", ErrInvalidState, "a subquery cannot be paged")
		return q
	}
	if size <= 0 {
		q.fail("Limit", "", ErrInvalidValue, "page size %d", size)
		return q
	}
	n := 1
	if len(page) > 0 && page[0] > 1 {
		n = page[0]
	}
	q.page.Enabled, q.page.Size, q.page.Number = true, size, n
	return q
}

// CountTotal asks the executor to count all rows before fetching a page.
func (q *Query) CountTotal() Paged {
	q.page.AutoCount = true
	return q
}

// Total supplies a known row count, used to clamp the page number.
func (q *Query) Total(n int64) Paged {
	q.page.Total = n
	return q
}

// Filter restricts the paged rows with a predicate over the selected
// columns, rendered as SELECT * FROM (query) WHERE fragment. It may not
// carry its own WHERE or ORDER BY. Each @name in fragment is bound as a
// fresh parameter of the query.
func (q *Query) Filter(fragment string, params map[string]any) Paged {
	if q.err != nil {
		return q
	}
	s, ok := q.bindNamed("Filter", fragment, params)
	if !ok {
		return q
	}
	q.page.Filter = s
	return q
}

// validateSelect checks the SELECT list against GROUP BY.
func (q *Query) validateSelect() bool {
	if len(q.selects) == 0 && len(q.aggregates) == 0 {
		q.fail("Select", "", ErrNoFields, "")
		return false
	}
	if len(q.aggregates) > 0 && len(q.selects) > 0 && len(q.groupBy) == 0 {
		q.fail("Select", "", ErrGroupBy, "aggregates mixed with fields need group by")
		return false
	}
	if len(q.groupBy) > 0 {
		if missing, ok := lo.Find(q.selects, func(s string) bool {
			return !lo.Contains(q.groupBy, s)
		}); ok {
			q.fail("Select", "", ErrGroupBy, "%s is not grouped", q.finalize(missing))
			return false
		}
	}
	return true
}

// columnsOf renders the bare column list of fields, for INSERT targets.
func columnsOf(fields []*model.Field) []string {
	return lo.Map(fields, func(f *model.Field, _ int) string {
		return "[" + f.Column + "]"
	})
}
