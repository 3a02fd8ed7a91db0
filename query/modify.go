package query

import (
	"strings"

	"github.com/samber/lo"

	"github.com/shrek82/oql/model"
	"github.com/shrek82/oql/uid"
)

// Insert renders an INSERT of the FROM entity. Generated ids come first
// (snowflake and GUID values are written back into the entity, sequences
// are evaluated by the database, auto-increment columns are left out),
// then the listed fields (all plain fields when none are given), then
// the audit columns.
func (q *Query) Insert(fields ...any) Terminal {
	if !q.enter("Insert", stageVerb, stageLimit) || !q.verb("Insert", OpInsert) {
		return q
	}
	b := q.bindings[0]
	s, rv := b.schema, b.value
	seen := make(map[*model.Field]bool)
	add := func(f *model.Field, val string) {
		seen[f] = true
		q.insertCols = append(q.insertCols, "["+f.Column+"]")
		q.insertVals = append(q.insertVals, val)
	}

	for _, f := range s.Fields {
		switch f.IDKind {
		case model.AutoIncrement:
			seen[f] = true
		case model.Snowflake:
			if f.IsZero(rv) && !q.set("Insert", f, uid.NextSnowflake()) {
				return q
			}
			add(f, q.bindParam(f.Value(rv).Interface()))
		case model.GUID:
			if f.IsZero(rv) && !q.set("Insert", f, uid.NewGUID()) {
				return q
			}
			add(f, q.bindParam(f.Value(rv).Interface()))
		case model.Sequence:
			add(f, q.sequence(f.Sequence))
		}
	}

	var listed []*model.Field
	if len(fields) == 0 {
		listed = lo.Filter(s.Fields, func(f *model.Field, _ int) bool {
			return f.IDKind == model.IDNone && f != s.DeletedAt && !q.isAudit(s, f)
		})
	} else {
		refs, ok := q.take("Insert", fields...)
		if !ok || !q.ownRoot("Insert", refs) {
			return q
		}
		listed = lo.Map(refs, func(r *FieldRef, _ int) *model.Field { return r.Field })
	}
	for _, f := range listed {
		if !seen[f] && !q.isAudit(s, f) {
			add(f, q.bindParam(f.Value(rv).Interface()))
		}
	}

	for _, f := range []*model.Field{s.CreatedAt, s.UpdatedAt} {
		if f != nil && !seen[f] {
			if !q.set("Insert", f, q.now()) {
				return q
			}
			add(f, q.bindParam(f.Value(rv).Interface()))
		}
	}
	if q.auditor != nil {
		for _, f := range []*model.Field{s.CreatedBy, s.UpdatedBy} {
			if f != nil && !seen[f] {
				if !q.set("Insert", f, q.auditor) {
					return q
				}
				add(f, q.bindParam(f.Value(rv).Interface()))
			}
		}
	}

	if len(q.insertCols) == 0 {
		q.fail("Insert", "", ErrNoFields, "")
	}
	return q
}

func (q *Query) isAudit(s *model.Schema, f *model.Field) bool {
	switch f {
	case s.CreatedAt, s.UpdatedAt, s.CreatedBy, s.UpdatedBy:
		return f != nil
	}
	return false
}

// set writes v into a field of the FROM entity.
func (q *Query) set(op string, f *model.Field, v any) bool {
	if err := f.Set(q.rootValue(), v); err != nil {
		q.fail(op, f.Name, ErrInvalidValue, "%v", err)
		return false
	}
	return true
}

func (q *Query) sequence(name string) string {
	if q.dialect == nil {
		return "NEXT VALUE FOR [" + name + "]"
	}
	return q.dialect.SequenceSQL(name)
}

// InsertFrom renders INSERT INTO table (fields) followed by the SELECT of
// child, which must be a subquery created with Sub.
func (q *Query) InsertFrom(child Terminal, fields ...any) Terminal {
	if !q.enter("InsertFrom", stageVerb, stageLimit) || !q.verb("InsertFrom", OpInsertFrom) {
		return q
	}
	if child == nil {
		q.fail("InsertFrom", "", ErrInvalidValue, "nil source query")
		return q
	}
	src := child.Query()
	if src.parent != q {
		q.fail("InsertFrom", "", ErrInvalidState, "source must be created with Sub on this query")
		return q
	}
	if src.op != OpSelect {
		q.fail("InsertFrom", "", ErrInvalidState, "source must select, it is %s", src.op)
		return q
	}
	if err := src.Err(); err != nil {
		q.adopt(err)
		return q
	}
	if len(fields) == 0 {
		q.fail("InsertFrom", "", ErrNoFields, "")
		return q
	}
	refs, ok := q.take("InsertFrom", fields...)
	if !ok || !q.ownRoot("InsertFrom", refs) {
		return q
	}
	if n := len(src.selects) + len(src.aggregates); n != len(refs) {
		q.fail("InsertFrom", "", ErrFieldCount, "expected %d property references, found %d", n, len(refs))
		return q
	}
	q.insertCols = columnsOf(lo.Map(refs, func(r *FieldRef, _ int) *model.Field { return r.Field }))
	q.source = src
	return q
}

// Update renders an UPDATE of the listed fields with their current
// values. updated_at and updated_by are added automatically; the version
// column is maintained by the builder and may not be listed.
func (q *Query) Update(fields ...any) Modifier {
	return modifier{terminal{q.update(fields...)}}
}

func (q *Query) update(fields ...any) *Query {
	if !q.enter("Update", stageVerb, stageVerb) || !q.verb("Update", OpUpdate) {
		return q
	}
	if len(fields) == 0 {
		q.fail("Update", "", ErrNoFields, "")
		return q
	}
	refs, ok := q.take("Update", fields...)
	if !ok || !q.ownRoot("Update", refs) {
		return q
	}
	s := q.Schema()
	listed := make(map[*model.Field]bool)
	for _, r := range refs {
		if r.Field == s.Version {
			q.fail("Update", r.Field.Name, ErrInvalidValue, "version column is maintained automatically")
			return q
		}
		if listed[r.Field] {
			continue
		}
		listed[r.Field] = true
		q.sets = append(q.sets, r.Column()+" = "+q.bindParam(r.Field.Value(q.rootValue()).Interface()))
	}
	q.touch("Update", listed)
	return q
}

var arithmetic = []string{"+", "-", "*", "/"}

// UpdateSelf renders column = column op value for each field, the value
// being the field's current value in the entity: UpdateSelf("+", &a.Stock)
// with Stock 3 adds 3.
func (q *Query) UpdateSelf(op string, fields ...any) Modifier {
	return modifier{terminal{q.updateSelf(op, fields...)}}
}

func (q *Query) updateSelf(op string, fields ...any) *Query {
	if !q.enter("UpdateSelf", stageVerb, stageVerb) || !q.verb("UpdateSelf", OpUpdateSelf) {
		return q
	}
	op = strings.TrimSpace(op)
	if !lo.Contains(arithmetic, op) {
		q.fail("UpdateSelf", "", ErrInvalidOperator, "%q, want one of %s", op, strings.Join(arithmetic, " "))
		return q
	}
	if len(fields) == 0 {
		q.fail("UpdateSelf", "", ErrNoFields, "")
		return q
	}
	refs, ok := q.take("UpdateSelf", fields...)
	if !ok || !q.ownRoot("UpdateSelf", refs) {
		return q
	}
	s := q.Schema()
	listed := make(map[*model.Field]bool)
	for _, r := range refs {
		if r.Field == s.Version {
			q.fail("UpdateSelf", r.Field.Name, ErrInvalidValue, "version column is maintained automatically")
			return q
		}
		listed[r.Field] = true
		col := r.Column()
		q.sets = append(q.sets, col+" = "+col+" "+op+" "+q.bindParam(r.Field.Value(q.rootValue()).Interface()))
	}
	q.touch("UpdateSelf", listed)
	return q
}

// touch stamps updated_at and updated_by unless they were listed.
func (q *Query) touch(op string, listed map[*model.Field]bool) {
	s, rv := q.Schema(), q.rootValue()
	if f := s.UpdatedAt; f != nil && !listed[f] {
		if !q.set(op, f, q.now()) {
			return
		}
		q.sets = append(q.sets, "["+f.Column+"] = "+q.bindParam(f.Value(rv).Interface()))
	}
	if f := s.UpdatedBy; f != nil && !listed[f] && q.auditor != nil {
		if !q.set(op, f, q.auditor) {
			return
		}
		q.sets = append(q.sets, "["+f.Column+"] = "+q.bindParam(f.Value(rv).Interface()))
	}
}

// Delete renders a DELETE, or an UPDATE stamping the soft-delete column
// when the entity has one and the query is not unscoped.
func (q *Query) Delete() Modifier {
	return modifier{terminal{q.remove()}}
}

func (q *Query) remove() *Query {
	if !q.enter("Delete", stageVerb, stageVerb) || !q.verb("Delete", OpDelete) {
		return q
	}
	s := q.Schema()
	if f := s.DeletedAt; f != nil && !q.unscoped {
		if !q.set("Delete", f, q.now()) {
			return q
		}
		q.sets = append(q.sets, "["+f.Column+"] = "+q.bindParam(f.Value(q.rootValue()).Interface()))
	}
	return q
}

// SoftDelete reports whether a Delete renders as an UPDATE.
func (q *Query) SoftDelete() bool {
	return q.op == OpDelete && len(q.sets) > 0
}

// terminal exposes only rendering, so a finished modifier cannot be
// asserted back into the select stages.
type terminal struct{ q *Query }

func (t terminal) ToSQL() (string, error)          { return t.q.ToSQL() }
func (t terminal) Params() map[string]any          { return t.q.Params() }
func (t terminal) Build() (*Statement, error)      { return t.q.Build() }
func (t terminal) BuildCount() (*Statement, error) { return t.q.BuildCount() }
func (t terminal) Err() error                      { return t.q.Err() }
func (t terminal) Query() *Query                   { return t.q }

// modifier narrows a query to the calls an UPDATE or DELETE accepts.
type modifier struct{ terminal }

func (m modifier) Where(args ...any) Terminal {
	return terminal{m.q.Where(args...).Query()}
}
