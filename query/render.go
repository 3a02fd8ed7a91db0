package query

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/shrek82/oql/dialect"
)

// Statement is a rendered statement ready for a driver.
type Statement struct {
	SQL     string
	Args    []any
	Neutral string
	Table   string
	Op      Op
}

// prepare injects the primary key filter, soft-delete guards and the
// version check. It runs once; later renders reuse its result.
func (q *Query) prepare() bool {
	if q.prepared || q.err != nil {
		return q.err == nil
	}
	if q.pending != nil {
		q.fail("ToSQL", "", ErrInvalidState, "join on %s is missing On", q.pending.schema.Table)
		return false
	}
	if !q.settle("ToSQL") {
		return false
	}
	s, rv := q.Schema(), q.rootValue()

	switch q.op {
	case OpNone:
		q.fail("ToSQL", "", ErrInvalidState, "no statement verb")
		return false
	case OpSelect:
		if !q.validateSelect() {
			return false
		}
	case OpUpdate, OpUpdateSelf, OpDelete:
		if q.where == "" {
			if len(s.PrimaryKeys) == 0 {
				q.fail(q.op.String(), "", ErrMissingPrimaryKey, "no primary key and no where")
				return false
			}
			for _, pk := range s.PrimaryKeys {
				if pk.IsZero(rv) {
					q.fail(q.op.String(), pk.Name, ErrMissingPrimaryKey, "primary key is zero")
					return false
				}
			}
			for _, pk := range s.PrimaryKeys {
				q.extraWhere = append(q.extraWhere, "["+pk.Column+"] = "+q.bindParam(pk.Value(rv).Interface()))
			}
		}
	}

	if !q.unscoped {
		switch q.op {
		case OpSelect:
			for _, b := range q.bindings {
				if f := b.schema.DeletedAt; f != nil {
					q.guards = append(q.guards, b.ref(f)+" IS NULL")
				}
			}
		case OpUpdate, OpUpdateSelf, OpDelete:
			if f := s.DeletedAt; f != nil {
				q.guards = append(q.guards, "["+f.Column+"] IS NULL")
			}
		}
	}

	if v := s.Version; v != nil && (q.op == OpUpdate || q.op == OpUpdateSelf) {
		col := "[" + v.Column + "]"
		q.sets = append([]string{col + " = " + col + " + 1"}, q.sets...)
		q.root.params[v.Name] = versionValue(v.Value(rv))
		q.extraWhere = append(q.extraWhere, col+" = @"+v.Name)
	}
	q.prepared = true
	return true
}

func versionValue(v reflect.Value) any {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return 0
		}
		v = v.Elem()
	}
	return v.Interface()
}

func (q *Query) whereClause() Clause {
	c := Clause{Type: WHERE}
	c.Value = append(c.Value, q.guards...)
	switch {
	case q.hasWhere && q.where != "":
		c.Value = append(c.Value, "1=1 AND "+q.where)
	case q.hasWhere:
		c.Value = append(c.Value, "1=1")
	}
	c.Value = append(c.Value, q.extraWhere...)
	return c
}

func (q *Query) fromTable() string {
	b := q.bindings[0]
	if q.qualified() {
		return "[" + b.schema.Table + "] " + b.alias
	}
	return "[" + b.schema.Table + "]"
}

// ToSQL renders the statement in neutral form.
func (q *Query) ToSQL() (string, error) {
	if !q.prepare() {
		return "", q.err
	}
	table := "[" + q.table() + "]"
	var s string
	switch q.op {
	case OpSelect:
		list := append(append([]string(nil), q.selects...), q.aggregates...)
		if q.distinct {
			list[0] = "DISTINCT " + list[0]
		}
		s = assemble(
			Clause{Type: SELECT, Value: list},
			Clause{Type: FROM, Value: []string{q.fromTable()}},
			Clause{Type: JOIN, Value: q.joins},
			q.whereClause(),
			Clause{Type: GROUPBY, Value: q.groupBy},
			Clause{Type: HAVING, Value: nonEmpty(q.having)},
			Clause{Type: ORDERBY, Value: q.orderBy},
		)
	case OpInsert:
		s = assemble(
			Clause{Type: INSERT, Value: append([]string{table}, q.insertCols...)},
			Clause{Type: VALUES, Value: q.insertVals},
		)
	case OpInsertFrom:
		sub, err := q.source.ToSQL()
		if err != nil {
			q.adopt(err)
			return "", err
		}
		s = assemble(Clause{Type: INSERT, Value: append([]string{table}, q.insertCols...)}) + " " + sub
	case OpUpdate, OpUpdateSelf:
		s = assemble(
			Clause{Type: UPDATE, Value: []string{table}},
			Clause{Type: SET, Value: q.sets},
			q.whereClause(),
		)
	case OpDelete:
		head := Clause{Type: DELETE, Value: []string{table}}
		if q.SoftDelete() {
			head = Clause{Type: UPDATE, Value: []string{table}}
		}
		s = assemble(head, Clause{Type: SET, Value: q.sets}, q.whereClause())
	}
	return q.finalize(s), nil
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// Build renders the statement for the query's dialect. A paged SELECT
// is wrapped by the dialect's window.
func (q *Query) Build() (*Statement, error) {
	neutral, err := q.ToSQL()
	if err != nil {
		return nil, err
	}
	if q.dialect == nil {
		return nil, &BuildError{Op: "Build", Table: q.table(), Err: ErrNoDialect}
	}
	text := neutral
	if q.page.Enabled {
		text, err = q.dialect.PageSQL(q.dialectPage(neutral))
		if err != nil {
			return nil, &BuildError{Op: "Limit", Table: q.table(), Err: err}
		}
	}
	return q.statement(text, neutral)
}

// BuildCount renders SELECT COUNT(*) over the unpaged SELECT.
func (q *Query) BuildCount() (*Statement, error) {
	if q.err == nil && q.op != OpSelect {
		return nil, &BuildError{Op: "BuildCount", Table: q.table(), Err: errors.WithMessagef(ErrInvalidState, "count requires a select, query is %s", q.op)}
	}
	neutral, err := q.ToSQL()
	if err != nil {
		return nil, err
	}
	if q.dialect == nil {
		return nil, &BuildError{Op: "BuildCount", Table: q.table(), Err: ErrNoDialect}
	}
	text, err := dialect.CountSQL(q.dialectPage(neutral))
	if err != nil {
		return nil, &BuildError{Op: "BuildCount", Table: q.table(), Err: err}
	}
	return q.statement(text, neutral)
}

func (q *Query) dialectPage(base string) dialect.Page {
	return dialect.Page{
		Base:   base,
		Filter: q.page.Filter,
		Size:   q.page.Size,
		Number: q.page.Number,
		Total:  q.page.Total,
	}
}

func (q *Query) statement(text, neutral string) (*Statement, error) {
	sql, args, err := dialect.Bind(q.dialect, text, q.root.params)
	if err != nil {
		return nil, &BuildError{Op: "Build", Table: q.table(), Err: err}
	}
	return &Statement{SQL: sql, Args: args, Neutral: neutral, Table: q.table(), Op: q.op}, nil
}
