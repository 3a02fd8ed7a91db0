package query

import (
	"reflect"
	"regexp"
	"strings"
)

// Logic combines two predicates.
type Logic int

const (
	logicLeaf Logic = iota
	logicAnd
	logicOr
	logicNot
)

func (l Logic) String() string {
	switch l {
	case logicAnd:
		return "AND"
	case logicOr:
		return "OR"
	case logicNot:
		return "NOT"
	}
	return ""
}

// Compare is a node of a boolean predicate tree: a leaf comparison or an
// AND/OR/NOT combination. The zero tree handed to Where callbacks is
// empty; combining with an empty tree yields the other side unchanged.
type Compare struct {
	q     *Query
	logic Logic
	left  *Compare
	right *Compare
	sql   string
	empty bool
}

// Compare returns an empty predicate tree bound to q.
func (q *Query) Compare() *Compare {
	return &Compare{q: q, empty: true}
}

func (c *Compare) isEmpty() bool {
	return c == nil || c.empty
}

func (c *Compare) leaf(sql string) *Compare {
	return &Compare{q: c.q, sql: sql}
}

// And combines c and other with AND.
func (c *Compare) And(other *Compare) *Compare {
	return c.join(logicAnd, other)
}

// Or combines c and other with OR.
func (c *Compare) Or(other *Compare) *Compare {
	return c.join(logicOr, other)
}

func (c *Compare) join(l Logic, other *Compare) *Compare {
	switch {
	case c.isEmpty():
		if other.isEmpty() {
			return c
		}
		return other
	case other.isEmpty():
		return c
	}
	return &Compare{q: c.q, logic: l, left: c, right: other}
}

// Not negates x; negating an empty tree is empty.
func (c *Compare) Not(x *Compare) *Compare {
	if x.isEmpty() {
		return c.q.Compare()
	}
	return &Compare{q: c.q, logic: logicNot, left: x}
}

// String renders the tree as a top-level predicate.
func (c *Compare) String() string {
	if c.isEmpty() {
		return ""
	}
	return c.q.finalize(c.render(logicLeaf))
}

// render parenthesizes a combination only when it sits under a parent
// of the other logic; runs of the same logic stay flat.
func (c *Compare) render(parent Logic) string {
	switch c.logic {
	case logicLeaf:
		return c.sql
	case logicNot:
		return "NOT (" + c.left.render(logicLeaf) + ")"
	}
	s := c.left.render(c.logic) + " " + c.logic.String() + " " + c.right.render(c.logic)
	if (parent == logicAnd || parent == logicOr) && parent != c.logic {
		return "(" + s + ")"
	}
	return s
}

var operators = map[string]string{
	"=":           "=",
	"<>":          "<>",
	"!=":          "<>",
	">":           ">",
	">=":          ">=",
	"<":           "<",
	"<=":          "<=",
	"LIKE":        "LIKE",
	"NOT LIKE":    "NOT LIKE",
	"IN":          "IN",
	"NOT IN":      "NOT IN",
	"IS":          "IS",
	"IS NOT":      "IS NOT",
	"BETWEEN":     "BETWEEN",
	"NOT BETWEEN": "NOT BETWEEN",
}

func normalizeOperator(op string) (string, bool) {
	key := strings.ToUpper(strings.Join(strings.Fields(op), " "))
	canon, ok := operators[key]
	return canon, ok
}

var unsafeTemplate = regexp.MustCompile(`--|/\*|['";]`)

// applyTemplate substitutes %1 (the field) and %2 (the parameter) into a
// caller supplied SQL function template.
func applyTemplate(format, field, param string) (string, bool) {
	if !strings.Contains(format, "%1") || unsafeTemplate.MatchString(format) {
		return "", false
	}
	s := strings.ReplaceAll(format, "%1", field)
	if param != "" {
		s = strings.ReplaceAll(s, "%2", param)
	}
	return s, true
}

// Comparer builds a leaf comparing field with value. value may be a
// literal, a slice (IN, NOT IN, BETWEEN), another field pointer, or a
// subquery. The optional format wraps the field in a SQL function,
// e.g. "LOWER(%1)".
func (c *Compare) Comparer(field any, op string, value any, format ...string) *Compare {
	q := c.q
	if q.err != nil {
		return q.Compare()
	}
	canon, ok := normalizeOperator(op)
	if !ok {
		q.fail("Comparer", "", ErrInvalidOperator, "%q", op)
		return q.Compare()
	}

	fieldVsField := q.isRef(value)
	ptrs := []any{field}
	if fieldVsField {
		ptrs = append(ptrs, value)
	}
	refs, ok := q.take("Comparer", ptrs...)
	if !ok {
		return q.Compare()
	}
	left := refs[0].expr()
	name := refs[0].Field.Name
	if len(format) > 0 && format[0] != "" {
		wrapped, ok := applyTemplate(format[0], left, "")
		if !ok {
			q.fail("Comparer", name, ErrBadFunctionFormat, "%q", format[0])
			return q.Compare()
		}
		left = wrapped
	}

	if fieldVsField {
		switch canon {
		case "IN", "NOT IN", "IS", "IS NOT", "BETWEEN", "NOT BETWEEN":
			q.fail("Comparer", name, ErrInvalidOperator, "%s cannot compare two fields", canon)
			return q.Compare()
		}
		return c.leaf(left + " " + canon + " " + refs[1].expr())
	}

	if sub, ok := value.(Terminal); ok {
		return c.subquery(left, canon, name, sub)
	}

	switch canon {
	case "IN", "NOT IN":
		items, ok := sliceItems(value)
		if !ok {
			q.fail("Comparer", name, ErrInvalidValue, "%s needs a slice, got %T", canon, value)
			return q.Compare()
		}
		if len(items) == 0 {
			if canon == "IN" {
				return c.leaf("1=0")
			}
			return c.leaf("1=1")
		}
		ps := make([]string, len(items))
		for i, it := range items {
			ps[i] = q.bindParam(it)
		}
		return c.leaf(left + " " + canon + " (" + strings.Join(ps, ",") + ")")

	case "IS", "IS NOT":
		word, ok := nullWord(value)
		if !ok {
			q.fail("Comparer", name, ErrInvalidValue, "%s accepts only NULL or NOT NULL, got %v", canon, value)
			return q.Compare()
		}
		if canon == "IS NOT" {
			if word != "NULL" {
				q.fail("Comparer", name, ErrInvalidValue, "IS NOT %s", word)
				return q.Compare()
			}
			return c.leaf(left + " IS NOT NULL")
		}
		return c.leaf(left + " IS " + word)

	case "BETWEEN", "NOT BETWEEN":
		items, ok := sliceItems(value)
		if !ok || len(items) != 2 {
			q.fail("Comparer", name, ErrInvalidValue, "%s needs exactly two bounds", canon)
			return q.Compare()
		}
		lo := q.bindParam(items[0])
		hi := q.bindParam(items[1])
		return c.leaf(left + " " + canon + " " + lo + " AND " + hi)
	}

	if value == nil {
		q.fail("Comparer", name, ErrInvalidValue, "nil with %s, use IS NULL", canon)
		return q.Compare()
	}
	return c.leaf(left + " " + canon + " " + q.bindParam(value))
}

func (c *Compare) subquery(left, op, field string, sub Terminal) *Compare {
	q := c.q
	child := sub.Query()
	if child.root != q.root || child == q {
		q.fail("Comparer", field, ErrInvalidState, "subquery must be created with Sub on the same query")
		return q.Compare()
	}
	switch op {
	case "IS", "IS NOT", "BETWEEN", "NOT BETWEEN":
		q.fail("Comparer", field, ErrInvalidOperator, "%s cannot take a subquery", op)
		return q.Compare()
	}
	s, err := child.ToSQL()
	if err != nil {
		q.adopt(err)
		return q.Compare()
	}
	return c.leaf(left + " " + op + " (" + s + ")")
}

func sliceItems(v any) ([]any, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, false
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func nullWord(v any) (string, bool) {
	if v == nil {
		return "NULL", true
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	switch strings.ToUpper(strings.Join(strings.Fields(s), " ")) {
	case "NULL":
		return "NULL", true
	case "NOT NULL":
		return "NOT NULL", true
	}
	return "", false
}

// Eq is Comparer(field, "=", value).
func (c *Compare) Eq(field, value any) *Compare { return c.Comparer(field, "=", value) }

// Ne is Comparer(field, "<>", value).
func (c *Compare) Ne(field, value any) *Compare { return c.Comparer(field, "<>", value) }

func (c *Compare) Gt(field, value any) *Compare { return c.Comparer(field, ">", value) }
func (c *Compare) Ge(field, value any) *Compare { return c.Comparer(field, ">=", value) }
func (c *Compare) Lt(field, value any) *Compare { return c.Comparer(field, "<", value) }
func (c *Compare) Le(field, value any) *Compare { return c.Comparer(field, "<=", value) }

func (c *Compare) Like(field any, pattern string) *Compare {
	return c.Comparer(field, "LIKE", pattern)
}

// In accepts a slice or a subquery.
func (c *Compare) In(field, values any) *Compare { return c.Comparer(field, "IN", values) }

func (c *Compare) NotIn(field, values any) *Compare { return c.Comparer(field, "NOT IN", values) }

func (c *Compare) IsNull(field any) *Compare { return c.Comparer(field, "IS", nil) }

func (c *Compare) IsNotNull(field any) *Compare { return c.Comparer(field, "IS NOT", nil) }

// Between binds lo and hi as two parameters.
func (c *Compare) Between(field, lo, hi any) *Compare {
	return c.Comparer(field, "BETWEEN", []any{lo, hi})
}

// Raw embeds a SQL fragment; [Field] names a field of a bound entity and
// @name a value from params.
func (c *Compare) Raw(fragment string, params map[string]any) *Compare {
	q := c.q
	if q.err != nil {
		return q.Compare()
	}
	s, ok := q.rewrite("Raw", fragment, params)
	if !ok {
		return q.Compare()
	}
	return c.leaf("(" + s + ")")
}
