package query

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/mo"

	"github.com/shrek82/oql/model"
)

// binding ties an entity instance to a query under an alias.
type binding struct {
	entity any
	value  reflect.Value // addressable struct
	schema *model.Schema
	alias  string
	owner  *Query
}

func (b *binding) prefix() string {
	if b.owner.qualified() {
		return b.alias + "."
	}
	return ""
}

// ref renders a field with a deferred alias marker. Whether a column is
// qualified is only known once the statement is complete (a later Sub or
// Join changes it), so fragments carry markers until finalize.
func (b *binding) ref(f *model.Field) string {
	return aliasMark + b.alias + aliasMark + "[" + f.Column + "]"
}

const aliasMark = "\x00"

// FieldRef is one captured property reference. SQLName overrides the
// rendered name when set; otherwise the reference renders with an alias
// marker resolved at finalize.
type FieldRef struct {
	Field   *model.Field
	Index   int
	Value   mo.Option[any]
	SQLName mo.Option[string]

	binding *binding
}

// Name returns the column reference as the finished statement renders it.
func (r *FieldRef) Name() string {
	return r.binding.owner.finalize(r.expr())
}

// expr is the reference as embedded in fragments.
func (r *FieldRef) expr() string {
	return r.SQLName.OrElse(r.binding.ref(r.Field))
}

// Column returns the bare bracketed column, for INSERT and SET targets.
func (r *FieldRef) Column() string {
	return "[" + r.Field.Column + "]"
}

func (q *Query) bind(entity any, alias string) (*binding, error) {
	rv := reflect.ValueOf(entity)
	if entity == nil || rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, &BuildError{Op: "From", Table: "?", Err: errors.WithMessagef(ErrInvalidValue, "entity must be a non-nil pointer to struct, got %T", entity)}
	}
	s, err := model.ParseType(rv.Type())
	if err != nil {
		return nil, &BuildError{Op: "From", Table: rv.Elem().Type().Name(), Err: errors.WithMessage(ErrInvalidValue, err.Error())}
	}
	for p := q; p != nil; p = p.parent {
		for _, b := range p.bindings {
			if b.value.Addr().Pointer() == rv.Pointer() && b.schema == s {
				return nil, &BuildError{Op: "Join", Table: s.Table, Err: errors.WithMessage(ErrInvalidState, "entity instance is already bound, use a separate instance")}
			}
		}
	}
	b := &binding{entity: entity, value: rv.Elem(), schema: s, alias: alias, owner: q}
	q.bindings = append(q.bindings, b)
	return b, nil
}

// resolve finds the bound field a pointer addresses, searching this
// query's entities first and then its parents'.
func (q *Query) resolve(ptr any) (*binding, *model.Field, bool) {
	if ptr == nil {
		return nil, nil, false
	}
	if reflect.TypeOf(ptr).Kind() != reflect.Ptr {
		return nil, nil, false
	}
	for p := q; p != nil; p = p.parent {
		for _, b := range p.bindings {
			if f, ok := b.schema.FieldOf(b.value, ptr); ok {
				return b, f, true
			}
		}
	}
	return nil, nil, false
}

// isRef reports whether v addresses a field of a bound entity.
func (q *Query) isRef(v any) bool {
	_, _, ok := q.resolve(v)
	return ok
}

// capture pushes one reference per field pointer, in argument order.
func (q *Query) capture(op string, ptrs ...any) bool {
	if q.err != nil {
		return false
	}
	for i, ptr := range ptrs {
		b, f, ok := q.resolve(ptr)
		if !ok {
			q.fail(op, "", ErrUnknownField, "argument %d (%T) is not a field of a bound entity", i, ptr)
			return false
		}
		r := q.root
		ref := &FieldRef{
			Field:   f,
			Index:   r.refSeq,
			Value:   mo.Some(f.Value(b.value).Interface()),
			SQLName: mo.None[string](),
			binding: b,
		}
		r.refSeq++
		q.stack = append(q.stack, ref)
	}
	return true
}

// pop removes the n most recent references and returns them in the order
// they were pushed.
func (q *Query) pop(op string, n int) ([]*FieldRef, bool) {
	if q.err != nil {
		return nil, false
	}
	if len(q.stack) < n {
		q.fail(op, "", ErrFieldCount, "expected %d property references, found %d", n, len(q.stack))
		return nil, false
	}
	at := len(q.stack) - n
	refs := append([]*FieldRef(nil), q.stack[at:]...)
	q.stack = q.stack[:at]
	return refs, true
}

// take captures exactly the given fields and pops them back.
func (q *Query) take(op string, ptrs ...any) ([]*FieldRef, bool) {
	if !q.capture(op, ptrs...) {
		return nil, false
	}
	refs, ok := q.pop(op, len(ptrs))
	if !ok {
		return nil, false
	}
	return refs, q.settle(op)
}

// settle fails when references are left over after a stage.
func (q *Query) settle(op string) bool {
	if q.err != nil {
		return false
	}
	if len(q.stack) > 0 {
		q.fail(op, q.stack[0].Field.Name, ErrStaleReferences, "%d left on the stack", len(q.stack))
		q.stack = q.stack[:0]
		return false
	}
	return true
}

// finalize replaces alias markers with the alias prefix each binding
// needs, searching this query's bindings and then its parents'.
func (q *Query) finalize(s string) string {
	if !strings.Contains(s, aliasMark) {
		return s
	}
	var sb strings.Builder
	for {
		i := strings.Index(s, aliasMark)
		if i < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		j := strings.Index(s[i+1:], aliasMark)
		if j < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		sb.WriteString(s[:i])
		alias := s[i+1 : i+1+j]
		if b := q.bindingByAlias(alias); b != nil {
			sb.WriteString(b.prefix())
		}
		s = s[i+2+j:]
	}
}

func (q *Query) bindingByAlias(alias string) *binding {
	for p := q; p != nil; p = p.parent {
		for _, b := range p.bindings {
			if b.alias == alias {
				return b
			}
		}
	}
	return nil
}

// ownRoot checks that every reference targets the FROM entity.
func (q *Query) ownRoot(op string, refs []*FieldRef) bool {
	for _, r := range refs {
		if r.binding != q.bindings[0] {
			q.fail(op, r.Field.Name, ErrInvalidValue, "field does not belong to %s", q.table())
			return false
		}
	}
	return true
}
