package query

import (
	"strings"
)

// JoinKind is the SQL join keyword.
type JoinKind string

const (
	JoinInner JoinKind = "INNER JOIN"
	JoinLeft  JoinKind = "LEFT JOIN"
	JoinRight JoinKind = "RIGHT JOIN"
)

type joinStep struct {
	q    *Query
	b    *binding
	kind JoinKind
}

// Join binds entity under the next alias (T0, T1, ...). The returned
// builder must be completed with On before any other call.
func (q *Query) Join(entity any, kind JoinKind) JoinBuilder {
	if !q.enter("Join", stageJoin, stageJoin) {
		return &joinStep{q: q}
	}
	if q.op != OpNone {
		q.fail("Join", "", ErrInvalidState, "join must precede %s", q.op)
		return &joinStep{q: q}
	}
	switch kind {
	case JoinInner, JoinLeft, JoinRight:
	default:
		q.fail("Join", "", ErrInvalidValue, "join kind %q", string(kind))
		return &joinStep{q: q}
	}
	b, err := q.bind(entity, q.nextAlias())
	if err != nil {
		q.adopt(err)
		return &joinStep{q: q}
	}
	q.pending = b
	return &joinStep{q: q, b: b, kind: kind}
}

func (q *Query) InnerJoin(entity any) JoinBuilder { return q.Join(entity, JoinInner) }
func (q *Query) LeftJoin(entity any) JoinBuilder  { return q.Join(entity, JoinLeft) }
func (q *Query) RightJoin(entity any) JoinBuilder { return q.Join(entity, JoinRight) }

// On takes field pointers in pairs; each pair renders left = right and
// pairs are ANDed. Every pair must involve the joined entity.
func (j *joinStep) On(fields ...any) Starter {
	q := j.q
	if q.err != nil || j.b == nil {
		return q
	}
	if len(fields) < 2 || len(fields)%2 != 0 {
		q.fail("On", "", ErrFieldCount, "expected 2N property references, found %d", len(fields))
		return q
	}
	refs, ok := q.take("On", fields...)
	if !ok {
		return q
	}
	pairs := make([]string, 0, len(refs)/2)
	for i := 0; i < len(refs); i += 2 {
		l, r := refs[i], refs[i+1]
		if l.binding != j.b && r.binding != j.b {
			q.fail("On", l.Field.Name, ErrInvalidValue, "pair %d does not reference %s", i/2, j.b.schema.Table)
			return q
		}
		pairs = append(pairs, l.expr()+" = "+r.expr())
	}
	q.pending = nil
	q.joins = append(q.joins, string(j.kind)+" ["+j.b.schema.Table+"] "+j.b.alias+" ON "+strings.Join(pairs, " AND "))
	return q
}
