package query

import (
	"fmt"
	"maps"
	"reflect"
	"time"

	"github.com/shrek82/oql/dialect"
	"github.com/shrek82/oql/model"
)

// Op is the statement kind a query renders to.
type Op int

const (
	OpNone Op = iota
	OpSelect
	OpUpdate
	OpUpdateSelf
	OpInsert
	OpInsertFrom
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpSelect:
		return "Select"
	case OpUpdate:
		return "Update"
	case OpUpdateSelf:
		return "UpdateSelf"
	case OpInsert:
		return "Insert"
	case OpInsertFrom:
		return "InsertFrom"
	case OpDelete:
		return "Delete"
	}
	return "None"
}

// stage orders the builder calls; a call may not follow a later stage.
type stage int

const (
	stageStart stage = iota
	stageJoin
	stageVerb
	stageWhere
	stageGroup
	stageHaving
	stageOrder
	stageLimit
)

// Terminal is implemented by every stage and renders the statement.
type Terminal interface {
	// ToSQL renders dialect neutral SQL: identifiers in [brackets] and
	// parameters as @name.
	ToSQL() (string, error)
	// Params returns the bound parameters keyed by name (without @).
	Params() map[string]any
	// Build renders the statement for the query's dialect, paginated when
	// Limit was called.
	Build() (*Statement, error)
	// BuildCount renders the row count statement of a SELECT.
	BuildCount() (*Statement, error)
	Err() error
	Query() *Query
}

// Starter is returned by From: joins, or the statement verb.
type Starter interface {
	Terminal
	Join(entity any, kind JoinKind) JoinBuilder
	InnerJoin(entity any) JoinBuilder
	LeftJoin(entity any) JoinBuilder
	RightJoin(entity any) JoinBuilder
	Sub(entity any) Starter
	Select(fields ...any) Selector
	Distinct() Selector
	Count(field any, alias ...string) Selector
	Max(field any, alias ...string) Selector
	Min(field any, alias ...string) Selector
	Sum(field any, alias ...string) Selector
	Avg(field any, alias ...string) Selector
	Insert(fields ...any) Terminal
	InsertFrom(child Terminal, fields ...any) Terminal
	Update(fields ...any) Modifier
	UpdateSelf(op string, fields ...any) Modifier
	Delete() Modifier
}

// JoinBuilder completes a join with its ON pairs.
type JoinBuilder interface {
	On(fields ...any) Starter
}

// Orderer is shared by the stages after which ordering is allowed.
type Orderer interface {
	OrderBy(args ...any) Ordered
	Asc(fields ...any) Ordered
	Desc(fields ...any) Ordered
	Limit(size int, page ...int) Paged
}

// Selector is the SELECT list stage.
type Selector interface {
	Terminal
	Orderer
	Select(fields ...any) Selector
	Distinct() Selector
	Count(field any, alias ...string) Selector
	Max(field any, alias ...string) Selector
	Min(field any, alias ...string) Selector
	Sum(field any, alias ...string) Selector
	Avg(field any, alias ...string) Selector
	Where(args ...any) Filtered
	GroupBy(fields ...any) Grouped
}

// Filtered follows Where.
type Filtered interface {
	Terminal
	Orderer
	GroupBy(fields ...any) Grouped
}

// Grouped follows GroupBy.
type Grouped interface {
	Terminal
	Orderer
	GroupBy(fields ...any) Grouped
	Having(args ...any) Grouped
}

// Ordered follows OrderBy.
type Ordered interface {
	Terminal
	Orderer
}

// Paged follows Limit.
type Paged interface {
	Terminal
	CountTotal() Paged
	Total(n int64) Paged
	Filter(fragment string, params map[string]any) Paged
}

// Modifier follows Update, UpdateSelf and Delete; only Where may follow.
type Modifier interface {
	Terminal
	Where(args ...any) Terminal
}

// Paging is the pagination request of a SELECT.
type Paging struct {
	Enabled   bool
	Size      int
	Number    int
	Total     int64
	AutoCount bool

	// Filter is applied over the rows of the unpaged query, in neutral
	// syntax with bare [column] names. Its parameters are bound with the
	// query's own.
	Filter string
}

// Query holds the state of one statement under construction. It is not
// safe for concurrent use; a child query shares counters and parameters
// with its root.
type Query struct {
	root   *Query
	parent *Query

	dialect  dialect.Dialect
	now      func() time.Time
	auditor  any
	unscoped bool

	op       Op
	stage    stage
	bindings []*binding // bindings[0] is the FROM entity
	pending  *binding   // joined entity awaiting On
	stack    []*FieldRef
	err      error
	hasChild bool

	// owned by the root
	refSeq   int
	paramSeq int
	aliasSeq int
	params   map[string]any

	distinct   bool
	selects    []string
	aggregates []string
	joins      []string
	where      string
	hasWhere   bool
	groupBy    []string
	having     string
	orderBy    []string
	sets       []string
	insertCols []string
	insertVals []string
	source     *Query
	page       Paging

	prepared   bool
	guards     []string
	extraWhere []string
}

// Option configures a query.
type Option func(*Query)

// WithDialect sets the dialect used by Build.
func WithDialect(d dialect.Dialect) Option {
	return func(q *Query) { q.dialect = d }
}

// WithAuditor sets the value written to created_by and updated_by columns.
func WithAuditor(actor any) Option {
	return func(q *Query) { q.auditor = actor }
}

// WithClock replaces time.Now for audit and soft-delete timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Query) { q.now = now }
}

// WithUnscoped disables soft-delete handling: no IS NULL guard and
// physical deletes.
func WithUnscoped() Option {
	return func(q *Query) { q.unscoped = true }
}

// From starts a query on entity, a pointer to a struct whose field
// addresses are then used as column references.
func From(entity any, opts ...Option) Starter {
	q := &Query{now: time.Now, params: make(map[string]any)}
	q.root = q
	for _, opt := range opts {
		opt(q)
	}
	if _, err := q.bind(entity, "M"); err != nil {
		q.err = err
	}
	return q
}

// Sub starts a child query sharing this query's parameters and reference
// counter; fields of this query's entities may be used inside it.
func (q *Query) Sub(entity any) Starter {
	c := &Query{
		root:     q.root,
		parent:   q,
		dialect:  q.dialect,
		now:      q.now,
		auditor:  q.auditor,
		unscoped: q.unscoped,
	}
	q.hasChild = true
	if _, err := c.bind(entity, q.root.nextAlias()); err != nil {
		c.err = err
	}
	return c
}

func (q *Query) nextAlias() string {
	a := fmt.Sprintf("T%d", q.root.aliasSeq)
	q.root.aliasSeq++
	return a
}

// bindParam stores v under a fresh name and returns its @reference.
func (q *Query) bindParam(v any) string {
	r := q.root
	name := fmt.Sprintf("P%d", r.paramSeq)
	r.paramSeq++
	r.params[name] = v
	return "@" + name
}

// qualified reports whether column references need a table alias.
func (q *Query) qualified() bool {
	if q.parent != nil || len(q.joins) > 0 || q.pending != nil {
		return true
	}
	return q.hasChild && (q.op == OpNone || q.op == OpSelect)
}

// enter checks that a call is valid in the current stage and advances it.
func (q *Query) enter(op string, last, next stage) bool {
	if q.err != nil {
		return false
	}
	if q.pending != nil {
		q.fail(op, "", ErrInvalidState, "join on %s is missing On", q.pending.schema.Table)
		return false
	}
	if len(q.stack) > 0 {
		q.fail(op, q.stack[0].Field.Name, ErrStaleReferences, "%d left on the stack", len(q.stack))
		return false
	}
	if q.stage > last {
		q.fail(op, "", ErrInvalidState, "%s cannot follow an earlier %s stage", op, q.stageName())
		return false
	}
	if next > q.stage {
		q.stage = next
	}
	return true
}

func (q *Query) stageName() string {
	switch q.stage {
	case stageJoin:
		return "join"
	case stageVerb:
		return q.op.String()
	case stageWhere:
		return "where"
	case stageGroup:
		return "group by"
	case stageHaving:
		return "having"
	case stageOrder:
		return "order by"
	case stageLimit:
		return "limit"
	}
	return "start"
}

// verb sets the operation, failing when a different one is already set.
func (q *Query) verb(name string, op Op) bool {
	if q.op == op {
		return true
	}
	if q.op != OpNone {
		q.fail(name, "", ErrInvalidState, "query is already a %s", q.op)
		return false
	}
	if op != OpSelect && q.parent != nil {
		q.fail(name, "", ErrInvalidState, "a subquery can only select")
		return false
	}
	if op != OpSelect && len(q.joins) > 0 {
		q.fail(name, "", ErrInvalidState, "%s does not support joins", op)
		return false
	}
	q.op = op
	return true
}

// requireSelect guards the select-only stages.
func (q *Query) requireSelect(name string) bool {
	if q.err != nil {
		return false
	}
	if q.op != OpSelect {
		q.fail(name, "", ErrInvalidState, "%s requires a select, query is %s", name, q.op)
		return false
	}
	return true
}

func (q *Query) table() string {
	if len(q.bindings) == 0 {
		return "?"
	}
	return q.bindings[0].schema.Table
}

// Err returns the first build error.
func (q *Query) Err() error { return q.err }

// Query returns the underlying builder.
func (q *Query) Query() *Query { return q }

// Op returns the statement kind.
func (q *Query) Op() Op { return q.op }

// Schema returns the schema of the FROM entity.
func (q *Query) Schema() *model.Schema {
	if len(q.bindings) == 0 {
		return nil
	}
	return q.bindings[0].schema
}

// Entity returns the FROM entity pointer.
func (q *Query) Entity() any {
	if len(q.bindings) == 0 {
		return nil
	}
	return q.bindings[0].entity
}

// Dialect returns the dialect set with WithDialect.
func (q *Query) Dialect() dialect.Dialect { return q.dialect }

// Paging returns the pagination request.
func (q *Query) Paging() Paging { return q.page }

// SetTotal records a known total row count used to clamp the page number.
func (q *Query) SetTotal(n int64) { q.page.Total = n }

// Params returns a copy of the bound parameters.
func (q *Query) Params() map[string]any {
	return maps.Clone(q.root.params)
}

// String renders the neutral SQL, or the build error.
func (q *Query) String() string {
	s, err := q.ToSQL()
	if err != nil {
		return err.Error()
	}
	return s
}

func (q *Query) rootValue() reflect.Value {
	return q.bindings[0].value
}
