package query

import (
	"fmt"

	"github.com/pkg/errors"
)

// Build errors. They are returned wrapped in a *BuildError naming the
// table and field, so match them with errors.Is.
var (
	ErrMissingPrimaryKey = errors.New("missing primary key")
	ErrNoFields          = errors.New("no fields")
	ErrAmbiguousAlias    = errors.New("aggregate needs an alias when joins are present")
	ErrBadFunctionFormat = errors.New("malformed sql function template")
	ErrFieldCount        = errors.New("property reference count mismatch")
	ErrStaleReferences   = errors.New("stale property references")
	ErrGroupBy           = errors.New("group by validation failed")
	ErrWhereTwice        = errors.New("where already set")
	ErrInvalidOperator   = errors.New("invalid operator")
	ErrInvalidValue      = errors.New("invalid value")
	ErrInvalidState      = errors.New("invalid builder state")
	ErrUnknownField      = errors.New("unknown field")
	ErrNoDialect         = errors.New("no dialect")
)

// BuildError describes a usage error found while building a statement.
type BuildError struct {
	Op    string
	Table string
	Field string
	Err   error
}

func (e *BuildError) Error() string {
	target := e.Table
	if e.Field != "" {
		target += "." + e.Field
	}
	return fmt.Sprintf("oql: %s %s: %v", e.Op, target, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// fail records the first error; later ones are dropped.
func (q *Query) fail(op, field string, sentinel error, format string, args ...any) {
	if q.err != nil {
		return
	}
	err := sentinel
	if format != "" {
		err = errors.WithMessagef(sentinel, format, args...)
	}
	q.err = &BuildError{Op: op, Table: q.table(), Field: field, Err: err}
}

// adopt records an error coming from a nested query or collaborator.
func (q *Query) adopt(err error) {
	if q.err == nil && err != nil {
		q.err = err
	}
}
