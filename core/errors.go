package core

import (
	"database/sql"
	"database/sql/driver"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	sqlitelib "modernc.org/sqlite/lib"
)

var (
	// ErrRecordNotFound is returned when a query expects at least one record but none were found.
	ErrRecordNotFound = errors.New("record not found")
	// ErrInvalidModel is returned when a value cannot be mapped (not a struct pointer, no primary key).
	ErrInvalidModel = errors.New("invalid model")
	// ErrInvalidQuery is returned when a statement does not fit the call (e.g. List on an UPDATE).
	ErrInvalidQuery = errors.New("invalid query")
	// ErrDuplicateKey is returned when a database unique constraint is violated.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrForeignKey is returned when a database foreign key constraint is violated.
	ErrForeignKey = errors.New("foreign key constraint")
	// ErrConnectionFailed is returned when the database connection cannot be established or is lost.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrInvalidSQL is returned when a raw SQL statement is empty or malformed.
	ErrInvalidSQL = errors.New("invalid sql")
	// ErrValidation is returned when an entity fails its validate tags.
	ErrValidation = errors.New("validation failed")
	// ErrVersionConflict marks an optimistic update that matched no row.
	ErrVersionConflict = errors.New("version conflict")
)

// Error pairs a classification sentinel with the driver error. Both stay
// reachable through errors.Is and errors.As.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string { return e.Kind.Error() + ": " + e.Err.Error() }

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// Classify wraps known driver errors with ErrDuplicateKey, ErrForeignKey,
// ErrRecordNotFound or ErrConnectionFailed. Other errors pass unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	if kind := kindOf(err); kind != nil {
		return &Error{Kind: kind, Err: err}
	}
	return err
}

func kindOf(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRecordNotFound
	}
	if errors.Is(err, driver.ErrBadConn) {
		return ErrConnectionFailed
	}

	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1062:
			return ErrDuplicateKey
		case 1451, 1452:
			return ErrForeignKey
		}
		return nil
	}

	var pe *pq.Error
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23505":
			return ErrDuplicateKey
		case "23503":
			return ErrForeignKey
		}
		return nil
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return ErrDuplicateKey
		case sqlite3.ErrConstraintForeignKey:
			return ErrForeignKey
		}
		return nil
	}

	// modernc.org/sqlite
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		switch coded.Code() {
		case sqlitelib.SQLITE_CONSTRAINT_UNIQUE, sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return ErrDuplicateKey
		case sqlitelib.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ErrForeignKey
		case sqlitelib.SQLITE_CONSTRAINT:
			// extended codes disabled on the connection
			switch msg := err.Error(); {
			case strings.Contains(msg, "UNIQUE constraint failed"):
				return ErrDuplicateKey
			case strings.Contains(msg, "FOREIGN KEY constraint failed"):
				return ErrForeignKey
			}
		}
	}
	return nil
}
