package dialect

import (
	"reflect"

	"github.com/shrek82/oql/model"
)

// sqlite serves both mattn/go-sqlite3 ("sqlite3") and modernc.org/sqlite ("sqlite").
type sqlite struct {
	name string
}

func (d *sqlite) Name() string { return d.name }

func (d *sqlite) Quote(name string) string {
	return "`" + name + "`"
}

func (d *sqlite) Placeholder(int) string { return "?" }

// SequenceSQL has no SQLite equivalent; the ANSI form is emitted so the
// database reports the problem.
func (d *sqlite) SequenceSQL(name string) string {
	return "NEXT VALUE FOR " + d.Quote(name)
}

func (d *sqlite) PageSQL(p Page) (string, error) {
	return limitOffset(p)
}

func (d *sqlite) ColumnDef(f *model.Field, inlinePK bool) string {
	def := d.dataTypeOf(f)
	if inlinePK {
		def += " PRIMARY KEY"
		if f.IDKind == model.AutoIncrement {
			// AUTOINCREMENT is only valid on an INTEGER PRIMARY KEY
			def = "integer PRIMARY KEY AUTOINCREMENT"
		}
	}
	return constraints(def, f)
}

func (d *sqlite) dataTypeOf(f *model.Field) string {
	if f.SQLType != "" {
		return f.SQLType
	}
	typ := f.Type
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	switch typ.Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uintptr,
		reflect.Int64, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "real"
	case reflect.Slice:
		if typ.Elem().Kind() == reflect.Uint8 {
			return "blob"
		}
	case reflect.Struct:
		if f.IsTime() {
			return "datetime"
		}
	}
	return "text"
}

func (d *sqlite) HasTableSQL(table string) (string, []any) {
	return "SELECT count(*) FROM sqlite_master WHERE type='table' AND name = ?", []any{table}
}
