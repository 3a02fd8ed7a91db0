package dialect

import (
	"fmt"
	"reflect"

	"github.com/shrek82/oql/model"
)

type mysql struct{}

func (d *mysql) Name() string { return "mysql" }

func (d *mysql) Quote(name string) string {
	return "`" + name + "`"
}

func (d *mysql) Placeholder(int) string { return "?" }

// SequenceSQL uses the MariaDB syntax; MySQL itself has no sequences.
func (d *mysql) SequenceSQL(name string) string {
	return "NEXT VALUE FOR " + d.Quote(name)
}

func (d *mysql) PageSQL(p Page) (string, error) {
	return limitOffset(p)
}

func (d *mysql) ColumnDef(f *model.Field, inlinePK bool) string {
	def := d.dataTypeOf(f)
	if inlinePK {
		def += " PRIMARY KEY"
	}
	if f.IDKind == model.AutoIncrement {
		def += " AUTO_INCREMENT"
	}
	return constraints(def, f)
}

func (d *mysql) dataTypeOf(f *model.Field) string {
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
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uintptr:
		return "int"
	case reflect.Int64, reflect.Uint64:
		return "bigint"
	case reflect.Float32, reflect.Float64:
		return "double"
	case reflect.String:
		if f.Size > 0 {
			return fmt.Sprintf("varchar(%d)", f.Size)
		}
		return "varchar(255)"
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

func (d *mysql) HasTableSQL(table string) (string, []any) {
	return "SELECT count(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", []any{table}
}
