package dialect

import (
	"fmt"
	"reflect"

	"github.com/shrek82/oql/model"
)

type postgres struct{}

func (d *postgres) Name() string { return "postgres" }

// Quote uses double quotes, which makes identifiers case sensitive.
func (d *postgres) Quote(name string) string {
	return `"` + name + `"`
}

func (d *postgres) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *postgres) SequenceSQL(name string) string {
	return fmt.Sprintf("nextval('%s')", name)
}

func (d *postgres) PageSQL(p Page) (string, error) {
	src, err := p.source()
	if err != nil {
		return "", err
	}
	offset, size, err := p.Window()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", src, size, offset), nil
}

func (d *postgres) ColumnDef(f *model.Field, inlinePK bool) string {
	def := d.dataTypeOf(f)
	if f.IDKind == model.AutoIncrement {
		if def == "bigint" {
			def = "bigserial"
		} else {
			def = "serial"
		}
	}
	if inlinePK {
		def += " PRIMARY KEY"
	}
	return constraints(def, f)
}

func (d *postgres) dataTypeOf(f *model.Field) string {
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
		return "integer"
	case reflect.Int64, reflect.Uint64:
		return "bigint"
	case reflect.Float32:
		return "real"
	case reflect.Float64:
		return "double precision"
	case reflect.String:
		if f.Size > 0 {
			return fmt.Sprintf("varchar(%d)", f.Size)
		}
		return "varchar(255)"
	case reflect.Slice:
		if typ.Elem().Kind() == reflect.Uint8 {
			return "bytea"
		}
	case reflect.Struct:
		if f.IsTime() {
			return "timestamp with time zone"
		}
	}
	return "text"
}

func (d *postgres) HasTableSQL(table string) (string, []any) {
	return "SELECT count(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1", []any{table}
}
