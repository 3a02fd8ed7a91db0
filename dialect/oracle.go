package dialect

import (
	"fmt"
	"reflect"

	"github.com/shrek82/oql/model"
)

type oracle struct{}

func (d *oracle) Name() string { return "oracle" }

func (d *oracle) Quote(name string) string {
	return `"` + name + `"`
}

func (d *oracle) Placeholder(index int) string {
	return fmt.Sprintf(":%d", index)
}

func (d *oracle) SequenceSQL(name string) string {
	return name + ".NEXTVAL"
}

// PageSQL uses nested ROWNUM windowing, which works on every Oracle version.
func (d *oracle) PageSQL(p Page) (string, error) {
	src, err := p.source()
	if err != nil {
		return "", err
	}
	offset, size, err := p.Window()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT * FROM (SELECT t.*, ROWNUM rn FROM (%s) t WHERE ROWNUM <= %d) WHERE rn >= %d",
		src, offset+size, offset+1), nil
}

func (d *oracle) ColumnDef(f *model.Field, inlinePK bool) string {
	def := d.dataTypeOf(f)
	if f.IDKind == model.AutoIncrement {
		def += " GENERATED BY DEFAULT AS IDENTITY"
	}
	if inlinePK {
		def += " PRIMARY KEY"
	}
	return constraints(def, f)
}

func (d *oracle) dataTypeOf(f *model.Field) string {
	if f.SQLType != "" {
		return f.SQLType
	}
	typ := f.Type
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	switch typ.Kind() {
	case reflect.Bool:
		return "NUMBER(1)"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uintptr:
		return "NUMBER(10)"
	case reflect.Int64, reflect.Uint64:
		return "NUMBER(19)"
	case reflect.Float32, reflect.Float64:
		return "BINARY_DOUBLE"
	case reflect.String:
		if f.Size > 0 {
			return fmt.Sprintf("VARCHAR2(%d)", f.Size)
		}
		return "VARCHAR2(255)"
	case reflect.Slice:
		if typ.Elem().Kind() == reflect.Uint8 {
			return "BLOB"
		}
	case reflect.Struct:
		if f.IsTime() {
			return "TIMESTAMP"
		}
	}
	return "CLOB"
}

func (d *oracle) HasTableSQL(table string) (string, []any) {
	return "SELECT count(*) FROM user_tables WHERE table_name = :1", []any{table}
}
