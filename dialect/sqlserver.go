package dialect

import (
	"fmt"
	"reflect"
	"regexp"

	"github.com/shrek82/oql/model"
)

type sqlserver struct{}

func (d *sqlserver) Name() string { return "sqlserver" }

func (d *sqlserver) Quote(name string) string {
	return "[" + name + "]"
}

func (d *sqlserver) Placeholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

func (d *sqlserver) SequenceSQL(name string) string {
	return "NEXT VALUE FOR " + d.Quote(name)
}

var hasOrderBy = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)

// PageSQL uses OFFSET/FETCH, which requires an ORDER BY.
func (d *sqlserver) PageSQL(p Page) (string, error) {
	src, err := p.source()
	if err != nil {
		return "", err
	}
	offset, size, err := p.Window()
	if err != nil {
		return "", err
	}
	if p.Filter != "" || !hasOrderBy.MatchString(src) {
		src += " ORDER BY (SELECT NULL)"
	}
	return fmt.Sprintf("%s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", src, offset, size), nil
}

func (d *sqlserver) ColumnDef(f *model.Field, inlinePK bool) string {
	def := d.dataTypeOf(f)
	if f.IDKind == model.AutoIncrement {
		def += " IDENTITY(1,1)"
	}
	if inlinePK {
		def += " PRIMARY KEY"
	}
	return constraints(def, f)
}

func (d *sqlserver) dataTypeOf(f *model.Field) string {
	if f.SQLType != "" {
		return f.SQLType
	}
	typ := f.Type
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	switch typ.Kind() {
	case reflect.Bool:
		return "bit"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uintptr:
		return "int"
	case reflect.Int64, reflect.Uint64:
		return "bigint"
	case reflect.Float32:
		return "real"
	case reflect.Float64:
		return "float"
	case reflect.String:
		if f.Size > 0 {
			return fmt.Sprintf("nvarchar(%d)", f.Size)
		}
		return "nvarchar(255)"
	case reflect.Slice:
		if typ.Elem().Kind() == reflect.Uint8 {
			return "varbinary(max)"
		}
	case reflect.Struct:
		if f.IsTime() {
			return "datetime2"
		}
	}
	return "nvarchar(max)"
}

func (d *sqlserver) HasTableSQL(table string) (string, []any) {
	return "SELECT count(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = @p1", []any{table}
}
