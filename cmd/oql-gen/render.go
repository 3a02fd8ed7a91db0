package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"go/format"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/go-openapi/inflect"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/shrek82/oql/logger"
	"github.com/shrek82/oql/model"
)

var entityTemplate = template.Must(template.New("entity").Parse(`// Code generated by oql-gen. DO NOT EDIT.

package {{.Package}}
{{if .Imports}}
import (
{{- range .Imports}}
	"{{.}}"
{{- end}}
)
{{end}}
// {{.Struct}} maps table {{.Table}}.
type {{.Struct}} struct {
{{- range .Fields}}
	{{.Name}} {{.Type}}{{with .Tag}} ` + "`" + `oql:"{{.}}"` + "`" + `{{end}}{{with .Comment}} // {{.}}{{end}}
{{- end}}
}

// TableName returns the table {{.Struct}} is stored in.
func (*{{.Struct}}) TableName() string { return {{printf "%q" .Table}} }
`))

type field struct {
	Name    string
	Type    string
	Tag     string
	Comment string
}

type entity struct {
	Package string
	Struct  string
	Table   string
	Imports []string
	Fields  []field
}

// initialisms are kept upper case in Go names.
var initialisms = map[string]bool{
	"ID": true, "URL": true, "URI": true, "IP": true, "UUID": true, "API": true,
	"HTTP": true, "JSON": true, "SQL": true, "UID": true, "SKU": true,
}

// goName turns a column or table name into an exported identifier:
// "user_id" -> "UserID", "idCard" -> "IDCard".
func goName(s string) string {
	var sb strings.Builder
	for _, w := range strings.Split(inflect.Underscore(s), "_") {
		if w == "" {
			continue
		}
		if up := strings.ToUpper(w); initialisms[up] {
			sb.WriteString(up)
			continue
		}
		sb.WriteString(inflect.Capitalize(w))
	}
	name := sb.String()
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "X" + name
	}
	return name
}

// structName singularizes the table name: "order_items" -> "OrderItem".
func structName(table string) string {
	return goName(inflect.Singularize(table))
}

func baseType(dbType string) string {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return strings.TrimSuffix(t, " UNSIGNED")
}

var intTypes = map[string]bool{
	"INT": true, "INTEGER": true, "TINYINT": true, "SMALLINT": true, "MEDIUMINT": true, "BIGINT": true,
	"INT2": true, "INT4": true, "INT8": true, "SERIAL": true, "SMALLSERIAL": true, "BIGSERIAL": true,
	"SERIAL4": true, "SERIAL8": true, "UNSIGNED BIG INT": true,
}

func isInt(base string) bool { return intTypes[base] }

// goType maps a catalog type to the Go type the mapper scans it into.
func goType(c column) string {
	base := baseType(c.DBType)
	var t string
	switch {
	case c.PK && isInt(base):
		t = "int64"
	case base == "TINYINT" && strings.Contains(c.DBType, "(1)"):
		t = "bool"
	case base == "TINYINT":
		t = "int8"
	case base == "SMALLINT", base == "INT2", base == "SMALLSERIAL":
		t = "int16"
	case base == "BIGINT", base == "INT8", base == "BIGSERIAL", base == "INTEGER" && c.Auto:
		t = "int64"
	case isInt(base):
		t = "int32"
	case base == "BOOL", base == "BOOLEAN":
		t = "bool"
	case base == "FLOAT":
		t = "float32"
	case base == "DECIMAL", base == "NUMERIC", base == "REAL", strings.HasPrefix(base, "DOUBLE"):
		t = "float64"
	case strings.HasPrefix(base, "TIMESTAMP"), strings.HasPrefix(base, "TIME"), base == "DATE", base == "DATETIME":
		t = "time.Time"
	case strings.Contains(base, "BLOB"), strings.Contains(base, "BINARY"), base == "BYTEA":
		t = "[]byte"
	case strings.Contains(base, "CHAR"), strings.Contains(base, "TEXT"), strings.HasPrefix(base, "JSON"),
		base == "UUID", base == "ENUM", base == "SET", base == "CLOB", base == "INTERVAL":
		t = "string"
	default:
		return "any"
	}
	if strings.EqualFold(c.Name, "deleted_at") && t == "time.Time" {
		return "*time.Time"
	}
	if c.Nullable && !c.PK && t != "[]byte" {
		return "*" + t
	}
	return t
}

// oqlTag renders the struct tag body for c, whose Go field is named name.
func oqlTag(c column, name, typ string) string {
	var tags []string
	if model.SnakeCase(name) != c.Name {
		tags = append(tags, "column:"+c.Name)
	}
	if c.PK {
		tags = append(tags, "pk")
		if c.Auto {
			tags = append(tags, "auto")
		}
	}

	isTime := strings.TrimPrefix(typ, "*") == "time.Time"
	intLike := strings.HasPrefix(strings.TrimPrefix(typ, "*"), "int")
	special := ""
	switch lc := strings.ToLower(c.Name); {
	case lc == "created_at" && isTime, lc == "updated_at" && isTime, lc == "deleted_at" && isTime:
		special = lc
	case lc == "created_by", lc == "updated_by":
		special = lc
	case lc == "version" && intLike && !c.PK:
		special = "version"
	}
	if special != "" {
		tags = append(tags, special)
	}

	if c.Unique && !c.PK {
		tags = append(tags, "unique")
	}
	if !c.Nullable && !c.PK && special == "" {
		tags = append(tags, "notnull")
	}
	if c.Size > 0 && (typ == "string" || typ == "*string") {
		tags = append(tags, fmt.Sprintf("size:%d", c.Size))
	}
	if def := c.Default; def != "" && !c.Auto && special == "" && !strings.ContainsAny(def, " \t;,") {
		tags = append(tags, "default:"+def)
	}

	switch base := baseType(c.DBType); {
	case base == "DECIMAL", base == "NUMERIC":
		tags = append(tags, "type:"+strings.ToLower(strings.ReplaceAll(c.DBType, " ", "")))
	case strings.Contains(base, "TEXT"), strings.HasPrefix(base, "JSON"), base == "DATE":
		tags = append(tags, "type:"+strings.ToLower(base))
	}
	return strings.Join(tags, " ")
}

func newEntity(pkg, table string, cols []column) *entity {
	e := &entity{Package: pkg, Struct: structName(table), Table: table}
	seen := make(map[string]int)
	for _, c := range cols {
		name := goName(c.Name)
		if n := seen[name]; n > 0 {
			name = fmt.Sprintf("%s%d", name, n+1)
		}
		seen[name]++
		typ := goType(c)
		e.Fields = append(e.Fields, field{
			Name:    name,
			Type:    typ,
			Tag:     oqlTag(c, name, typ),
			Comment: strings.Join(strings.Fields(c.Comment), " "),
		})
	}
	if lo.ContainsBy(e.Fields, func(f field) bool { return strings.HasSuffix(f.Type, "time.Time") }) {
		e.Imports = append(e.Imports, "time")
	}
	return e
}

func (e *entity) render() ([]byte, error) {
	var buf bytes.Buffer
	if err := entityTemplate.Execute(&buf, e); err != nil {
		return nil, errors.Wrapf(err, "render %s", e.Table)
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, errors.Wrapf(err, "format %s", e.Table)
	}
	return src, nil
}

type generator struct {
	db        *sql.DB
	driver    string
	pkg       string
	out       string
	overwrite bool
	workers   int
	log       logger.Logger
}

// run generates one file per table and returns the paths written.
func (g *generator) run(ctx context.Context, tables []string) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(tables) == 0 {
		var err error
		if tables, err = listTables(ctx, g.db, g.driver); err != nil {
			return nil, err
		}
	}
	tables = lo.Uniq(tables)
	if len(tables) == 0 {
		return nil, errors.New("no tables found")
	}
	if err := os.MkdirAll(g.out, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output directory")
	}

	written := make([]string, len(tables))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(g.workers, 1))
	for i, table := range tables {
		eg.Go(func() error {
			path, err := g.generate(ctx, table)
			written[i] = path
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return lo.Compact(written), nil
}

func (g *generator) generate(ctx context.Context, table string) (string, error) {
	path := filepath.Join(g.out, strings.ToLower(inflect.Underscore(table))+".go")
	if _, err := os.Stat(path); err == nil && !g.overwrite {
		g.log.Warn("skip %s: %s exists, pass --overwrite to replace it", table, path)
		return "", nil
	}
	cols, err := readColumns(ctx, g.db, g.driver, table)
	if err != nil {
		return "", err
	}
	src, err := newEntity(g.pkg, table, cols).render()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, src, 0o644); err != nil {
		return "", errors.Wrapf(err, "write %s", path)
	}
	g.log.Info("generated %s -> %s (%d columns)", table, path, len(cols))
	return path, nil
}
