package main

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// column is a table column as reported by the database catalog.
type column struct {
	Name     string
	DBType   string
	Nullable bool
	PK       bool
	Auto     bool
	Unique   bool
	Default  string
	Size     int
	Comment  string
}

const pgColumns = `SELECT c.column_name, c.data_type, c.is_nullable = 'YES',
	COALESCE(bool_or(tc.constraint_type = 'PRIMARY KEY'), false),
	COALESCE(bool_or(tc.constraint_type = 'UNIQUE'), false),
	COALESCE(c.column_default, ''),
	COALESCE(c.character_maximum_length, 0),
	COALESCE(col_description(format('%I.%I', c.table_schema, c.table_name)::regclass, c.ordinal_position), '')
FROM information_schema.columns c
LEFT JOIN information_schema.key_column_usage kcu
	ON c.table_schema = kcu.table_schema AND c.table_name = kcu.table_name AND c.column_name = kcu.column_name
LEFT JOIN information_schema.table_constraints tc
	ON kcu.constraint_schema = tc.constraint_schema AND kcu.constraint_name = tc.constraint_name
WHERE c.table_schema = current_schema() AND c.table_name = $1
GROUP BY c.table_schema, c.table_name, c.column_name, c.data_type, c.is_nullable,
	c.column_default, c.character_maximum_length, c.ordinal_position
ORDER BY c.ordinal_position`

func listTables(ctx context.Context, db *sql.DB, driver string) ([]string, error) {
	var q string
	switch driver {
	case "sqlite3", "sqlite":
		q = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	case "mysql":
		q = "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' ORDER BY table_name"
	case "postgres", "pgx":
		q = "SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = current_schema() ORDER BY tablename"
	default:
		return nil, errors.Errorf("unsupported driver %q", driver)
	}
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func readColumns(ctx context.Context, db *sql.DB, driver, table string) ([]column, error) {
	var (
		cols []column
		err  error
	)
	switch driver {
	case "sqlite3", "sqlite":
		cols, err = sqliteColumns(ctx, db, table)
	case "mysql":
		cols, err = mysqlColumns(ctx, db, table)
	case "postgres", "pgx":
		cols, err = pgColumnsOf(ctx, db, table)
	default:
		err = errors.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "table %s", table)
	}
	if len(cols) == 0 {
		return nil, errors.Errorf("table %s not found", table)
	}
	return cols, nil
}

// records scans every row into a column-name keyed map, so catalog queries
// survive the extra columns newer server versions add.
func records(rows *sql.Rows) ([]map[string]string, error) {
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]string
	for rows.Next() {
		vals := make([]sql.NullString, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(map[string]string, len(names))
		for i, n := range names {
			rec[strings.ToLower(n)] = vals[i].String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func sqliteColumns(ctx context.Context, db *sql.DB, table string) ([]column, error) {
	quoted := `"` + strings.ReplaceAll(table, `"`, `""`) + `"`
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoted+")")
	if err != nil {
		return nil, err
	}
	recs, err := records(rows)
	if err != nil {
		return nil, err
	}
	unique, err := sqliteUnique(ctx, db, quoted)
	if err != nil {
		return nil, err
	}

	pks := 0
	for _, r := range recs {
		if r["pk"] != "0" {
			pks++
		}
	}
	cols := make([]column, 0, len(recs))
	for _, r := range recs {
		c := column{
			Name:     r["name"],
			DBType:   r["type"],
			Nullable: r["notnull"] == "0",
			PK:       r["pk"] != "0",
			Default:  r["dflt_value"],
			Size:     typeSize(r["type"]),
			Unique:   unique[r["name"]],
		}
		// a lone INTEGER primary key aliases the rowid
		if c.PK && pks == 1 && strings.EqualFold(c.DBType, "integer") {
			c.Auto = true
		}
		if c.PK {
			c.Nullable = false
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// sqliteUnique returns the columns covered by a single-column unique index.
func sqliteUnique(ctx context.Context, db *sql.DB, quoted string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA index_list("+quoted+")")
	if err != nil {
		return nil, err
	}
	idx, err := records(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, ix := range idx {
		if ix["unique"] != "1" || ix["origin"] == "pk" {
			continue
		}
		rows, err := db.QueryContext(ctx, `PRAGMA index_info("`+strings.ReplaceAll(ix["name"], `"`, `""`)+`")`)
		if err != nil {
			return nil, err
		}
		parts, err := records(rows)
		if err != nil {
			return nil, err
		}
		if len(parts) == 1 {
			out[parts[0]["name"]] = true
		}
	}
	return out, nil
}

func mysqlColumns(ctx context.Context, db *sql.DB, table string) ([]column, error) {
	rows, err := db.QueryContext(ctx, "SHOW FULL COLUMNS FROM `"+strings.ReplaceAll(table, "`", "``")+"`")
	if err != nil {
		return nil, err
	}
	recs, err := records(rows)
	if err != nil {
		return nil, err
	}
	cols := make([]column, 0, len(recs))
	for _, r := range recs {
		cols = append(cols, column{
			Name:     r["field"],
			DBType:   r["type"],
			Nullable: r["null"] == "YES",
			PK:       r["key"] == "PRI",
			Auto:     strings.Contains(strings.ToLower(r["extra"]), "auto_increment"),
			Unique:   r["key"] == "UNI",
			Default:  r["default"],
			Size:     typeSize(r["type"]),
			Comment:  r["comment"],
		})
	}
	return cols, nil
}

func pgColumnsOf(ctx context.Context, db *sql.DB, table string) ([]column, error) {
	rows, err := db.QueryContext(ctx, pgColumns, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.Name, &c.DBType, &c.Nullable, &c.PK, &c.Unique, &c.Default, &c.Size, &c.Comment); err != nil {
			return nil, err
		}
		if strings.HasPrefix(c.Default, "nextval(") {
			c.Auto = true
			c.Default = ""
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// typeSize extracts n from "varchar(n)"; precision pairs yield 0.
func typeSize(dbType string) int {
	open := strings.IndexByte(dbType, '(')
	end := strings.IndexByte(dbType, ')')
	if open < 0 || end < open {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(dbType[open+1 : end]))
	if err != nil {
		return 0
	}
	return n
}
