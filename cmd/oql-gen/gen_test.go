package main

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrek82/oql/model"
)

// flat collapses the alignment gofmt adds so lines can be matched.
func flat(src string) string {
	lines := strings.Split(src, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return strings.Join(lines, "\n")
}

func TestNames(t *testing.T) {
	for in, want := range map[string]string{
		"user_id":    "UserID",
		"idCard":     "IDCard",
		"created_at": "CreatedAt",
		"url":        "URL",
		"sku":        "SKU",
		"2fa_code":   "X2faCode",
	} {
		assert.Equal(t, want, goName(in), in)
	}
	for in, want := range map[string]string{
		"order_items": "OrderItem",
		"categories":  "Category",
		"member":      "Member",
	} {
		assert.Equal(t, want, structName(in), in)
	}
}

func TestGoType(t *testing.T) {
	tests := []struct {
		col  column
		want string
	}{
		{column{Name: "id", DBType: "integer", PK: true}, "int64"},
		{column{Name: "n", DBType: "INT(11)"}, "int32"},
		{column{Name: "n", DBType: "bigint unsigned"}, "int64"},
		{column{Name: "n", DBType: "smallint", Nullable: true}, "*int16"},
		{column{Name: "ok", DBType: "tinyint(1)"}, "bool"},
		{column{Name: "lvl", DBType: "tinyint(4)"}, "int8"},
		{column{Name: "price", DBType: "DECIMAL(10,2)"}, "float64"},
		{column{Name: "ratio", DBType: "double precision"}, "float64"},
		{column{Name: "name", DBType: "character varying"}, "string"},
		{column{Name: "body", DBType: "jsonb", Nullable: true}, "*string"},
		{column{Name: "at", DBType: "timestamp with time zone"}, "time.Time"},
		{column{Name: "deleted_at", DBType: "DATETIME", Nullable: true}, "*time.Time"},
		{column{Name: "raw", DBType: "blob", Nullable: true}, "[]byte"},
		{column{Name: "span", DBType: "interval"}, "string"},
		{column{Name: "pos", DBType: "point"}, "any"},
		{column{Name: "area", DBType: "multipoint", Nullable: true}, "any"},
		{column{Name: "n", DBType: "mediumint(8) unsigned"}, "int32"},
		{column{Name: "n", DBType: "int4"}, "int32"},
		{column{Name: "id", DBType: "serial", PK: true}, "int64"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, goType(tt.col), tt.col.DBType)
	}
}

func TestOQLTag(t *testing.T) {
	tests := []struct {
		col  column
		want string
	}{
		{column{Name: "id", DBType: "bigint", PK: true, Auto: true}, "pk auto"},
		{column{Name: "email", DBType: "varchar(120)", Unique: true, Size: 120}, "unique notnull size:120"},
		{column{Name: "idCard", DBType: "text"}, "column:idCard notnull type:text"},
		{column{Name: "qty", DBType: "int", Default: "1"}, "notnull default:1"},
		{column{Name: "note", DBType: "varchar(20)", Nullable: true, Default: "'a b'", Size: 20}, "size:20"},
		{column{Name: "version", DBType: "int", Default: "0"}, "version"},
		{column{Name: "created_at", DBType: "datetime"}, "created_at"},
		{column{Name: "created_by", DBType: "varchar(64)", Nullable: true, Size: 64}, "created_by size:64"},
		{column{Name: "amount", DBType: "numeric(12, 4)"}, "notnull type:numeric(12,4)"},
	}
	for _, tt := range tests {
		name := goName(tt.col.Name)
		got := oqlTag(tt.col, name, goType(tt.col))
		assert.Equal(t, tt.want, got, tt.col.Name)

		_, err := model.ParseTag(got)
		assert.NoError(t, err, got)
	}
}

const sqliteSchema = `
CREATE TABLE order_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sku VARCHAR(32) NOT NULL UNIQUE,
	title TEXT,
	qty INTEGER NOT NULL DEFAULT 1,
	price DECIMAL(10,2) NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	deleted_at DATETIME
);
CREATE TABLE members (
	id INTEGER PRIMARY KEY,
	idCard TEXT NOT NULL
);`

func runGen(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestGenerateSQLite(t *testing.T) {
	for _, driver := range []string{"sqlite3", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			dir := t.TempDir()
			dsn := filepath.Join(dir, "shop.db")
			db, err := sql.Open(driver, dsn)
			require.NoError(t, err)
			_, err = db.Exec(sqliteSchema)
			require.NoError(t, err)
			require.NoError(t, db.Close())

			out := filepath.Join(dir, "entity")
			stdout, _, err := runGen(t, "--driver", driver, "--dsn", dsn, "--out", out, "--pkg", "shop")
			require.NoError(t, err)
			assert.Equal(t, []string{
				filepath.Join(out, "members.go"),
				filepath.Join(out, "order_items.go"),
			}, strings.Fields(stdout))

			src, err := os.ReadFile(filepath.Join(out, "order_items.go"))
			require.NoError(t, err)
			got := flat(string(src))
			assert.Contains(t, got, "// Code generated by oql-gen. DO NOT EDIT.")
			assert.Contains(t, got, "package shop")
			assert.Contains(t, got, "import (\n\"time\"\n)")
			for _, line := range []string{
				"type OrderItem struct {",
				"ID int64 `oql:\"pk auto\"`",
				"SKU string `oql:\"unique notnull size:32\"`",
				"Title *string `oql:\"type:text\"`",
				"Qty int32 `oql:\"notnull default:1\"`",
				"Price float64 `oql:\"notnull type:decimal(10,2)\"`",
				"Version int32 `oql:\"version\"`",
				"CreatedAt time.Time `oql:\"created_at\"`",
				"DeletedAt *time.Time `oql:\"deleted_at\"`",
				`func (*OrderItem) TableName() string { return "order_items" }`,
			} {
				assert.Contains(t, got, line)
			}

			src, err = os.ReadFile(filepath.Join(out, "members.go"))
			require.NoError(t, err)
			got = flat(string(src))
			assert.NotContains(t, got, "import")
			assert.Contains(t, got, "IDCard string `oql:\"column:idCard notnull type:text\"`")

			t.Run("KeepsExisting", func(t *testing.T) {
				stdout, stderr, err := runGen(t, "--driver", driver, "--dsn", dsn, "--out", out, "-t", "members", "-v")
				require.NoError(t, err)
				assert.Empty(t, stdout)
				assert.Contains(t, stderr, "pass --overwrite")
			})

			t.Run("Overwrite", func(t *testing.T) {
				stdout, stderr, err := runGen(t, "--driver", driver, "--dsn", dsn, "--out", out, "-t", "members", "--overwrite", "-v")
				require.NoError(t, err)
				assert.Equal(t, filepath.Join(out, "members.go"), strings.TrimSpace(stdout))
				assert.Contains(t, stderr, "generated members")
			})

			t.Run("UnknownTable", func(t *testing.T) {
				_, _, err := runGen(t, "--driver", driver, "--dsn", dsn, "--out", out, "-t", "nope")
				assert.ErrorContains(t, err, "table nope not found")
			})
		})
	}
}

func TestGenerateFromConfig(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "app.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cfg := filepath.Join(dir, "oql.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("datasource:\n  driver: sqlite3\n  database: "+dbPath+"\n"), 0o644))

	out := filepath.Join(dir, "models")
	stdout, _, err := runGen(t, "-c", cfg, "-o", out, "-t", "order_items")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "order_items.go"), strings.TrimSpace(stdout))

	_, _, err = runGen(t, "-c", filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "missing.yaml")
}

func TestMySQLColumns(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SHOW FULL COLUMNS FROM `users`").WillReturnRows(
		sqlmock.NewRows([]string{"Field", "Type", "Collation", "Null", "Key", "Default", "Extra", "Privileges", "Comment"}).
			AddRow("id", "bigint unsigned", nil, "NO", "PRI", nil, "auto_increment", "select", "").
			AddRow("email", "varchar(120)", "utf8mb4_general_ci", "NO", "UNI", nil, "", "select", "login  email").
			AddRow("is_active", "tinyint(1)", nil, "NO", "", "1", "", "select", "").
			AddRow("updated_at", "datetime", nil, "YES", "", nil, "on update CURRENT_TIMESTAMP", "select", ""),
	)
	cols, err := readColumns(context.Background(), db, "mysql", "users")
	require.NoError(t, err)
	require.Len(t, cols, 4)
	assert.True(t, cols[0].PK)
	assert.True(t, cols[0].Auto)
	assert.True(t, cols[1].Unique)
	assert.Equal(t, 120, cols[1].Size)
	assert.True(t, cols[3].Nullable)

	src, err := newEntity("models", "users", cols).render()
	require.NoError(t, err)
	got := flat(string(src))
	assert.Contains(t, got, "type User struct {")
	assert.Contains(t, got, "ID int64 `oql:\"pk auto\"`")
	assert.Contains(t, got, "Email string `oql:\"unique notnull size:120\"` // login email")
	assert.Contains(t, got, "IsActive bool `oql:\"notnull default:1\"`")
	assert.Contains(t, got, "UpdatedAt *time.Time `oql:\"updated_at\"`")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM information_schema\.columns`).WithArgs("accounts").WillReturnRows(
		sqlmock.NewRows([]string{"column_name", "data_type", "nullable", "pk", "unique", "default", "size", "comment"}).
			AddRow("id", "integer", false, true, false, "nextval('accounts_id_seq'::regclass)", int64(0), "").
			AddRow("name", "character varying", true, false, false, "", int64(64), "display name"),
	)
	cols, err := readColumns(context.Background(), db, "postgres", "accounts")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.True(t, cols[0].Auto)
	assert.Empty(t, cols[0].Default)
	assert.Equal(t, "*string", goType(cols[1]))
	assert.Equal(t, "size:64", oqlTag(cols[1], "Name", goType(cols[1])))

	mock.ExpectQuery(`FROM pg_catalog\.pg_tables`).WillReturnRows(sqlmock.NewRows([]string{"tablename"}).AddRow("accounts"))
	tables, err := listTables(context.Background(), db, "postgres")
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts"}, tables)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := listTables(context.Background(), nil, "oracle")
	assert.ErrorContains(t, err, "unsupported driver")
	_, err = readColumns(context.Background(), nil, "oracle", "t")
	assert.ErrorContains(t, err, "unsupported driver")
}
