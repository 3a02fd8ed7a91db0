package dialect

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrek82/oql/model"
)

const base = "SELECT `id` FROM `Book`"

func TestRegistry(t *testing.T) {
	for _, name := range []string{"mysql", "sqlite3", "sqlite", "postgres", "sqlserver", "oracle"} {
		d, ok := Get(name)
		require.True(t, ok, name)
		assert.NotEmpty(t, d.Name())
	}
	_, ok := Get("nope")
	assert.False(t, ok)
	assert.Contains(t, Names(), "pgx")
	assert.Panics(t, func() { MustGet("nope") })
}

func TestQuote(t *testing.T) {
	cases := map[string]string{
		"mysql":     "`name`",
		"sqlite3":   "`name`",
		"postgres":  `"name"`,
		"oracle":    `"name"`,
		"sqlserver": "[name]",
	}
	for driver, want := range cases {
		assert.Equal(t, want, MustGet(driver).Quote("name"), driver)
	}
}

func TestMySQLPaging(t *testing.T) {
	d := MustGet("mysql")

	t.Run("FirstPage", func(t *testing.T) {
		sql, err := d.PageSQL(Page{Base: base, Size: 10, Number: 1})
		require.NoError(t, err)
		assert.Equal(t, base+" LIMIT 10", sql)
	})

	t.Run("SecondPage", func(t *testing.T) {
		sql, err := d.PageSQL(Page{Base: base, Size: 10, Number: 2})
		require.NoError(t, err)
		assert.Equal(t, base+" LIMIT 10, 10", sql)
	})

	t.Run("ClampedToLastPage", func(t *testing.T) {
		sql, err := d.PageSQL(Page{Base: base, Size: 10, Number: 9, Total: 25})
		require.NoError(t, err)
		assert.Equal(t, base+" LIMIT 20, 10", sql)
	})

	t.Run("ZeroPageIsFirst", func(t *testing.T) {
		sql, err := d.PageSQL(Page{Base: base, Size: 5})
		require.NoError(t, err)
		assert.Equal(t, base+" LIMIT 5", sql)
	})

	t.Run("BadSize", func(t *testing.T) {
		_, err := d.PageSQL(Page{Base: base})
		assert.Error(t, err)
	})
}

func TestPostgresPaging(t *testing.T) {
	sql, err := MustGet("postgres").PageSQL(Page{Base: base, Size: 10, Number: 3})
	require.NoError(t, err)
	assert.Equal(t, base+" LIMIT 10 OFFSET 20", sql)
}

func TestOraclePaging(t *testing.T) {
	sql, err := MustGet("oracle").PageSQL(Page{Base: base, Size: 10, Number: 2})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM (SELECT t.*, ROWNUM rn FROM ("+base+") t WHERE ROWNUM <= 20) WHERE rn >= 11", sql)
}

func TestSQLServerPaging(t *testing.T) {
	d := MustGet("sqlserver")
	sql, err := d.PageSQL(Page{Base: base, Size: 10, Number: 2})
	require.NoError(t, err)
	assert.Equal(t, base+" ORDER BY (SELECT NULL) OFFSET 10 ROWS FETCH NEXT 10 ROWS ONLY", sql)

	ordered := base + " ORDER BY [id] DESC"
	sql, err = d.PageSQL(Page{Base: ordered, Size: 10, Number: 1})
	require.NoError(t, err)
	assert.Equal(t, ordered+" OFFSET 0 ROWS FETCH NEXT 10 ROWS ONLY", sql)
}

func TestPageFilter(t *testing.T) {
	for _, name := range []string{"mysql", "postgres", "oracle", "sqlserver"} {
		d := MustGet(name)
		for _, bad := range []string{"WHERE a = 1", "a = 1 order by b", "x=1 ORDER  BY y"} {
			_, err := d.PageSQL(Page{Base: base, Filter: bad, Size: 10, Number: 1})
			assert.True(t, errors.Is(err, ErrInvalidFilter), "%s: %s", name, bad)
		}
	}

	sql, err := MustGet("mysql").PageSQL(Page{Base: base, Filter: "`id` > 3", Size: 10, Number: 1})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM ("+base+") oql_f WHERE `id` > 3 LIMIT 10", sql)

	// Column names containing the keywords are not structural.
	_, err = MustGet("mysql").PageSQL(Page{Base: base, Filter: "`whereabouts` = 1", Size: 10, Number: 1})
	assert.NoError(t, err)
}

func TestCountSQL(t *testing.T) {
	sql, err := CountSQL(Page{Base: base})
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM ("+base+") oql_count", sql)

	_, err = CountSQL(Page{Base: base, Filter: "WHERE 1=1"})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestBind(t *testing.T) {
	neutral := "SELECT M.[name] FROM [User] M WHERE 1=1 AND M.[name] = @P0 AND M.[age] > @P1 AND M.[note] <> 'a@b [c]' AND M.[v] = @P0"
	params := map[string]any{"P0": "bob", "P1": 18}

	t.Run("MySQL", func(t *testing.T) {
		sql, args, err := Bind(MustGet("mysql"), neutral, params)
		require.NoError(t, err)
		assert.Equal(t, "SELECT M.`name` FROM `User` M WHERE 1=1 AND M.`name` = ? AND M.`age` > ? AND M.`note` <> 'a@b [c]' AND M.`v` = ?", sql)
		assert.Equal(t, []any{"bob", 18, "bob"}, args)
	})

	t.Run("Postgres", func(t *testing.T) {
		sql, args, err := Bind(MustGet("postgres"), "UPDATE [T] SET [a] = @P1 WHERE [b] = @Version", map[string]any{"P1": 1, "Version": 5})
		require.NoError(t, err)
		assert.Equal(t, `UPDATE "T" SET "a" = $1 WHERE "b" = $2`, sql)
		assert.Equal(t, []any{1, 5}, args)
	})

	t.Run("Oracle", func(t *testing.T) {
		sql, _, err := Bind(MustGet("oracle"), "[a] = @x AND [b] = @y", map[string]any{"x": 1, "y": 2})
		require.NoError(t, err)
		assert.Equal(t, `"a" = :1 AND "b" = :2`, sql)
	})

	t.Run("SQLServer", func(t *testing.T) {
		sql, _, err := Bind(MustGet("sqlserver"), "[a] = @x", map[string]any{"x": 1})
		require.NoError(t, err)
		assert.Equal(t, "[a] = @p1", sql)
	})

	t.Run("Errors", func(t *testing.T) {
		_, _, err := Bind(MustGet("mysql"), "[a] = @missing", nil)
		assert.ErrorContains(t, err, "@missing")
		_, _, err = Bind(MustGet("mysql"), "[a = 1", nil)
		assert.Error(t, err)
		_, _, err = Bind(MustGet("mysql"), "[a] = 'x", nil)
		assert.Error(t, err)
	})

	t.Run("EscapedQuote", func(t *testing.T) {
		sql, args, err := Bind(MustGet("mysql"), "[a] = 'it''s @x' AND [b] = @x", map[string]any{"x": 1})
		require.NoError(t, err)
		assert.Equal(t, "`a` = 'it''s @x' AND `b` = ?", sql)
		assert.Len(t, args, 1)
	})
}

type Ledger struct {
	ID        int64   `oql:"pk auto"`
	Account   string  `oql:"size:64 notnull unique"`
	Amount    float64 `oql:"default:0"`
	Raw       []byte
	CreatedAt time.Time `oql:"created_at"`
}

type Pair struct {
	A int64 `oql:"pk"`
	B int64 `oql:"pk"`
}

func TestCreateTableSQL(t *testing.T) {
	s, err := model.Parse(&Ledger{})
	require.NoError(t, err)

	assert.Equal(t,
		"CREATE TABLE `Ledger` (`id` integer PRIMARY KEY AUTOINCREMENT, `account` text NOT NULL UNIQUE, `amount` real DEFAULT 0, `raw` blob, `created_at` datetime)",
		CreateTableSQL(MustGet("sqlite3"), s))
	assert.Equal(t,
		"CREATE TABLE `Ledger` (`id` bigint PRIMARY KEY AUTO_INCREMENT, `account` varchar(64) NOT NULL UNIQUE, `amount` double DEFAULT 0, `raw` blob, `created_at` datetime)",
		CreateTableSQL(MustGet("mysql"), s))
	assert.Equal(t,
		`CREATE TABLE "Ledger" ("id" bigserial PRIMARY KEY, "account" varchar(64) NOT NULL UNIQUE, "amount" double precision DEFAULT 0, "raw" bytea, "created_at" timestamp with time zone)`,
		CreateTableSQL(MustGet("postgres"), s))

	p, err := model.Parse(&Pair{})
	require.NoError(t, err)
	assert.Equal(t,
		"CREATE TABLE [Pair] ([a] bigint, [b] bigint, PRIMARY KEY ([a], [b]))",
		CreateTableSQL(MustGet("sqlserver"), p))
}

func TestSequenceSQL(t *testing.T) {
	assert.Equal(t, "nextval('seq_book')", MustGet("postgres").SequenceSQL("seq_book"))
	assert.Equal(t, "seq_book.NEXTVAL", MustGet("oracle").SequenceSQL("seq_book"))
	assert.Equal(t, "NEXT VALUE FOR [seq_book]", MustGet("sqlserver").SequenceSQL("seq_book"))
}
