package core

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrek82/oql/dialect"
	"github.com/shrek82/oql/logger"
	"github.com/shrek82/oql/model"
	"github.com/shrek82/oql/query"
)

var fixed = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

type Account struct {
	ID        int64  `oql:"pk auto"`
	Email     string `oql:"unique size:120" validate:"required,email"`
	Name      string `oql:"size:64"`
	Balance   int
	Version   int        `oql:"version"`
	CreatedAt time.Time  `oql:"created_at"`
	UpdatedAt time.Time  `oql:"updated_at"`
	DeletedAt *time.Time `oql:"deleted_at"`

	Events []string `oql:"-"`
}

func (a *Account) BeforeInsert() error {
	a.Events = append(a.Events, "before_insert")
	return nil
}

func (a *Account) AfterInsert(id int64) error {
	a.Events = append(a.Events, fmt.Sprintf("after_insert:%d", id))
	return nil
}

func (a *Account) AfterFind() error {
	a.Events = append(a.Events, "after_find")
	return nil
}

func (a *Account) BeforeDelete() error {
	if a.Balance > 0 {
		return errors.New("account still has a balance")
	}
	return nil
}

func newMockDB(t *testing.T, opts ...func(*Options)) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	o := &Options{Logger: logger.Discard(), Clock: func() time.Time { return fixed }}
	for _, fn := range opts {
		fn(o)
	}
	db, err := OpenDB("mysql", sqlDB, o)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return db, mock
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("nosuchdb", "", nil)
	assert.Error(t, err)

	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	_, err = OpenDB("nosuchdb", sqlDB, nil)
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()
	a := &Account{}

	mock.ExpectQuery("SELECT `id`,`email`,`name` FROM `Account` WHERE `deleted_at` IS NULL AND 1=1 AND `balance` > ?").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name"}).
			AddRow(int64(1), "ann@example.com", "Ann").
			AddRow(int64(2), []byte("bob@example.com"), "Bob"))

	var out []Account
	q := db.From(a).Select(&a.ID, &a.Email, &a.Name).
		Where(func(c *query.Compare) *query.Compare { return c.Gt(&a.Balance, 5) })
	res, err := db.List(ctx, q, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	require.Len(t, out, 2)
	assert.Equal(t, int64(2), out[1].ID)
	assert.Equal(t, "bob@example.com", out[1].Email)
	assert.Equal(t, []string{"after_find"}, out[0].Events)

	t.Run("Maps", func(t *testing.T) {
		a := &Account{}
		mock.ExpectQuery("SELECT `name` FROM `Account` WHERE `deleted_at` IS NULL").
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Ann"))
		var rows []map[string]any
		_, err := db.List(ctx, db.From(a).Select(&a.Name), &rows)
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{{"name": "Ann"}}, rows)
	})

	t.Run("Pointers", func(t *testing.T) {
		a := &Account{}
		mock.ExpectQuery("SELECT `id` FROM `Account` WHERE `deleted_at` IS NULL").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
		var rows []*Account
		_, err := db.List(ctx, db.From(a).Select(&a.ID), &rows)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(9), rows[0].ID)
	})

	t.Run("BuildError", func(t *testing.T) {
		a := &Account{}
		var rows []Account
		var stray string
		_, err := db.List(ctx, db.From(a).Select(&a.Email, &stray), &rows)
		assert.ErrorIs(t, err, query.ErrUnknownField)
		assert.Nil(t, rows)
	})

	t.Run("NotSelect", func(t *testing.T) {
		a := &Account{ID: 1}
		var rows []Account
		_, err := db.List(ctx, db.From(a).Delete(), &rows)
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})
}

func TestFirst(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()
	a := &Account{Email: "ann@example.com"}

	mock.ExpectQuery("SELECT `id`,`name` FROM `Account` WHERE `deleted_at` IS NULL AND 1=1 AND `email` = ?").
		WithArgs("ann@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Ann").AddRow(int64(4), "Ann"))

	var got Account
	res, err := db.First(ctx, db.From(a).Select(&a.ID, &a.Name).Where(&a.Email), &got)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, []string{"First matched 2 rows, using the first"}, res.Warnings)

	t.Run("NotFound", func(t *testing.T) {
		a := &Account{}
		mock.ExpectQuery("SELECT `id` FROM `Account` WHERE `deleted_at` IS NULL").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		var got Account
		_, err := db.First(ctx, db.From(a).Select(&a.ID), &got)
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("Scalar", func(t *testing.T) {
		a := &Account{}
		mock.ExpectQuery("SELECT MAX(`balance`) AS `top` FROM `Account` WHERE `deleted_at` IS NULL").
			WillReturnRows(sqlmock.NewRows([]string{"top"}).AddRow([]byte("120")))
		var top int
		_, err := db.First(ctx, db.From(a).Max(&a.Balance, "top"), &top)
		require.NoError(t, err)
		assert.Equal(t, 120, top)
	})

	t.Run("NotPointer", func(t *testing.T) {
		a := &Account{}
		_, err := db.First(ctx, db.From(a).Select(&a.ID), Account{})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})
}

func TestCountAndPage(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()

	t.Run("Count", func(t *testing.T) {
		a := &Account{}
		mock.ExpectQuery("SELECT COUNT(*) FROM (SELECT `id` FROM `Account` WHERE `deleted_at` IS NULL) oql_count").
			WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(int64(5)))
		n, err := db.Count(ctx, db.From(a).Select(&a.ID))
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
	})

	t.Run("AutoCountClampsPage", func(t *testing.T) {
		a := &Account{}
		mock.ExpectQuery("SELECT COUNT(*) FROM (SELECT `id` FROM `Account` WHERE `deleted_at` IS NULL) oql_count").
			WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(int64(5)))
		mock.ExpectQuery("SELECT `id` FROM `Account` WHERE `deleted_at` IS NULL LIMIT 4, 2").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

		var rows []Account
		p, err := db.Page(ctx, db.From(a).Select(&a.ID).Limit(2, 9).CountTotal(), &rows)
		require.NoError(t, err)
		assert.Equal(t, 3, p.Page)
		assert.Equal(t, 2, p.PageSize)
		assert.Equal(t, int64(5), p.Total)
		assert.Equal(t, 3, p.TotalPage)
		assert.Equal(t, 1, p.Result.Rows)
	})

	t.Run("KnownTotal", func(t *testing.T) {
		a := &Account{}
		mock.ExpectQuery("SELECT `id` FROM `Account` WHERE `deleted_at` IS NULL LIMIT 2, 2").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		var rows []Account
		p, err := db.Page(ctx, db.From(a).Select(&a.ID).Limit(2, 2).Total(7), &rows)
		require.NoError(t, err)
		assert.Equal(t, 4, p.TotalPage)
		assert.Equal(t, 2, p.Page)
	})

	t.Run("NeedsLimit", func(t *testing.T) {
		a := &Account{}
		var rows []Account
		_, err := db.Page(ctx, db.From(a).Select(&a.ID), &rows)
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})
}

func TestInsert(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()

	a := &Account{Email: "ann@example.com", Name: "Ann", Balance: 10}
	mock.ExpectExec("INSERT INTO `Account` (`email`,`name`,`balance`,`version`,`created_at`,`updated_at`) VALUES (?,?,?,?,?,?)").
		WithArgs("ann@example.com", "Ann", 10, 0, fixed, fixed).
		WillReturnResult(sqlmock.NewResult(42, 1))

	res, err := db.Insert(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.LastInsertId)
	assert.Equal(t, int64(42), a.ID)
	assert.Equal(t, fixed, a.CreatedAt)
	assert.Equal(t, []string{"before_insert", "after_insert:42"}, a.Events)

	t.Run("Fields", func(t *testing.T) {
		a := &Account{Email: "bob@example.com", Name: "Bob"}
		mock.ExpectExec("INSERT INTO `Account` (`email`,`created_at`,`updated_at`) VALUES (?,?,?)").
			WithArgs("bob@example.com", fixed, fixed).
			WillReturnResult(sqlmock.NewResult(43, 1))
		_, err := db.Insert(ctx, a, &a.Email)
		require.NoError(t, err)
		assert.Equal(t, int64(43), a.ID)
	})

	t.Run("Validation", func(t *testing.T) {
		a := &Account{Email: "not-an-email"}
		_, err := db.Insert(ctx, a)
		assert.ErrorIs(t, err, ErrValidation)
		var verrs validator.ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Equal(t, "Email", verrs[0].Field())
		assert.Empty(t, a.Events)
	})

	t.Run("DuplicateKey", func(t *testing.T) {
		a := &Account{Email: "ann@example.com"}
		mock.ExpectExec("INSERT INTO `Account` (`email`,`name`,`balance`,`version`,`created_at`,`updated_at`) VALUES (?,?,?,?,?,?)").
			WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'ann@example.com'"})
		_, err := db.Insert(ctx, a)
		assert.ErrorIs(t, err, ErrDuplicateKey)
		var me *mysql.MySQLError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, uint16(1062), me.Number)
		assert.Zero(t, a.ID)
	})
}

func TestSave(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()
	const update = "UPDATE `Account` SET `version` = `version` + 1,`name` = ?,`updated_at` = ? WHERE `deleted_at` IS NULL AND `id` = ? AND `version` = ?"

	t.Run("ChangedFields", func(t *testing.T) {
		a := &Account{ID: 7, Email: "ann@example.com", Name: "Ann", Version: 2}
		snap, err := model.Take(a)
		require.NoError(t, err)
		a.Name = "Anna"

		mock.ExpectExec(update).WithArgs("Anna", fixed, int64(7), 2).WillReturnResult(sqlmock.NewResult(0, 1))
		res, err := db.Save(ctx, a, snap)
		require.NoError(t, err)
		assert.NoError(t, res.Check())
		assert.Equal(t, 3, a.Version)
		assert.Equal(t, fixed, a.UpdatedAt)

		changed, err := snap.Changed(a)
		require.NoError(t, err)
		assert.Empty(t, changed, "snapshot refreshed after save")
	})

	t.Run("Conflict", func(t *testing.T) {
		a := &Account{ID: 7, Email: "ann@example.com", Name: "Ann", Version: 2}
		snap, err := model.Take(a)
		require.NoError(t, err)
		a.Name = "Anna"

		mock.ExpectExec(update).WithArgs("Anna", fixed, int64(7), 2).WillReturnResult(sqlmock.NewResult(0, 0))
		res, err := db.Save(ctx, a, snap)
		require.NoError(t, err)
		assert.True(t, res.Conflict)
		assert.ErrorIs(t, res.Check(), ErrVersionConflict)
		assert.Len(t, res.Warnings, 1)
		assert.Equal(t, 2, a.Version)
	})

	t.Run("NothingChanged", func(t *testing.T) {
		a := &Account{ID: 7, Email: "ann@example.com"}
		snap, err := model.Take(a)
		require.NoError(t, err)
		res, err := db.Save(ctx, a, snap)
		require.NoError(t, err)
		assert.Equal(t, []string{"nothing to save"}, res.Warnings)
	})

	t.Run("AllFields", func(t *testing.T) {
		a := &Account{ID: 8, Email: "bob@example.com", Name: "Bob", Balance: 3}
		mock.ExpectExec("UPDATE `Account` SET `version` = `version` + 1,`email` = ?,`name` = ?,`balance` = ?,`updated_at` = ? WHERE `deleted_at` IS NULL AND `id` = ? AND `version` = ?").
			WithArgs("bob@example.com", "Bob", 3, fixed, int64(8), 0).
			WillReturnResult(sqlmock.NewResult(0, 1))
		_, err := db.Save(ctx, a, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, a.Version)
	})
}

func TestRemove(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()

	a := &Account{ID: 7}
	mock.ExpectExec("UPDATE `Account` SET `deleted_at` = ? WHERE `deleted_at` IS NULL AND `id` = ?").
		WithArgs(fixed, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	res, err := db.Remove(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	require.NotNil(t, a.DeletedAt)

	t.Run("HookVeto", func(t *testing.T) {
		_, err := db.Remove(ctx, &Account{ID: 8, Balance: 5})
		assert.ErrorContains(t, err, "still has a balance")
	})

	t.Run("Unscoped", func(t *testing.T) {
		a := &Account{ID: 9}
		mock.ExpectExec("DELETE FROM `Account` WHERE `id` = ?").WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
		_, err := db.Exec(ctx, db.From(a, query.WithUnscoped()).Delete())
		require.NoError(t, err)
	})
}

func TestExec(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()

	a := &Account{ID: 3, Balance: 15}
	mock.ExpectExec("UPDATE `Account` SET `version` = `version` + 1,`balance` = `balance` + ?,`updated_at` = ? WHERE `deleted_at` IS NULL AND `id` = ? AND `version` = ?").
		WithArgs(15, fixed, int64(3), 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	res, err := db.Exec(ctx, db.From(a).UpdateSelf("+", &a.Balance))
	require.NoError(t, err)
	assert.False(t, res.Conflict)

	_, err = db.Exec(ctx, db.From(a).Select(&a.ID))
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestRaw(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT `name` FROM `Account` WHERE `id` = ? AND `name` <> '@skip'").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Ann"))
	var names []string
	res, err := db.Raw(ctx, "SELECT [name] FROM [Account] WHERE [id] = @id AND [name] <> '@skip'", map[string]any{"id": 1}, &names)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann"}, names)
	assert.Equal(t, 1, res.Rows)

	mock.ExpectExec("UPDATE `Account` SET `balance` = 0").WillReturnResult(sqlmock.NewResult(0, 4))
	res, err = db.Raw(ctx, "UPDATE [Account] SET [balance] = 0", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.RowsAffected)

	_, err = db.Raw(ctx, "  ", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidSQL)

	_, err = db.Raw(ctx, "SELECT * FROM [Account] WHERE [id] = @id", nil, &names)
	assert.ErrorIs(t, err, ErrInvalidSQL)
}

func TestTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()
	insert := "INSERT INTO `Account` (`email`,`created_at`,`updated_at`) VALUES (?,?,?)"

	t.Run("Commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		err := db.Transaction(ctx, func(tx *Tx) error {
			a := &Account{Email: "ann@example.com"}
			_, err := tx.Insert(ctx, a, &a.Email)
			return err
		})
		require.NoError(t, err)
	})

	t.Run("Rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(insert).WillReturnError(&mysql.MySQLError{Number: 1062})
		mock.ExpectRollback()
		err := db.Transaction(ctx, func(tx *Tx) error {
			a := &Account{Email: "ann@example.com"}
			_, err := tx.Insert(ctx, a, &a.Email)
			return err
		})
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("Panic", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()
		assert.PanicsWithValue(t, "boom", func() {
			_ = db.Transaction(ctx, func(tx *Tx) error { panic("boom") })
		})
	})

	t.Run("Manual", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()
		tx, err := db.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())
	})
}

type recorder struct {
	name  string
	log   *[]string
	short bool
}

func (r *recorder) Name() string   { return r.name }
func (r *recorder) Init(*DB) error { return nil }
func (r *recorder) Shutdown() error {
	*r.log = append(*r.log, r.name+":shutdown")
	return nil
}

func (r *recorder) Process(ctx context.Context, q *Query, next QueryFunc) (*Result, error) {
	*r.log = append(*r.log, r.name+":before")
	if r.short {
		return &Result{Cached: true}, nil
	}
	q.WithFields(map[string]any{"via": r.name})
	res, err := next(ctx, q)
	*r.log = append(*r.log, r.name+":after")
	return res, err
}

func TestMiddlewareChain(t *testing.T) {
	var buf bytes.Buffer
	db, mock := newMockDB(t, func(o *Options) {
		o.Logger = logger.New(logger.WithOutput(&buf), logger.WithFormat(logger.LogFormatJSON))
	})
	ctx := context.Background()

	var log []string
	require.NoError(t, db.Use(&recorder{name: "outer", log: &log}, &recorder{name: "inner", log: &log}))

	mock.ExpectExec("DELETE FROM `Account`").WillReturnResult(sqlmock.NewResult(0, 0))
	_, err := db.Raw(ctx, "DELETE FROM [Account]", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer:before", "inner:before", "inner:after", "outer:after"}, log)
	assert.Contains(t, buf.String(), `"via":"inner"`)
	assert.Contains(t, buf.String(), "middleware outer enabled")

	log = nil
	require.NoError(t, db.Use(&recorder{name: "cache", log: &log, short: true}))
	res, err := db.Raw(ctx, "DELETE FROM [Account]", nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Cached)

	mock.ExpectClose()
	log = nil
	require.NoError(t, db.Close())
	assert.Equal(t, []string{"cache:shutdown", "inner:shutdown", "outer:shutdown"}, log)
}

func TestAutoMigrate(t *testing.T) {
	db, mock := newMockDB(t)
	schema, err := model.Parse(&Account{})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT count(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?").
		WithArgs("Account").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(0))
	mock.ExpectExec(dialect.CreateTableSQL(db.Dialect(), schema)).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, db.AutoMigrate(&Account{}))

	mock.ExpectQuery("SELECT count(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?").
		WithArgs("Account").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))
	require.NoError(t, db.AutoMigrate(&Account{}))

	assert.ErrorIs(t, db.AutoMigrate(42), ErrInvalidModel)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"MySQLForeignKey", &mysql.MySQLError{Number: 1452}, ErrForeignKey},
		{"PostgresUnique", &pq.Error{Code: "23505"}, ErrDuplicateKey},
		{"PostgresForeignKey", &pq.Error{Code: "23503"}, ErrForeignKey},
		{"SQLiteUnique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, ErrDuplicateKey},
		{"SQLiteForeignKey", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, ErrForeignKey},
		{"NoRows", sql.ErrNoRows, ErrRecordNotFound},
		{"BadConn", driver.ErrBadConn, ErrConnectionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify(errors.Wrap(tc.err, "exec"))
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, tc.err)
			assert.Same(t, err, Classify(err))
		})
	}

	plain := errors.New("syntax error")
	assert.Same(t, plain, Classify(plain))
	syntax := &mysql.MySQLError{Number: 1064}
	assert.Same(t, syntax, Classify(syntax))
	assert.Nil(t, Classify(nil))
}
