package middleware

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrek82/oql/core"
	"github.com/shrek82/oql/logger"
)

type Item struct {
	ID    int64 `oql:"pk auto"`
	Name  string
	Price int
}

const selectItems = "SELECT `id`,`name` FROM `Item`"

func newDB(t *testing.T, log logger.Logger) (*core.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	if log == nil {
		log = logger.Discard()
	}
	db, err := core.OpenDB("mysql", sqlDB, &core.Options{
		Logger: log,
		Clock:  func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return db, mock
}

func itemRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "pen").AddRow(int64(2), "ink")
}
