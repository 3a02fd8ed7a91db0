package middleware

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlowLog(t *testing.T) {
	db, mock := newDB(t, nil)

	var buf bytes.Buffer
	slow := NewSlowLog(0, "")
	slow.SetOutput(&buf)
	fast := NewSlowLog(time.Hour, "")
	var quiet bytes.Buffer
	fast.SetOutput(&quiet)
	require.NoError(t, db.Use(slow, fast))

	mock.ExpectExec("UPDATE `Item` SET `price` = ? WHERE `id` = ?").
		WithArgs(4, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	it := &Item{ID: 2, Price: 4}
	_, err := db.Exec(WithRequestID(context.Background(), "r1"), db.From(it).Update(&it.Price))
	require.NoError(t, err)

	line := buf.String()
	assert.Contains(t, line, "WARN: slow sql")
	assert.Contains(t, line, "sql=UPDATE `Item` SET `price` = ? WHERE `id` = ?")
	assert.Contains(t, line, "args=[4 2]")
	assert.Contains(t, line, "rows=1")
	assert.Empty(t, quiet.String())
}

func TestSlowLogFile(t *testing.T) {
	db, mock := newDB(t, nil)
	path := filepath.Join(t.TempDir(), "slow.log")
	require.NoError(t, db.Use(NewSlowLog(0, path)))

	mock.ExpectQuery(selectItems).WillReturnRows(itemRows())
	listItems(t, context.Background(), db)

	mock.ExpectClose()
	require.NoError(t, db.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sql="+selectItems)
	assert.Contains(t, string(data), "rows=2")
}
