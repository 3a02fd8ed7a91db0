package core

import (
	"database/sql"
	"fmt"
	"time"
)

// Tx represents a database transaction.
// It runs the same operations as DB, on the transaction's connection.
type Tx struct {
	*session
	sqlTx *sql.Tx
}

var _ Executor = (*Tx)(nil)

func newTx(db *DB, sqlTx *sql.Tx) *Tx {
	return &Tx{session: &session{db: db, conn: sqlTx}, sqlTx: sqlTx}
}

// Commit commits the transaction.
func (tx *Tx) Commit() error {
	start := time.Now()
	err := tx.sqlTx.Commit()
	tx.db.logSQL("COMMIT", time.Since(start))
	if err != nil {
		return fmt.Errorf("transaction commit failed: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction.
func (tx *Tx) Rollback() error {
	start := time.Now()
	err := tx.sqlTx.Rollback()
	tx.db.logSQL("ROLLBACK", time.Since(start))
	if err != nil {
		return fmt.Errorf("transaction rollback failed: %w", err)
	}
	return nil
}
