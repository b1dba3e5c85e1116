// Package pgxutil provides transaction helpers for pools managed by
// database/sql over the pgx stdlib driver.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// WithSQLTx runs the given function within a database/sql transaction.
// The transaction is rolled back if fn returns an error.
func WithSQLTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
