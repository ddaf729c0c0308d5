package usql

import (
	"context"
	"database/sql"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/ordishs/gocore"
)

// DBTX is implemented by *DB and *Tx so queries can run inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Tx is an instrumented *sql.Tx.
type Tx struct {
	*sql.Tx
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat(query).AddTime(start)
	}()

	return tx.Tx.QueryContext(ctx, query, args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat(query).AddTime(start)
	}()

	return tx.Tx.QueryRowContext(ctx, query, args...)
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat(query).AddTime(start)
	}()

	return tx.Tx.ExecContext(ctx, query, args...)
}

// WithTx runs fn inside a transaction. The transaction is rolled back when fn returns an error
// or panics, and committed otherwise.
func (db *DB) WithTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx *Tx) error) (err error) {
	sqlTx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return errors.NewStorageError("failed to begin transaction", err)
	}

	tx := &Tx{sqlTx}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}

		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.NewStorageError("failed to roll back transaction: %v", rbErr, err)
			}

			return
		}

		if cErr := tx.Commit(); cErr != nil {
			err = errors.NewStorageError("failed to commit transaction", cErr)
		}
	}()

	return fn(ctx, tx)
}
