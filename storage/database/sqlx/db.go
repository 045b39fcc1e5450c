// Package sqlxrepos implements the user directory and the job-search repositories on top of sqlx.
// Queries use `?` placeholders and are rebound to the driver's bind type.
package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/karani/core"
)

// transact runs fn inside a transaction, committing on success and rolling back on error or panic.
func transact(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rolling back: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// affected returns the number of rows res touched.
func affected(res interface{ RowsAffected() (int64, error) }) (int64, error) {
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "reading affected rows")
}

// checkAffected returns core.ErrPrecondition when res affected no rows.
func checkAffected(res interface{ RowsAffected() (int64, error) }, format string, args ...interface{}) error {
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(core.ErrPrecondition, format, args...)
	}
	return nil
}
