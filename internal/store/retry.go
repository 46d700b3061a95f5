package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	apperrors "github.com/headline-goat/callgoat/internal/errors"
)

// isBusy reports whether err is SQLite refusing a lock (SQLITE_BUSY or
// SQLITE_LOCKED, including their extended codes).
func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// run executes fn, retrying with a short bounded backoff while the database
// is busy. Errors that already carry a kind pass through; anything else is
// reported as StoreUnavailable.
func (s *SQLiteStore) run(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && !isBusy(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(s.retryMaxElapsed),
		backoff.WithNotify(func(error, time.Duration) {
			s.metrics.StoreRetried(op)
		}),
	)
	if err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if apperrors.IsValidation(err) || apperrors.IsNotFound(err) || apperrors.IsStoreUnavailable(err) {
		return err
	}
	return apperrors.StoreUnavailable(op, err)
}

// inTx runs fn inside a single write transaction, retrying the whole
// transaction while the database is busy.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return s.run(ctx, op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
