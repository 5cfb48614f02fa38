package repository

import (
	"errors"

	"transfersvc/internal/apperr"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213

	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
)

// classifyDBError turns engine contention errors into retryable kinds.
// Anything else is returned untouched.
func classifyDBError(err error) error {
	if err == nil {
		return nil
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlLockWaitTimeout:
			return apperr.LockTimeout(err)
		case mysqlDeadlock:
			return apperr.OptimisticConflict(err)
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable:
			return apperr.LockTimeout(err)
		case pgDeadlockDetected, pgSerializationFailure:
			return apperr.OptimisticConflict(err)
		}
	}

	return err
}
