package repository

import (
	"errors"
	"fmt"
	"testing"

	"transfersvc/internal/apperr"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassifyDBError(t *testing.T) {
	plain := errors.New("connection refused")

	cases := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, apperr.KindLockTimeout},
		{"mysql deadlock", fmt.Errorf("exec: %w", &mysql.MySQLError{Number: 1213}), apperr.KindOptimisticConflict},
		{"mysql other", &mysql.MySQLError{Number: 1062}, apperr.KindUnexpected},
		{"pg lock not available", &pgconn.PgError{Code: "55P03"}, apperr.KindLockTimeout},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, apperr.KindOptimisticConflict},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, apperr.KindOptimisticConflict},
		{"plain", plain, apperr.KindUnexpected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, apperr.KindOf(classifyDBError(tc.err)))
		})
	}

	assert.Nil(t, classifyDBError(nil))
	assert.Same(t, plain, classifyDBError(plain))
}
