package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesByKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", AccountNotFound(42))

	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NotErrorIs(t, err, ErrAccountLocked)
}

func TestAuthFailed_CarriesCount(t *testing.T) {
	err := AuthFailed(3)

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, 3, e.FailCount)
	assert.Contains(t, e.Error(), "count = 3")
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"lock timeout", LockTimeout(nil), true},
		{"optimistic conflict", OptimisticConflict(errors.New("version")), true},
		{"wrapped conflict", fmt.Errorf("attempt: %w", OptimisticConflict(nil)), true},
		{"not found", AccountNotFound(1), false},
		{"auth failed", AuthFailed(1), false},
		{"locked", AccountLocked(), false},
		{"transfer failed", TransferFailed(3, LockTimeout(nil)), false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestTransferFailed_UnwrapsLastError(t *testing.T) {
	last := LockTimeout(errors.New("busy"))
	err := TransferFailed(5, last)

	assert.Equal(t, KindTransferFailed, KindOf(err))
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, KindUnexpected, KindOf(errors.New("x")))
	assert.Equal(t, "UnexpectedError", KindUnexpected.String())
}
