package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccountAuth_LocksOnFifthFailure(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	auth := &AccountAuth{Status: AuthStatusActive}

	for i := 0; i < 4; i++ {
		auth.RecordFailure(now, 5, 15*time.Minute)
	}
	assert.Equal(t, AuthStatusActive, auth.Status)
	assert.Equal(t, 4, auth.FailCount)
	assert.Nil(t, auth.LockUntil)

	auth.RecordFailure(now, 5, 15*time.Minute)
	assert.Equal(t, AuthStatusLocked, auth.Status)
	assert.Equal(t, 5, auth.FailCount)
	assert.Equal(t, now.Add(15*time.Minute), *auth.LockUntil)
	assert.True(t, auth.IsLockedAt(now.Add(14*time.Minute)))
	assert.False(t, auth.IsLockedAt(now.Add(15*time.Minute)))
}

func TestAccountAuth_UnlockResetsCounter(t *testing.T) {
	until := time.Now().Add(time.Minute)
	auth := &AccountAuth{Status: AuthStatusLocked, FailCount: 7, LockUntil: &until}

	auth.Unlock()

	assert.Equal(t, AuthStatusActive, auth.Status)
	assert.Zero(t, auth.FailCount)
	assert.Nil(t, auth.LockUntil)
}

func TestAccount_DebitCreditBumpVersion(t *testing.T) {
	acc := &Account{Balance: 100, Version: 3}

	acc.Debit(30)
	assert.Equal(t, int64(70), acc.Balance)
	assert.Equal(t, int64(4), acc.Version)

	acc.Credit(10)
	assert.Equal(t, int64(80), acc.Balance)
	assert.Equal(t, int64(5), acc.Version)
}
