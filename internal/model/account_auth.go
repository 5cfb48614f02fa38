package model

import (
	"time"
)

const (
	AuthStatusActive = "ACTIVE"
	AuthStatusLocked = "LOCKED"
)

// AccountAuth is the credential and lockout state of one account.
type AccountAuth struct {
	AccountID    int64      `gorm:"primaryKey;autoIncrement:false" json:"account_id"`
	PasswordHash string     `gorm:"type:varchar(60);not null" json:"-"`
	Status       string     `gorm:"type:varchar(10);index;not null;default:ACTIVE" json:"status"`
	FailCount    int        `gorm:"not null;default:0" json:"fail_count"`
	LockUntil    *time.Time `json:"lock_until"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AccountAuth) TableName() string {
	return "account_auth"
}

// IsLockedAt reports whether the lockout is still in force at now.
func (a *AccountAuth) IsLockedAt(now time.Time) bool {
	return a.Status == AuthStatusLocked && a.LockUntil != nil && a.LockUntil.After(now)
}

// RecordFailure counts a password mismatch and locks the account once
// maxFailures consecutive failures are reached.
func (a *AccountAuth) RecordFailure(now time.Time, maxFailures int, lockFor time.Duration) {
	a.FailCount++
	if a.FailCount >= maxFailures {
		until := now.Add(lockFor)
		a.Status = AuthStatusLocked
		a.LockUntil = &until
	}
}

// Unlock returns the record to ACTIVE. The counter always resets with it.
func (a *AccountAuth) Unlock() {
	a.Status = AuthStatusActive
	a.FailCount = 0
	a.LockUntil = nil
}
