package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transfersvc/internal/apperr"
	"transfersvc/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuthRepository is the gorm-backed AuthStore. Each Modify is its own
// transaction, never the caller's account transaction, so it must run on a
// pool the account transactions cannot exhaust.
type AuthRepository struct {
	db       *gorm.DB
	lockWait time.Duration
}

// NewAuthRepository bounds every Modify by lockWait, covering both the wait
// for a pooled connection and the row lock. Zero leaves it unbounded.
func NewAuthRepository(db *gorm.DB, lockWait time.Duration) *AuthRepository {
	return &AuthRepository{db: db, lockWait: lockWait}
}

var _ AuthStore = (*AuthRepository)(nil)

func (r *AuthRepository) Create(ctx context.Context, auth *model.AccountAuth) error {
	return r.db.WithContext(ctx).Create(auth).Error
}

func (r *AuthRepository) Modify(ctx context.Context, accountID int64, fn func(auth *model.AccountAuth) error) error {
	waitCtx := ctx
	if r.lockWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.lockWait)
		defer cancel()
	}

	var fnErr error

	err := r.db.WithContext(waitCtx).Transaction(func(tx *gorm.DB) error {
		var auth model.AccountAuth
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ?", accountID).
			First(&auth).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.AccountNotFound(accountID)
			}
			return err
		}

		fnErr = fn(&auth)

		return tx.Model(&model.AccountAuth{}).
			Where("account_id = ?", accountID).
			Updates(map[string]interface{}{
				"status":     auth.Status,
				"fail_count": auth.FailCount,
				"lock_until": auth.LockUntil,
			}).Error
	})
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return apperr.LockTimeout(fmt.Errorf("auth record %d: %w", accountID, err))
		}
		return classifyDBError(err)
	}

	return fnErr
}

func (r *AuthRepository) ListExpiredLocks(ctx context.Context, now time.Time, limit int) ([]*model.AccountAuth, error) {
	var records []*model.AccountAuth
	err := r.db.WithContext(ctx).
		Where("status = ? AND (lock_until IS NULL OR lock_until <= ?)", model.AuthStatusLocked, now).
		Order("account_id ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
