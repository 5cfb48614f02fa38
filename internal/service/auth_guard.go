package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transfersvc/internal/apperr"
	"transfersvc/internal/config"
	"transfersvc/internal/model"
	"transfersvc/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Verifier checks a transfer password for an account.
type Verifier interface {
	Verify(ctx context.Context, accountID int64, rawPassword string) error
}

// AuthGuard enforces the password lockout policy.
//
// ACTIVE --(maxFailures-th mismatch)--> LOCKED --(lock expired, any verify)--> ACTIVE
//
// While the lock is in force every attempt fails with AccountLocked and the
// counter is left alone. Each Verify commits on its own, so a failure is
// counted even when the surrounding transfer rolls back or is retried.
type AuthGuard struct {
	store       repository.AuthStore
	maxFailures int
	lockFor     time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

var _ Verifier = (*AuthGuard)(nil)

func NewAuthGuard(store repository.AuthStore, cfg config.AuthConfig, logger *zap.Logger) *AuthGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthGuard{
		store:       store,
		maxFailures: cfg.MaxFailures,
		lockFor:     cfg.LockDuration,
		logger:      logger,
		now:         time.Now,
	}
}

func (g *AuthGuard) Verify(ctx context.Context, accountID int64, rawPassword string) error {
	return g.store.Modify(ctx, accountID, func(auth *model.AccountAuth) error {
		now := g.now()

		if auth.Status == model.AuthStatusLocked {
			if auth.IsLockedAt(now) {
				return apperr.AccountLocked()
			}
			auth.Unlock()
		}

		err := bcrypt.CompareHashAndPassword([]byte(auth.PasswordHash), []byte(rawPassword))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			auth.RecordFailure(now, g.maxFailures, g.lockFor)
			if auth.Status == model.AuthStatusLocked {
				g.logger.Warn("account locked after repeated password failures",
					zap.Int64("account_id", accountID),
					zap.Int("fail_count", auth.FailCount),
					zap.Timep("lock_until", auth.LockUntil),
				)
			}
			return apperr.AuthFailed(auth.FailCount)
		}
		if err != nil {
			return fmt.Errorf("compare password hash for account %d: %w", accountID, err)
		}

		auth.Unlock()
		return nil
	})
}

// HashPassword is how stored hashes are produced.
func HashPassword(rawPassword string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
