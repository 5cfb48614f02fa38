package job

import (
	"context"
	"time"

	"transfersvc/internal/config"
	"transfersvc/internal/model"
	"transfersvc/internal/repository"

	"go.uber.org/zap"
)

// LockoutReleaseJob returns auth records whose lockout ran out to ACTIVE.
// Verify already does this lazily; the job keeps the stored status honest
// for accounts nobody tries again.
type LockoutReleaseJob struct {
	store     repository.AuthStore
	logger    *zap.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewLockoutReleaseJob(store repository.AuthStore, cfg config.JobConfig, logger *zap.Logger) *LockoutReleaseJob {
	return &LockoutReleaseJob{
		store:     store,
		logger:    logger.Named("lockout_release"),
		stopCh:    make(chan struct{}),
		interval:  cfg.LockoutInterval,
		batchSize: cfg.LockoutBatch,
		now:       time.Now,
	}
}

func (j *LockoutReleaseJob) Start(ctx context.Context) {
	j.logger.Info("started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("context done, exiting")
			return
		case <-j.stopCh:
			j.logger.Info("stopped")
			return
		case <-ticker.C:
			j.releaseExpiredLocks(ctx)
		}
	}
}

func (j *LockoutReleaseJob) Stop() {
	close(j.stopCh)
}

func (j *LockoutReleaseJob) releaseExpiredLocks(ctx context.Context) int {
	now := j.now()

	records, err := j.store.ListExpiredLocks(ctx, now, j.batchSize)
	if err != nil {
		j.logger.Error("list expired locks", zap.Error(err))
		return 0
	}
	if len(records) == 0 {
		return 0
	}

	released := 0
	for _, rec := range records {
		err := j.store.Modify(ctx, rec.AccountID, func(auth *model.AccountAuth) error {
			// a concurrent verify may have moved it since the listing
			if auth.Status != model.AuthStatusLocked || auth.IsLockedAt(now) {
				return nil
			}
			auth.Unlock()
			released++
			return nil
		})
		if err != nil {
			j.logger.Error("release lockout", zap.Int64("account_id", rec.AccountID), zap.Error(err))
		}
	}

	j.logger.Info("released expired lockouts", zap.Int("found", len(records)), zap.Int("released", released))
	return released
}
