package lock

import (
	"context"
	"fmt"
	"time"

	"transfersvc/internal/apperr"
	"transfersvc/internal/config"

	"go.uber.org/zap"
)

const releaseTimeout = 2 * time.Second

// AccountKey names the per-account lock taken around a transfer.
func AccountKey(accountID int64) string {
	return fmt.Sprintf("account:%d", accountID)
}

// Manager runs work while holding a named lock.
type Manager struct {
	mutex  Mutex
	wait   time.Duration
	hold   time.Duration
	logger *zap.Logger
}

func NewManager(mutex Mutex, cfg config.LockConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		mutex:  mutex,
		wait:   cfg.WaitTimeout,
		hold:   cfg.HoldTimeout,
		logger: logger,
	}
}

// WithLock is WithLockFor with the configured wait and hold times.
func (m *Manager) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return m.WithLockFor(ctx, name, m.wait, m.hold, fn)
}

// WithLockFor acquires name, runs fn, and releases. fn's context is cut off
// at hold, past which the lock may belong to someone else. Failing to
// acquire within wait is apperr.ErrLockTimeout.
func (m *Manager) WithLockFor(ctx context.Context, name string, wait, hold time.Duration, fn func(ctx context.Context) error) error {
	token, ok, err := m.mutex.TryAcquire(ctx, name, wait, hold)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		m.logger.Debug("lock wait exceeded", zap.String("lock", name), zap.Duration("wait", wait))
		return apperr.LockTimeout(nil)
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()

		released, err := m.mutex.Release(releaseCtx, name, token)
		if err != nil {
			m.logger.Error("release lock failed", zap.String("lock", name), zap.Error(err))
			return
		}
		if !released {
			m.logger.Warn("lock expired before release", zap.String("lock", name), zap.Duration("hold", hold))
		}
	}()

	holdCtx, cancel := context.WithTimeout(ctx, hold)
	defer cancel()

	return fn(holdCtx)
}
