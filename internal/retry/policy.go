// Package retry re-runs an operation that failed on transient contention.
package retry

import (
	"context"
	"fmt"
	"math"
	mrand "math/rand"
	"time"

	"transfersvc/internal/apperr"
	"transfersvc/internal/config"

	"go.uber.org/zap"
)

const maxShift = 62

// Policy retries only errors apperr.IsRetryable accepts. Every attempt is a
// fresh call of the operation; nothing is carried over between attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter spreads each delay over [delay/2, delay).
	Jitter bool

	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewPolicy(cfg config.RetryConfig, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Jitter:      true,
		logger:      logger,
		sleep:       SleepWithContext,
	}
}

// Do calls op until it succeeds, fails permanently, or the attempt budget is
// spent. A spent budget surfaces as apperr.TransferFailed wrapping the last
// contention error.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = SleepWithContext
	}
	logger := p.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		last = op(ctx)
		if last == nil {
			return nil
		}
		if !apperr.IsRetryable(last) {
			return last
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		logger.Debug("retrying after contention",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(last),
		)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	logger.Warn("retry budget exhausted", zap.Int("attempts", attempts), zap.Error(last))
	return apperr.TransferFailed(attempts, last)
}

// Delay is the pause after the given failed attempt (1-based):
// min(BaseDelay * 2^(attempt-1), MaxDelay).
func (p *Policy) Delay(attempt int) time.Duration {
	d := Exponential(p.BaseDelay, attempt-1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && d > 1 {
		half := d / 2
		d = half + time.Duration(mrand.Int63n(int64(d-half)))
	}
	return d
}

// Exponential returns base * 2^shift, saturating instead of overflowing.
func Exponential(base time.Duration, shift int) time.Duration {
	if base <= 0 {
		return 0
	}
	if shift < 0 {
		shift = 0
	} else if shift > maxShift {
		shift = maxShift
	}

	multiplier := int64(1) << shift
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(int64(base) * multiplier)
}

// SleepWithContext waits d or until ctx is done, whichever comes first.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
