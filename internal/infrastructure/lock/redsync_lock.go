package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

// RedsyncMutex implements Mutex with go-redsync over a single Redis pool.
type RedsyncMutex struct {
	rs         *redsync.Redsync
	retryDelay time.Duration
}

var _ Mutex = (*RedsyncMutex)(nil)

func NewRedsyncMutex(client *redis.Client, retryDelay time.Duration) *RedsyncMutex {
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	return &RedsyncMutex{
		rs:         redsync.New(goredis.NewPool(client)),
		retryDelay: retryDelay,
	}
}

func (m *RedsyncMutex) TryAcquire(ctx context.Context, name string, wait, hold time.Duration) (string, bool, error) {
	tries := int(wait/m.retryDelay) + 1

	mutex := m.rs.NewMutex(name,
		redsync.WithExpiry(hold),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(m.retryDelay),
	)

	waitCtx, cancel := context.WithTimeout(ctx, wait+m.retryDelay)
	defer cancel()

	if err := mutex.LockContext(waitCtx); err != nil {
		if isContention(err) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return mutex.Value(), true, nil
}

func (m *RedsyncMutex) Release(ctx context.Context, name, token string) (bool, error) {
	mutex := m.rs.NewMutex(name, redsync.WithValue(token))
	ok, err := mutex.UnlockContext(ctx)
	if err != nil && isContention(err) {
		return false, nil
	}
	return ok, err
}

// isContention reports whether err means another owner holds the key. A
// release with a stale token fails the same way.
func isContention(err error) bool {
	var taken *redsync.ErrTaken
	var nodeTaken *redsync.ErrNodeTaken
	return errors.Is(err, redsync.ErrFailed) ||
		errors.As(err, &taken) ||
		errors.As(err, &nodeTaken)
}
