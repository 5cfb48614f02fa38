// Package lock provides named, time-bounded locks held in Redis.
//
// ============================================================================
// Two providers sit behind one Mutex interface:
//
//   RedisMutex    SET key token NX PX hold, polled until the wait deadline,
//                 released by a Lua compare-and-delete on the token.
//   RedsyncMutex  the same contract on top of go-redsync.
//
// The token identifies the holder. A holder whose lease already expired
// cannot delete the key of whoever took it next.
// ============================================================================
package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Mutex acquires and releases named locks.
type Mutex interface {
	// TryAcquire waits up to wait for name. On success the lock lapses on its
	// own after hold. ok is false when the wait ran out.
	TryAcquire(ctx context.Context, name string, wait, hold time.Duration) (token string, ok bool, err error)
	// Release drops the lock only if token still owns it.
	Release(ctx context.Context, name, token string) (released bool, err error)
}

// compare-and-delete, so a stale holder never removes someone else's lock
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

type RedisMutex struct {
	client        *redis.Client
	retryInterval time.Duration
}

var _ Mutex = (*RedisMutex)(nil)

func NewRedisMutex(client *redis.Client, retryInterval time.Duration) *RedisMutex {
	if retryInterval <= 0 {
		retryInterval = 50 * time.Millisecond
	}
	return &RedisMutex{client: client, retryInterval: retryInterval}
}

func (m *RedisMutex) TryAcquire(ctx context.Context, name string, wait, hold time.Duration) (string, bool, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := m.client.SetNX(ctx, name, token, hold).Result()
		if err != nil {
			return "", false, err
		}
		if ok {
			return token, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false, nil
		}

		pause := m.retryInterval
		if pause > remaining {
			pause = remaining
		}
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (m *RedisMutex) Release(ctx context.Context, name, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, m.client, []string{name}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
