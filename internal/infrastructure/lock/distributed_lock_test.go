package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"transfersvc/internal/apperr"
	"transfersvc/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func providers(client *redis.Client) map[string]Mutex {
	return map[string]Mutex{
		"redis":   NewRedisMutex(client, 10*time.Millisecond),
		"redsync": NewRedsyncMutex(client, 10*time.Millisecond),
	}
}

func TestMutex_AcquireRelease(t *testing.T) {
	for _, name := range []string{"redis", "redsync"} {
		t.Run(name, func(t *testing.T) {
			_, client := newRedis(t)
			m := providers(client)[name]
			ctx := context.Background()

			token, ok, err := m.TryAcquire(ctx, "account:1", 50*time.Millisecond, time.Second)
			require.NoError(t, err)
			require.True(t, ok)
			assert.NotEmpty(t, token)

			_, ok, err = m.TryAcquire(ctx, "account:1", 30*time.Millisecond, time.Second)
			require.NoError(t, err)
			assert.False(t, ok)

			released, err := m.Release(ctx, "account:1", token)
			require.NoError(t, err)
			assert.True(t, released)

			token2, ok, err := m.TryAcquire(ctx, "account:1", 50*time.Millisecond, time.Second)
			require.NoError(t, err)
			assert.True(t, ok)
			_, _ = m.Release(ctx, "account:1", token2)
		})
	}
}

func TestRedisMutex_StaleTokenCannotRelease(t *testing.T) {
	mr, client := newRedis(t)
	m := NewRedisMutex(client, 10*time.Millisecond)
	ctx := context.Background()

	stale, ok, err := m.TryAcquire(ctx, "account:7", 0, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	fresh, ok, err := m.TryAcquire(ctx, "account:7", 0, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := m.Release(ctx, "account:7", stale)
	require.NoError(t, err)
	assert.False(t, released)

	got, err := mr.Get("account:7")
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
}

func TestRedsyncMutex_StaleTokenKeepsOwnerKey(t *testing.T) {
	mr, client := newRedis(t)
	m := NewRedsyncMutex(client, 10*time.Millisecond)
	ctx := context.Background()

	_, ok, err := m.TryAcquire(ctx, "account:8", 20*time.Millisecond, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := m.Release(ctx, "account:8", "not-the-owner")
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists("account:8"))
}

func TestRedsyncMutex_ReleaseAfterExpiryIsNotAnError(t *testing.T) {
	mr, client := newRedis(t)
	m := NewRedsyncMutex(client, 10*time.Millisecond)
	ctx := context.Background()

	token, ok, err := m.TryAcquire(ctx, "account:9", 20*time.Millisecond, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	released, err := m.Release(ctx, "account:9", token)
	require.NoError(t, err)
	assert.False(t, released)
}

func TestIsContention(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"exhausted":     {redsync.ErrFailed, true},
		"quorum taken":  {&redsync.ErrTaken{Nodes: []int{0}}, true},
		"node taken":    {fmt.Errorf("acquire: %w", &redsync.ErrNodeTaken{Node: 0}), true},
		"redis failure": {&redsync.RedisError{Node: 0, Err: errors.New("connection refused")}, false},
		"other":         {errors.New("lock already taken"), false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, isContention(tc.err))
		})
	}
}

func TestRedisMutex_WaitsForRelease(t *testing.T) {
	_, client := newRedis(t)
	m := NewRedisMutex(client, 5*time.Millisecond)
	ctx := context.Background()

	token, ok, err := m.TryAcquire(ctx, "k", 0, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = m.Release(ctx, "k", token)
	}()

	_, ok, err = m.TryAcquire(ctx, "k", time.Second, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_WithLock_MutualExclusion(t *testing.T) {
	_, client := newRedis(t)
	mgr := NewManager(NewRedisMutex(client, 2*time.Millisecond), config.LockConfig{
		WaitTimeout: 2 * time.Second,
		HoldTimeout: 2 * time.Second,
	}, zap.NewNop())

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := mgr.WithLock(context.Background(), AccountKey(1), func(context.Context) error {
				cur := inside.Add(1)
				if cur > maxSeen.Load() {
					maxSeen.Store(cur)
				}
				time.Sleep(3 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestManager_WithLock_TimeoutIsLockTimeout(t *testing.T) {
	_, client := newRedis(t)
	mutex := NewRedisMutex(client, 5*time.Millisecond)
	mgr := NewManager(mutex, config.LockConfig{
		WaitTimeout: 20 * time.Millisecond,
		HoldTimeout: time.Second,
	}, zap.NewNop())

	_, ok, err := mutex.TryAcquire(context.Background(), AccountKey(3), 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	called := false
	err = mgr.WithLock(context.Background(), AccountKey(3), func(context.Context) error {
		called = true
		return nil
	})

	assert.False(t, called)
	assert.ErrorIs(t, err, apperr.ErrLockTimeout)
}

func TestManager_WithLock_ReleasesOnError(t *testing.T) {
	mr, client := newRedis(t)
	mgr := NewManager(NewRedisMutex(client, 5*time.Millisecond), config.LockConfig{
		WaitTimeout: 20 * time.Millisecond,
		HoldTimeout: time.Second,
	}, zap.NewNop())
	boom := errors.New("boom")

	err := mgr.WithLock(context.Background(), AccountKey(4), func(context.Context) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(AccountKey(4)))
}

func TestManager_WithLock_LogsExpiredLease(t *testing.T) {
	mr, client := newRedis(t)
	core, logs := observer.New(zap.WarnLevel)
	mgr := NewManager(NewRedisMutex(client, 5*time.Millisecond), config.LockConfig{
		WaitTimeout: 20 * time.Millisecond,
		HoldTimeout: time.Second,
	}, zap.New(core))

	err := mgr.WithLock(context.Background(), AccountKey(5), func(context.Context) error {
		mr.FastForward(2 * time.Second)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("lock expired before release").Len())
}
