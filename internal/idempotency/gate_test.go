package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"transfersvc/internal/apperr"
	"transfersvc/internal/infrastructure/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newGate(t *testing.T) (*Gate, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewGate(cache.NewRedisCache(client), zap.NewNop()), mr
}

func TestExecute_ReplaysCompletedResult(t *testing.T) {
	g, mr := newGate(t)
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	}

	res, replayed, err := g.Execute(ctx, "k1", time.Minute, fn)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, []byte("ok"), res)

	res, replayed, err = g.Execute(ctx, "k1", time.Minute, fn)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, []byte("ok"), res)

	assert.Equal(t, 1, calls)
	assert.False(t, mr.Exists(ProcessingKey("k1")))
	assert.True(t, mr.Exists(ResultKey("k1")))
}

func TestExecute_FailureNotCached(t *testing.T) {
	g, mr := newGate(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, _, err := g.Execute(ctx, "k2", time.Minute, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(ResultKey("k2")))
	assert.False(t, mr.Exists(ProcessingKey("k2")))

	res, replayed, err := g.Execute(ctx, "k2", time.Minute, func(context.Context) ([]byte, error) {
		return []byte("second"), nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, []byte("second"), res)
}

func TestExecute_ProcessingCollision(t *testing.T) {
	g, _ := newGate(t)
	ctx := context.Background()

	started := make(chan struct{})
	finish := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, err := g.Execute(ctx, "k3", time.Minute, func(context.Context) ([]byte, error) {
			close(started)
			<-finish
			return []byte("done"), nil
		})
		assert.NoError(t, err)
	}()

	<-started
	_, _, err := g.Execute(ctx, "k3", time.Minute, func(context.Context) ([]byte, error) {
		t.Fatal("must not run while the key is processing")
		return nil, nil
	})
	close(finish)
	wg.Wait()

	assert.ErrorIs(t, err, apperr.ErrIdempotencyConflict)
}

func TestExecute_ConcurrentCallersRunOnce(t *testing.T) {
	g, _ := newGate(t)
	ctx := context.Background()

	var (
		executed atomic.Int32
		wg       sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := g.Execute(ctx, "k4", time.Minute, func(context.Context) ([]byte, error) {
				executed.Add(1)
				time.Sleep(5 * time.Millisecond)
				return []byte("x"), nil
			})
			if err != nil {
				assert.ErrorIs(t, err, apperr.ErrIdempotencyConflict)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), executed.Load())
}

func TestExecute_ExpiresWithTTL(t *testing.T) {
	g, mr := newGate(t)
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) ([]byte, error) {
		calls++
		return []byte("v"), nil
	}

	_, _, err := g.Execute(ctx, "k5", time.Second, fn)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, replayed, err := g.Execute(ctx, "k5", time.Second, fn)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 2, calls)
}

func TestExecute_ReplaysExistingResult(t *testing.T) {
	g, mr := newGate(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(ResultKey("k6"), "earlier"))

	res, replayed, err := g.Execute(ctx, "k6", time.Minute, func(context.Context) ([]byte, error) {
		t.Fatal("must not run when a result exists")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, []byte("earlier"), res)
}

// racyCache misses the first lookup, as if the previous holder completed
// between our lookup and our claim.
type racyCache struct {
	Cache
	lookups int
}

func (c *racyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.lookups++
	if c.lookups == 1 {
		return nil, false, nil
	}
	return c.Cache.Get(ctx, key)
}

func TestExecute_RecheckAfterClaim(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rc := &racyCache{Cache: cache.NewRedisCache(client)}
	g := NewGate(rc, zap.NewNop())
	require.NoError(t, mr.Set(ResultKey("k7"), "done"))

	res, replayed, err := g.Execute(context.Background(), "k7", time.Minute, func(context.Context) ([]byte, error) {
		t.Fatal("must not run when a result appeared after the claim")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, []byte("done"), res)
	assert.Equal(t, 2, rc.lookups)
	assert.False(t, mr.Exists(ProcessingKey("k7")))
}
