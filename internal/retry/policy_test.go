package retry

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"transfersvc/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func recordingPolicy(max int) (*Policy, *[]time.Duration) {
	var slept []time.Duration
	p := &Policy{
		MaxAttempts: max,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		logger:      zap.NewNop(),
		sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	return p, &slept
}

func TestDo_SucceedsAfterContention(t *testing.T) {
	p, slept := recordingPolicy(5)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return apperr.LockTimeout(nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestDo_ExhaustionWrapsLastError(t *testing.T) {
	p, slept := recordingPolicy(4)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return apperr.OptimisticConflict(nil)
	})

	assert.Equal(t, 4, calls)
	assert.Len(t, *slept, 3)
	assert.Equal(t, apperr.KindTransferFailed, apperr.KindOf(err))
	assert.ErrorIs(t, err, apperr.ErrOptimisticConflict)
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	p, slept := recordingPolicy(5)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return apperr.AuthFailed(1)
	})

	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
	assert.ErrorIs(t, err, apperr.ErrAuthFailed)
}

func TestDo_StopsWhenContextDone(t *testing.T) {
	p := &Policy{MaxAttempts: 5, BaseDelay: time.Hour, logger: zap.NewNop()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Do(ctx, func(context.Context) error { return apperr.LockTimeout(nil) })
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDelay_CappedAtMax(t *testing.T) {
	p := &Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 300*time.Millisecond, p.Delay(3))
	assert.Equal(t, 300*time.Millisecond, p.Delay(40))
}

func TestDelay_JitterStaysInUpperHalf(t *testing.T) {
	p := &Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: true}

	for i := 0; i < 100; i++ {
		d := p.Delay(2)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 200*time.Millisecond)
	}
}

func TestExponential_Saturates(t *testing.T) {
	assert.Equal(t, time.Duration(0), Exponential(0, 3))
	assert.Equal(t, 8*time.Millisecond, Exponential(time.Millisecond, 3))
	assert.Equal(t, time.Duration(math.MaxInt64), Exponential(time.Second, 100))
}

func TestSleepWithContext(t *testing.T) {
	assert.NoError(t, SleepWithContext(context.Background(), 0))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := SleepWithContext(ctx, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
