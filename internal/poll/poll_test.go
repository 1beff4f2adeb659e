package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntilReturnsOnFirstCheck(t *testing.T) {
	var calls int32
	err := Until(context.Background(), Bounds{Interval: time.Hour, Limit: time.Hour}, "ready", func(context.Context) (bool, error) {
		atomic.AddInt32(&calls, 1)
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUntilSucceedsWhenConditionFlips(t *testing.T) {
	var calls int32
	start := time.Now()
	err := Until(context.Background(), Bounds{Interval: 10 * time.Millisecond, Limit: time.Second}, "flip", func(context.Context) (bool, error) {
		return atomic.AddInt32(&calls, 1) >= 3, nil
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestUntilTimesOutNotBeforeLimit(t *testing.T) {
	limit := 150 * time.Millisecond
	start := time.Now()
	err := Until(context.Background(), Bounds{Interval: 20 * time.Millisecond, Limit: limit}, "never", func(context.Context) (bool, error) {
		return false, nil
	})
	elapsed := time.Since(start)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	var timeout *TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "never", timeout.What)
	assert.GreaterOrEqual(t, elapsed, limit)
}

func TestUntilStopsOnConditionError(t *testing.T) {
	boom := errors.New("boom")
	err := Until(context.Background(), Bounds{Interval: 10 * time.Millisecond, Limit: time.Second}, "err", func(context.Context) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestUntilHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	err := Until(ctx, Bounds{Interval: 10 * time.Millisecond, Limit: time.Minute}, "cancel", func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Minute), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), 0))
}
