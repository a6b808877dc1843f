package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/insightdesk/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDailyQuotaStopsAtLimit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC))
	q := NewDailyQuota(nil, 3, time.UTC, clk, zap.NewNop())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		usage, allowed, err := q.Consume(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, int64(i), usage.Current)
	}

	usage, allowed, err := q.Consume(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(3), usage.Current)
	assert.True(t, usage.Exceeded)
	assert.Zero(t, usage.Remaining)
	assert.Equal(t, time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC), usage.ResetAt)

	other, allowed, err := q.Consume(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(2), other.Remaining)
}

func TestDailyQuotaRollsOverAtMidnight(t *testing.T) {
	jakarta, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	// 16:30 UTC is 23:30 in Jakarta.
	clk := clock.NewFakeClock(time.Date(2024, 6, 15, 16, 30, 0, 0, time.UTC))
	q := NewDailyQuota(nil, 1, jakarta, clk, nil)
	ctx := context.Background()

	_, allowed, err := q.Consume(ctx, "u1")
	require.NoError(t, err)
	require.True(t, allowed)
	_, allowed, _ = q.Consume(ctx, "u1")
	assert.False(t, allowed)

	clk.Advance(time.Hour)
	usage, err := q.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, usage.Current)
	assert.Equal(t, time.Date(2024, 6, 16, 17, 0, 0, 0, time.UTC), usage.ResetAt)

	_, allowed, _ = q.Consume(ctx, "u1")
	assert.True(t, allowed)
}

func TestDailyQuotaReset(t *testing.T) {
	q := NewDailyQuota(nil, 1, nil, nil, nil)
	ctx := context.Background()

	_, _, err := q.Consume(ctx, "u1")
	require.NoError(t, err)
	usage, err := q.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, usage.Exceeded)

	usage, err = q.Reset(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, usage.Current)
	assert.Equal(t, int64(1), usage.Remaining)

	_, allowed, err := q.Consume(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestDailyQuotaReleaseReturnsUnit(t *testing.T) {
	q := NewDailyQuota(nil, 1, nil, nil, nil)
	ctx := context.Background()

	_, allowed, err := q.Consume(ctx, "u1")
	require.NoError(t, err)
	require.True(t, allowed)

	usage, err := q.Release(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, usage.Current)

	usage, err = q.Release(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, usage.Current, "release never goes below zero")

	_, allowed, err = q.Consume(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestDailyQuotaRejectsBlankUser(t *testing.T) {
	q := NewDailyQuota(nil, 1, nil, nil, nil)
	_, _, err := q.Consume(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidUser)
	_, err = q.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestLocalLockerExcludesConcurrentHolders(t *testing.T) {
	l := NewLocker(nil)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "purge", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "purge", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	err = l.WithLock(ctx, "purge", time.Minute, func(context.Context) error {
		t.Fatalf("ran while lock was held")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, l.Release(ctx, "purge", token))

	ran := false
	require.NoError(t, l.WithLock(ctx, "purge", time.Minute, func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	_, ok, err = l.TryLock(ctx, "purge", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLeaseExpires(t *testing.T) {
	l := NewLocker(nil)
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	_, ok, _ := l.TryLock(context.Background(), "k", time.Second)
	require.True(t, ok)
	now = now.Add(2 * time.Second)
	_, ok, _ = l.TryLock(context.Background(), "k", time.Second)
	assert.True(t, ok)
}
