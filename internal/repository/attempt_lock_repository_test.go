package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestAttemptLockIsExclusiveAcrossInstances(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)

	a := NewAttemptLockRepository(rdb, "gw-a", time.Minute)
	b := NewAttemptLockRepository(rdb, "gw-b", time.Minute)

	require.NoError(t, a.Acquire(ctx, "paper-1", 7))
	assert.ErrorIs(t, b.Acquire(ctx, "paper-1", 7), ErrLockHeld)

	// Other students and other papers are independent.
	require.NoError(t, b.Acquire(ctx, "paper-1", 8))
	require.NoError(t, b.Acquire(ctx, "paper-2", 7))

	owner, err := a.Owner(ctx, "paper-1", 7)
	require.NoError(t, err)
	assert.Equal(t, "gw-a", owner)
	assert.True(t, mr.Exists("student:7:paper:paper-1:attempt_lock"))
}

func TestAttemptLockReentryRenews(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	a := NewAttemptLockRepository(rdb, "gw-a", time.Minute)

	require.NoError(t, a.Acquire(ctx, "paper-1", 7))
	mr.FastForward(50 * time.Second)
	require.NoError(t, a.Acquire(ctx, "paper-1", 7))

	assert.Equal(t, time.Minute, mr.TTL("student:7:paper:paper-1:attempt_lock"))
}

func TestAttemptLockRefreshAndExpiry(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	a := NewAttemptLockRepository(rdb, "gw-a", time.Minute)
	b := NewAttemptLockRepository(rdb, "gw-b", time.Minute)

	require.NoError(t, a.Acquire(ctx, "paper-1", 7))

	ok, err := b.Refresh(ctx, "paper-1", 7)
	require.NoError(t, err)
	assert.False(t, ok, "a non-owner cannot refresh")

	mr.FastForward(2 * time.Minute)
	ok, err = a.Refresh(ctx, "paper-1", 7)
	require.NoError(t, err)
	assert.False(t, ok, "an expired lock is lost")

	require.NoError(t, b.Acquire(ctx, "paper-1", 7))
}

func TestAttemptLockReleaseOnlyByOwner(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	a := NewAttemptLockRepository(rdb, "gw-a", time.Minute)
	b := NewAttemptLockRepository(rdb, "gw-b", time.Minute)

	require.NoError(t, a.Acquire(ctx, "paper-1", 7))
	require.NoError(t, b.Release(ctx, "paper-1", 7))

	owner, err := a.Owner(ctx, "paper-1", 7)
	require.NoError(t, err)
	assert.Equal(t, "gw-a", owner)

	require.NoError(t, a.Release(ctx, "paper-1", 7))
	owner, err = a.Owner(ctx, "paper-1", 7)
	require.NoError(t, err)
	assert.Empty(t, owner)
}
