package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client), mr
}

func TestTryLockIsExclusive(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "job:a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = locker.TryLock(ctx, "job:a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok, err = locker.TryLock(ctx, "job:a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock can be taken again")
}

func TestReleaseRequiresToken(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "job:b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locker.Release(ctx, "job:b", "someone-else"))
	assert.True(t, mr.Exists("job:b"))

	require.NoError(t, locker.Release(ctx, "job:b", token))
	assert.False(t, mr.Exists("job:b"))
}

func TestExtend(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "job:c", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	extended, err := locker.Extend(ctx, "job:c", token, time.Hour)
	require.NoError(t, err)
	assert.True(t, extended)
	assert.Greater(t, mr.TTL("job:c"), 30*time.Minute)

	extended, err = locker.Extend(ctx, "job:c", "other", time.Hour)
	require.NoError(t, err)
	assert.False(t, extended)
}

func TestNilLocker(t *testing.T) {
	var locker *Locker
	_, _, err := locker.TryLock(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.NoError(t, locker.Release(context.Background(), "k", "t"))
	assert.Nil(t, NewLocker(nil))
}
