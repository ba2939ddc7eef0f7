package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sunr3d/site-mover/internal/interfaces/infra"
)

func setupTestLocker(t *testing.T) (infra.Locker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, zaptest.NewLogger(t)), mr
}

func TestRedisLocker_Acquire_SingleHolder(t *testing.T) {
	locker, _ := setupTestLocker(t)
	ctx := context.Background()

	require.NoError(t, locker.Acquire(ctx, "full-import", time.Hour))
	assert.ErrorIs(t, locker.Acquire(ctx, "full-import", time.Hour), infra.ErrLockHeld)
	assert.NoError(t, locker.Acquire(ctx, "selected-import", time.Hour))

	require.NoError(t, locker.Release(ctx, "full-import"))
	assert.NoError(t, locker.Acquire(ctx, "full-import", time.Hour))
}

func TestRedisLocker_Acquire_ExpiresAfterMaxAge(t *testing.T) {
	locker, mr := setupTestLocker(t)
	ctx := context.Background()

	require.NoError(t, locker.Acquire(ctx, "rollback", time.Minute))
	mr.FastForward(61 * time.Second)
	assert.NoError(t, locker.Acquire(ctx, "rollback", time.Minute))
}

func TestRedisLocker_ReleaseStale_KeysWithoutTTL(t *testing.T) {
	locker, mr := setupTestLocker(t)
	ctx := context.Background()

	require.NoError(t, locker.Acquire(ctx, "full-import", time.Hour))
	require.NoError(t, mr.Set(keyPrefix+"orphan", "x"))

	released, err := locker.ReleaseStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, released)
	assert.False(t, mr.Exists(keyPrefix+"orphan"))
	assert.True(t, mr.Exists(keyPrefix+"full-import"))
}

func TestNewClient_EmptyAddress(t *testing.T) {
	client, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrEmptyAddress)
	assert.Nil(t, client)
}

func TestNewClient_Ping(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()
}
