package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedisLockExclusive(t *testing.T) {
	r, _ := setupRedis(t)
	ctx := context.Background()

	lease, err := r.TryAcquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	second, err := r.TryAcquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, lease.Release(ctx))

	third, err := r.TryAcquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestRedisLockExpires(t *testing.T) {
	r, mr := setupRedis(t)
	ctx := context.Background()

	lease, err := r.TryAcquire(ctx, "sweep", time.Second)
	require.NoError(t, err)
	require.NotNil(t, lease)

	mr.FastForward(2 * time.Second)
	other, err := r.TryAcquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, other)

	// The expired holder must not delete the new holder's key.
	assert.ErrorIs(t, lease.Release(ctx), ErrNotHeld)
	assert.True(t, mr.Exists("leadline:lock:sweep"))
}

func TestNewRedisBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "::not a url")
	assert.Error(t, err)
}

func TestLocalAlwaysGrants(t *testing.T) {
	var l Local
	a, err := l.TryAcquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	b, err := l.TryAcquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	assert.NoError(t, a.Release(context.Background()))
	assert.NoError(t, b.Release(context.Background()))
}
