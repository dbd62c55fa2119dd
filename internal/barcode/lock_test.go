package barcode

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestIssuanceLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	lock := NewIssuanceLock(client, time.Minute)

	require.NoError(t, lock.Acquire(ctx))
	require.ErrorIs(t, lock.Acquire(ctx), ErrLockHeld)

	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Acquire(ctx))
}

func TestIssuanceLockExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	lock := NewIssuanceLock(client, time.Second)

	require.NoError(t, lock.Acquire(ctx))
	mr.FastForward(2 * time.Second)
	require.NoError(t, lock.Acquire(ctx), "stale lock must expire via TTL")
}
