package guard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestDistributed_AcquireSucceedsOnFirstCaller(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	g := NewDistributed(client, "widgets", time.Minute, nil)
	ok, err := g.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, g.IsAcquired())
}

func TestDistributed_SecondAcquireFailsWhileHeld(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	first := NewDistributed(client, "widgets", time.Minute, nil)
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	second := NewDistributed(client, "widgets", time.Minute, nil)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, second.IsAcquired())
}

func TestDistributed_AcquireSucceedsAfterRelease(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	first := NewDistributed(client, "widgets", time.Minute, nil)
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, first.Release(ctx))
	assert.False(t, first.IsAcquired())

	second := NewDistributed(client, "widgets", time.Minute, nil)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributed_ReleaseOnUnacquiredLockIsNoop(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	g := NewDistributed(client, "widgets", time.Minute, nil)
	assert.NoError(t, g.Release(ctx))
}

func TestDistributed_ReleaseDoesNotStealAnotherHoldersLock(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	first := NewDistributed(client, "widgets", time.Minute, nil)
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// second never acquired, but marking it acquired simulates a stale
	// handle whose TTL already expired and was reclaimed by someone else.
	second := NewDistributed(client, "widgets", time.Minute, nil)
	second.acquired = true

	require.NoError(t, second.Release(ctx))

	// first's lock must still be held: the key must not have been deleted.
	third := NewDistributed(client, "widgets", time.Minute, nil)
	ok, err = third.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDistributed_KeyedByTargetNameDoesNotCollideAcrossTargets(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	widgets := NewDistributed(client, "widgets", time.Minute, nil)
	ok, err := widgets.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	gadgets := NewDistributed(client, "gadgets", time.Minute, nil)
	ok, err = gadgets.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewDistributed_DefaultsTTLAndLogger(t *testing.T) {
	client, _ := setupTestRedis(t)
	g := NewDistributed(client, "widgets", 0, nil)
	assert.Equal(t, DefaultTTL, g.ttl)
	assert.NotNil(t, g.logger)
}
