package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"moving-crm/internal/repositories"
	"moving-crm/internal/repositories/memory"
)

func TestCycleLock_ExclusiveUntilReleased(t *testing.T) {
	cache := memory.NewCache()
	a := repositories.NewCycleLock(cache, zap.NewNop())
	b := repositories.NewCycleLock(cache, zap.NewNop())
	ctx := context.Background()

	release, ok, err := a.TryLock(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "вторая реплика не должна получить замок")

	release()

	releaseB, ok, err := b.TryLock(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	releaseB()
}

func TestCycleLock_ReleaseKeepsForeignLock(t *testing.T) {
	cache := memory.NewCache()
	lock := repositories.NewCycleLock(cache, zap.NewNop())
	ctx := context.Background()

	release, ok, err := lock.TryLock(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Замок истёк и его перехватила другая реплика.
	require.NoError(t, cache.Set(ctx, repositories.CycleLockKey, "someone-else", time.Minute))
	release()

	val, err := cache.Get(ctx, repositories.CycleLockKey)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}
