package keyrecovery

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/dafelhub/dataplatform/internal/infrastructure/cache"
)

func setupCoordinatorCache(t *testing.T) (cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	c, err := cache.NewRedisCache(&cache.CacheConfig{
		Addr:        mr.Addr(),
		PoolSize:    5,
		DialTimeout: time.Second,
		ReadTimeout: time.Second,
	}, nil)
	require.NoError(t, err)

	return c, mr
}

func TestCoordinator_NilIsNoOp(t *testing.T) {
	var co *Coordinator

	err := co.RecordLocations(context.Background(), "k1", []string{"/a", "/b"})
	require.NoError(t, err)

	locs, err := co.KnownLocations(context.Background(), "k1")
	require.NoError(t, err)
	require.Empty(t, locs)

	full, err := co.FullyReplicated(context.Background(), "k1", 3)
	require.NoError(t, err)
	require.True(t, full, "a nil coordinator should never block progress")
}

func TestCoordinator_RecordAndQueryLocations(t *testing.T) {
	c, mr := setupCoordinatorCache(t)
	defer mr.Close()

	co := NewCoordinator(c)
	ctx := context.Background()

	require.NoError(t, co.RecordLocations(ctx, "key-1", []string{"/share/a", "/share/b"}))

	locs, err := co.KnownLocations(ctx, "key-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/share/a", "/share/b"}, locs)
}

func TestCoordinator_FullyReplicated(t *testing.T) {
	c, mr := setupCoordinatorCache(t)
	defer mr.Close()

	co := NewCoordinator(c)
	ctx := context.Background()

	require.NoError(t, co.RecordLocations(ctx, "key-2", []string{"/share/a"}))

	full, err := co.FullyReplicated(ctx, "key-2", 2)
	require.NoError(t, err)
	require.False(t, full)

	require.NoError(t, co.RecordLocations(ctx, "key-2", []string{"/share/b"}))

	full, err = co.FullyReplicated(ctx, "key-2", 2)
	require.NoError(t, err)
	require.True(t, full)
}

func TestEngine_BackupKey_RecordsLocationsInCoordinator(t *testing.T) {
	c, mr := setupCoordinatorCache(t)
	defer mr.Close()

	dir := t.TempDir()
	engine, err := NewEngine([]string{dir})
	require.NoError(t, err)
	engine.WithCoordinator(NewCoordinator(c))

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	_, err = engine.BackupKey("key-3", 1, key, 2, 3, "")
	require.NoError(t, err)

	locs, err := engine.coordinator.KnownLocations(context.Background(), "key-3")
	require.NoError(t, err)
	require.Equal(t, []string{dir}, locs)
}
