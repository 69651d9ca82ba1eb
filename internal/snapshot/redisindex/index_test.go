package redisindex_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gradewatch/internal/grades"
	"github.com/JakeFAU/gradewatch/internal/snapshot"
	"github.com/JakeFAU/gradewatch/internal/snapshot/redisindex"
	"github.com/JakeFAU/gradewatch/internal/storage/memory"
)

func newIndex(t *testing.T) (*redisindex.Index, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	idx := redisindex.NewFromClient(client, redisindex.WithKey("test:hashes"))
	t.Cleanup(func() { _ = idx.Close() })
	return idx, mr
}

func TestIndexGetSet(t *testing.T) {
	idx, mr := newIndex(t)
	ctx := context.Background()

	_, ok, err := idx.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, idx.Set(ctx, "alice", "abc"))
	hash, ok, err := idx.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", hash)

	assert.Equal(t, "abc", mr.HGet("test:hashes", "alice"))
	require.NoError(t, idx.Ping(ctx))
}

func TestIndexConcurrentWriters(t *testing.T) {
	idx, mr := newIndex(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, idx.Set(ctx, fmt.Sprintf("inst-%d", i), fmt.Sprintf("h%d", i)))
		}(i)
	}
	wg.Wait()
	keys, err := mr.HKeys("test:hashes")
	require.NoError(t, err)
	assert.Len(t, keys, 25)
}

func TestIndexBacksSnapshotStore(t *testing.T) {
	idx, _ := newIndex(t)
	ctx := context.Background()
	store := snapshot.New(memory.NewBlobStore(), idx, nil)

	snap := grades.Snapshot{"R1": {ID: 1, Title: "t", URL: "u", Evaluations: []grades.Evaluation{}}}
	require.NoError(t, store.Save(ctx, "alice", snap))

	first, err := store.IsFirstRun(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, first)

	same, err := store.IsUnchanged(ctx, "alice", snap)
	require.NoError(t, err)
	assert.True(t, same)
}

func TestIndexUnavailable(t *testing.T) {
	idx, mr := newIndex(t)
	mr.Close()

	_, _, err := idx.Get(context.Background(), "alice")
	require.Error(t, err)
}
