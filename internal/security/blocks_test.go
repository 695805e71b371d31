package security

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockRegistry_UpsertIsIdempotent(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.blocks.Upsert(ctx, "203.0.113.7", "first reason", time.Hour))
	require.NoError(t, e.blocks.Upsert(ctx, "203.0.113.7", "second reason", 2*time.Hour))

	blocks := e.blocks.ListAll(ctx)
	require.Len(t, blocks, 1)
	assert.Equal(t, "second reason", blocks[0].Reason)
	require.NotNil(t, blocks[0].ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), *blocks[0].ExpiresAt, 5*time.Second)
	assert.True(t, e.blocks.IsBlocked(ctx, "203.0.113.7"))
}

func TestBlockRegistry_PermanentBlock(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.blocks.Upsert(ctx, "198.51.100.1", "manual", 0))
	e.blocks.now = func() time.Time { return time.Now().Add(24 * 365 * time.Hour) }

	assert.True(t, e.blocks.IsBlocked(ctx, "198.51.100.1"))
	blocks := e.blocks.ListAll(ctx)
	require.Len(t, blocks, 1)
	assert.True(t, blocks[0].IsPermanent)
	assert.Nil(t, blocks[0].ExpiresAt)
}

func TestBlockRegistry_ExpiredEntryIsNotBlockedAndRemoved(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.blocks.Upsert(ctx, "192.0.2.10", "Brute force detected", time.Minute))
	assert.True(t, e.blocks.IsBlocked(ctx, "192.0.2.10"))

	// Cached lookup from above must not keep the ip blocked past expiry.
	e.blocks.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	assert.False(t, e.blocks.IsBlocked(ctx, "192.0.2.10"))
	assert.Empty(t, e.blocks.ListAll(ctx))

	_, err := e.store.MemoryStore.GetBlock(ctx, "192.0.2.10")
	assert.Error(t, err, "row should be deleted by the reader that saw the expiry")
}

func TestBlockRegistry_ListAllDropsExpiredRows(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.blocks.Upsert(ctx, "192.0.2.1", "short", time.Minute))
	require.NoError(t, e.blocks.Upsert(ctx, "192.0.2.2", "long", time.Hour))
	e.blocks.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	blocks := e.blocks.ListAll(ctx)
	require.Len(t, blocks, 1)
	assert.Equal(t, "192.0.2.2", blocks[0].IP)

	all, err := e.store.MemoryStore.ListBlocks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBlockRegistry_ConcurrentExpiryReadersAgree(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.blocks.Upsert(ctx, "192.0.2.99", "scan", time.Minute))
	e.blocks.now = func() time.Time { return time.Now().Add(time.Hour) }

	var wg sync.WaitGroup
	results := make([]bool, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.blocks.IsBlocked(ctx, "192.0.2.99")
		}(i)
	}
	wg.Wait()

	for _, blocked := range results {
		assert.False(t, blocked)
	}
}

func TestBlockRegistry_RemoveInvalidatesCache(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.blocks.Upsert(ctx, "10.1.1.1", "manual", time.Hour))
	assert.True(t, e.blocks.IsBlocked(ctx, "10.1.1.1"))

	require.NoError(t, e.blocks.Remove(ctx, "10.1.1.1"))
	assert.False(t, e.blocks.IsBlocked(ctx, "10.1.1.1"))
	assert.NoError(t, e.blocks.Remove(ctx, "10.1.1.1"), "removing twice is fine")
}

func TestBlockRegistry_LookupOverlappingUpsertIsNotCached(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	fetched, release := e.store.pauseNextGet()
	done := make(chan bool, 1)
	go func() { done <- e.blocks.IsBlocked(ctx, "198.51.100.77") }()

	<-fetched
	require.NoError(t, e.blocks.Upsert(ctx, "198.51.100.77", "manual", time.Hour))
	release()

	assert.False(t, <-done, "the overlapping lookup read the store before the write")
	assert.True(t, e.blocks.IsBlocked(ctx, "198.51.100.77"), "a stale miss must not be cached")
}

func TestBlockRegistry_LookupOverlappingRemoveIsNotCached(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	require.NoError(t, e.blocks.Upsert(ctx, "198.51.100.78", "manual", time.Hour))

	fetched, release := e.store.pauseNextGet()
	done := make(chan bool, 1)
	go func() { done <- e.blocks.IsBlocked(ctx, "198.51.100.78") }()

	<-fetched
	require.NoError(t, e.blocks.Remove(ctx, "198.51.100.78"))
	release()

	assert.True(t, <-done)
	assert.False(t, e.blocks.IsBlocked(ctx, "198.51.100.78"), "a stale hit must not be cached")
}

func TestBlockRegistry_FailOpenOnStoreError(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	e.store.failBlocks = true
	assert.False(t, e.blocks.IsBlocked(ctx, "10.9.9.9"))
	assert.Empty(t, e.blocks.ListAll(ctx))
	assert.Error(t, e.blocks.Upsert(ctx, "10.9.9.9", "x", time.Minute))
}

func TestBlockRegistry_EmptyIP(t *testing.T) {
	e := newEngine(t)
	assert.False(t, e.blocks.IsBlocked(context.Background(), ""))
}
