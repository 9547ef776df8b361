package intents

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
)

func TestUpsertDeduplicates(t *testing.T) {
	c := NewCache(10)
	added := c.Upsert([]contracts.Intent{
		{Hash: "h1", CreatedAt: 100},
		{Hash: "h2", CreatedAt: 200},
		{Hash: "h1", CreatedAt: 100},
	})
	assert.Equal(t, []string{"h1", "h2"}, added)
	assert.Equal(t, 2, c.Len())

	added = c.Upsert([]contracts.Intent{{Hash: "h2"}})
	assert.Empty(t, added)
}

func TestUpsertRespectsBound(t *testing.T) {
	c := NewCache(2)
	c.Upsert([]contracts.Intent{
		{Hash: "h1"}, {Hash: "h2"}, {Hash: "h3"},
	})
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("h3")
	assert.False(t, ok)
}

func TestSnapshotPriorityOrder(t *testing.T) {
	c := NewCache(10)
	c.Upsert([]contracts.Intent{
		{Hash: "cc", CreatedAt: 100},
		{Hash: "aa", CreatedAt: 100},
		{Hash: "bb", CreatedAt: 50},
		{Hash: "dd", CreatedAt: 10},
	})
	// dd is oldest but has pending pairs, so it sorts last.
	c.RecordPending("dd", 2)

	snap := c.Snapshot(0)
	hashes := make([]string, len(snap))
	for i, in := range snap {
		hashes[i] = in.Hash
	}
	// Zero pending first by age then hash; dd (pending=2) last.
	assert.Equal(t, []string{"bb", "aa", "cc", "dd"}, hashes)
}

func TestSnapshotDeterministic(t *testing.T) {
	c := NewCache(10)
	c.Upsert([]contracts.Intent{
		{Hash: "x", CreatedAt: 5}, {Hash: "y", CreatedAt: 5}, {Hash: "z", CreatedAt: 5},
	})
	first := c.Snapshot(2)
	second := c.Snapshot(2)
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
	assert.Equal(t, "x", first[0].Hash)
}

func TestRecordPendingFloorsAtZero(t *testing.T) {
	c := NewCache(10)
	c.Upsert([]contracts.Intent{{Hash: "h1"}})
	c.RecordPending("h1", 1)
	c.RecordPending("h1", -5)
	snap := c.Snapshot(0)
	require.Len(t, snap, 1)
}

func TestResetPendingClearsCounters(t *testing.T) {
	c := NewCache(10)
	c.Upsert([]contracts.Intent{{Hash: "h1"}, {Hash: "h2"}})
	c.RecordPending("h1", 3)
	c.RecordPending("h2", 1)
	require.Equal(t, 3, c.Pending("h1"))

	c.ResetPending()
	assert.Zero(t, c.Pending("h1"))
	assert.Zero(t, c.Pending("h2"))
}

func TestEmbeddingCacheInMemory(t *testing.T) {
	ec, err := NewEmbeddingCache("", nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, ok := ec.Get(ctx, "h1")
	assert.False(t, ok)

	ec.Put(ctx, "h1", []float32{0.1, 0.2})
	vec, ok := ec.Get(ctx, "h1")
	require.True(t, ok)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
}

func TestEmbeddingCacheRedisTier(t *testing.T) {
	mr := miniredis.RunT(t)
	ec, err := NewEmbeddingCache("redis://"+mr.Addr(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	ec.Put(ctx, "h1", []float32{1, 2, 3})

	// Drop the local tier; the Redis tier should backfill.
	ec.Prune(map[string]struct{}{})
	assert.Zero(t, ec.Len())

	vec, ok := ec.Get(ctx, "h1")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, vec)
	assert.Equal(t, 1, ec.Len())
}

func TestEmbeddingCachePrune(t *testing.T) {
	ec, err := NewEmbeddingCache("", nil)
	require.NoError(t, err)
	ctx := context.Background()
	ec.Put(ctx, "keep", []float32{1})
	ec.Put(ctx, "drop", []float32{2})

	removed := ec.Prune(map[string]struct{}{"keep": {}})
	assert.Equal(t, 1, removed)
	_, ok := ec.Get(ctx, "keep")
	assert.True(t, ok)
	_, ok = ec.Get(ctx, "drop")
	assert.False(t, ok)
}
