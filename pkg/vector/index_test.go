package vector

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopKOrdering(t *testing.T) {
	ix := New(2)
	require.NoError(t, ix.AddOrUpdate("north", []float32{0, 1}))
	require.NoError(t, ix.AddOrUpdate("east", []float32{1, 0}))
	require.NoError(t, ix.AddOrUpdate("northeast", []float32{1, 1}))

	matches, err := ix.TopK([]float32{0, 1}, 3, nil)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "north", matches[0].Hash)
	assert.InDelta(t, 1.0, matches[0].Cosine, 1e-9)
	assert.Equal(t, "northeast", matches[1].Hash)
	assert.Equal(t, "east", matches[2].Hash)
}

func TestTopKTieBreakByHash(t *testing.T) {
	ix := New(2)
	// Identical vectors: cosine ties resolved lexicographically.
	require.NoError(t, ix.AddOrUpdate("bbb", []float32{1, 1}))
	require.NoError(t, ix.AddOrUpdate("aaa", []float32{1, 1}))
	require.NoError(t, ix.AddOrUpdate("ccc", []float32{1, 1}))

	matches, err := ix.TopK([]float32{1, 1}, 0, nil)
	require.NoError(t, err)
	hashes := []string{matches[0].Hash, matches[1].Hash, matches[2].Hash}
	assert.Equal(t, []string{"aaa", "bbb", "ccc"}, hashes)
}

func TestTopKFilter(t *testing.T) {
	ix := New(2)
	require.NoError(t, ix.AddOrUpdate("keep", []float32{1, 0}))
	require.NoError(t, ix.AddOrUpdate("skip", []float32{1, 0}))

	matches, err := ix.TopK([]float32{1, 0}, 0, func(h string) bool { return h != "skip" })
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "keep", matches[0].Hash)
}

func TestDimensionMismatch(t *testing.T) {
	ix := New(3)
	assert.Error(t, ix.AddOrUpdate("bad", []float32{1, 0}))
	_, err := ix.TopK([]float32{1, 0}, 1, nil)
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	ix := New(2)
	require.NoError(t, ix.AddOrUpdate("h", []float32{1, 0}))
	assert.True(t, ix.Has("h"))
	ix.Remove("h")
	assert.False(t, ix.Has("h"))
	assert.Zero(t, ix.Len())
}

func TestPruneDropsEvicted(t *testing.T) {
	ix := New(2)
	require.NoError(t, ix.AddOrUpdate("keep", []float32{1, 0}))
	require.NoError(t, ix.AddOrUpdate("drop", []float32{0, 1}))

	removed := ix.Prune(map[string]struct{}{"keep": {}})
	assert.Equal(t, 1, removed)
	assert.True(t, ix.Has("keep"))
	assert.False(t, ix.Has("drop"))
	assert.Equal(t, 1, ix.Len())
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")

	ix := New(2)
	require.NoError(t, ix.AddOrUpdate("a", []float32{1, 0}))
	require.NoError(t, ix.AddOrUpdate("b", []float32{0, 1}))
	require.NoError(t, ix.Snapshot(path))

	restored := New(2)
	require.NoError(t, restored.Restore(path))
	assert.Equal(t, 2, restored.Len())

	matches, err := restored.TopK([]float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Hash)
}

func TestRestoreMissingFile(t *testing.T) {
	ix := New(2)
	assert.NoError(t, ix.Restore(filepath.Join(t.TempDir(), "absent.json")))
}
