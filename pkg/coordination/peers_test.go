package coordination

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTable(t *testing.T, opts ...PeerOption) *PeerTable {
	t.Helper()
	table, err := NewPeerTable(time.Minute, ">= 1.0.0, < 2.0.0", discard(), opts...)
	require.NoError(t, err)
	return table
}

func TestUpsertAndList(t *testing.T) {
	table := newTable(t)
	assert.True(t, table.Upsert("peer-b", "http://b:9080", 10, []string{"mediate"}, "1.2.0"))
	assert.True(t, table.Upsert("peer-a", "http://a:9080", 5, nil, "1.0.0"))

	peers := table.List()
	require.Len(t, peers, 2)
	assert.Equal(t, "peer-a", peers[0].PeerID)
	assert.Equal(t, "peer-b", peers[1].PeerID)
	assert.Equal(t, 10.0, peers[1].Load)
	assert.Equal(t, 1.0, peers[1].Reputation)
}

func TestUpsertRefusesIncompatibleProtocol(t *testing.T) {
	table := newTable(t)
	assert.False(t, table.Upsert("old", "http://old:9080", 0, nil, "0.9.0"))
	assert.False(t, table.Upsert("next", "http://next:9080", 0, nil, "2.0.0"))
	assert.False(t, table.Upsert("junk", "http://junk:9080", 0, nil, "not-a-version"))
	assert.Zero(t, table.Len())
}

func TestPruneAfterTwoHeartbeats(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	table := newTable(t, WithPeerClock(func() time.Time { return now }))

	table.Upsert("stale", "http://stale:9080", 0, nil, "1.0.0")
	now = now.Add(90 * time.Second)
	table.Upsert("fresh", "http://fresh:9080", 0, nil, "1.0.0")

	now = now.Add(45 * time.Second) // stale is 135s old, beyond 2×60s
	assert.Equal(t, 1, table.Prune())
	assert.Nil(t, table.Get("stale"))
	assert.NotNil(t, table.Get("fresh"))
}

func TestTouchKeepsPeerAlive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	table := newTable(t, WithPeerClock(func() time.Time { return now }))

	table.Upsert("peer", "http://p:9080", 0, nil, "1.0.0")
	now = now.Add(110 * time.Second)
	table.Touch("peer")

	now = now.Add(30 * time.Second)
	assert.Zero(t, table.Prune())
}

func TestSetLoad(t *testing.T) {
	table := newTable(t)
	table.Upsert("peer", "http://p:9080", 1, nil, "1.0.0")
	table.SetLoad("peer", 73)
	assert.Equal(t, 73.0, table.Get("peer").Load)

	// Unknown peers are ignored, not created.
	table.SetLoad("ghost", 50)
	assert.Nil(t, table.Get("ghost"))
}
