// Package coordination implements the HTTP peer mesh: peer directory,
// work-claim table, gossip fan-out, DPoS slot rotation, and semantic
// consensus over high-value settlements.
package coordination

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
)

// PeerTable is the directory of known mediators. Entries arrive from
// discovery and inbound announce/heartbeat traffic; a peer unseen for twice
// the heartbeat interval is dropped.
type PeerTable struct {
	mu                sync.RWMutex
	peers             map[string]*contracts.Peer
	heartbeatInterval time.Duration
	protocolRange     *semver.Constraints
	logger            *slog.Logger
	clock             func() time.Time
}

// NewPeerTable builds the directory. protocolRange is a semver constraint
// string; peers announcing an incompatible protocol version are refused.
func NewPeerTable(heartbeatInterval time.Duration, protocolRange string, logger *slog.Logger, opts ...PeerOption) (*PeerTable, error) {
	constraints, err := semver.NewConstraint(protocolRange)
	if err != nil {
		return nil, err
	}
	t := &PeerTable{
		peers:             make(map[string]*contracts.Peer),
		heartbeatInterval: heartbeatInterval,
		protocolRange:     constraints,
		logger:            logger,
		clock:             time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// PeerOption customises a PeerTable.
type PeerOption func(*PeerTable)

// WithPeerClock injects a time source for tests.
func WithPeerClock(clock func() time.Time) PeerOption {
	return func(t *PeerTable) { t.clock = clock }
}

// Compatible reports whether an announced protocol version is accepted.
// An unparseable version is refused.
func (t *PeerTable) Compatible(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return t.protocolRange.Check(v)
}

// Upsert records or refreshes a peer from an announce or heartbeat.
// Incompatible protocol versions are dropped and logged. Returns whether
// the peer was accepted.
func (t *PeerTable) Upsert(peerID, endpoint string, load float64, capabilities []string, version string) bool {
	if !t.Compatible(version) {
		t.logger.Warn("peer refused, protocol version out of range",
			"peer_id", peerID, "version", version)
		return false
	}
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[peerID]
	if !ok {
		p = &contracts.Peer{PeerID: peerID, Reputation: 1}
		t.peers[peerID] = p
	}
	if endpoint != "" {
		p.Endpoint = endpoint
	}
	p.Load = load
	if capabilities != nil {
		p.Capabilities = capabilities
	}
	p.LastSeen = now
	return true
}

// Touch refreshes a peer's LastSeen without changing its record.
func (t *PeerTable) Touch(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[peerID]; ok {
		p.LastSeen = t.clock()
	}
}

// SetLoad updates a peer's advertised load from a load_report.
func (t *PeerTable) SetLoad(peerID string, load float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[peerID]; ok {
		p.Load = load
		p.LastSeen = t.clock()
	}
}

// Get returns a copy of the peer, or nil.
func (t *PeerTable) Get(peerID string) *contracts.Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.peers[peerID]; ok {
		copied := *p
		return &copied
	}
	return nil
}

// Prune drops peers unseen for twice the heartbeat interval and returns the
// number evicted.
func (t *PeerTable) Prune() int {
	cutoff := t.clock().Add(-2 * t.heartbeatInterval)
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for id, p := range t.peers {
		if p.LastSeen.Before(cutoff) {
			delete(t.peers, id)
			evicted++
		}
	}
	return evicted
}

// List returns a copy of all live peers, sorted by peer ID for determinism.
func (t *PeerTable) List() []contracts.Peer {
	t.mu.RLock()
	out := make([]contracts.Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// Len returns the live peer count.
func (t *PeerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}
