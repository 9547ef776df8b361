package coordination

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
)

const perPeerTimeout = 5 * time.Second

// Broadcaster fans coordination messages out to every live peer.
// Delivery is best-effort: each peer gets its own timeout and failures are
// logged at debug level and otherwise ignored.
type Broadcaster struct {
	table      *PeerTable
	selfID     string
	selfURL    string
	httpClient *http.Client
	logger     *slog.Logger
	clock      func() time.Time
}

// NewBroadcaster wires the fan-out to the peer table.
func NewBroadcaster(table *PeerTable, selfID, selfURL string, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		table:      table,
		selfID:     selfID,
		selfURL:    selfURL,
		httpClient: &http.Client{Timeout: perPeerTimeout},
		logger:     logger,
		clock:      time.Now,
	}
}

// Broadcast sends one typed message to every live peer concurrently and
// returns the number of successful deliveries.
func (b *Broadcaster) Broadcast(ctx context.Context, msgType string, payload interface{}) int {
	msg := contracts.CoordinationMessage{
		Type:     msgType,
		SenderID: b.selfID,
		Endpoint: b.selfURL,
		SentAt:   b.clock(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			b.logger.Warn("broadcast payload marshal failed", "type", msgType, "error", err)
			return 0
		}
		msg.Payload = raw
	}
	body, err := json.Marshal(msg)
	if err != nil {
		b.logger.Warn("broadcast marshal failed", "type", msgType, "error", err)
		return 0
	}

	peers := b.table.List()
	var wg sync.WaitGroup
	var mu sync.Mutex
	delivered := 0
	for _, peer := range peers {
		if peer.PeerID == b.selfID || peer.Endpoint == "" {
			continue
		}
		wg.Add(1)
		go func(p contracts.Peer) {
			defer wg.Done()
			if b.send(ctx, p.Endpoint, body) {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}(peer)
	}
	wg.Wait()
	return delivered
}

// Send delivers one message to a single endpoint, best-effort.
func (b *Broadcaster) Send(ctx context.Context, endpoint, msgType string, payload interface{}) bool {
	msg := contracts.CoordinationMessage{
		Type:     msgType,
		SenderID: b.selfID,
		Endpoint: b.selfURL,
		SentAt:   b.clock(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		msg.Payload = raw
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return b.send(ctx, endpoint, body)
}

func (b *Broadcaster) send(ctx context.Context, endpoint string, body []byte) bool {
	ctx, cancel := context.WithTimeout(ctx, perPeerTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/api/coordination/message", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.logger.Debug("peer delivery failed", "endpoint", endpoint, "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		b.logger.Debug("peer delivery rejected", "endpoint", endpoint, "status", resp.StatusCode)
		return false
	}
	return true
}

// AnnounceSelf broadcasts our announce to the mesh.
func (b *Broadcaster) AnnounceSelf(ctx context.Context, load float64, capabilities []string, protocolVersion string) int {
	return b.Broadcast(ctx, contracts.MsgAnnounce, contracts.AnnouncePayload{
		Endpoint:        b.selfURL,
		Load:            load,
		Capabilities:    capabilities,
		ProtocolVersion: protocolVersion,
	})
}

// BroadcastClaim gossips a freshly taken work claim.
func (b *Broadcaster) BroadcastClaim(ctx context.Context, claim *contracts.WorkClaim) int {
	return b.Broadcast(ctx, contracts.MsgWorkClaim, contracts.ClaimPayload{
		ClaimID:    claim.ClaimID,
		KeyA:       claim.KeyA,
		KeyB:       claim.KeyB,
		MediatorID: claim.MediatorID,
		ExpiresAt:  claim.ExpiresAt.UnixMilli(),
	})
}

// BroadcastRelease gossips an early claim release.
func (b *Broadcaster) BroadcastRelease(ctx context.Context, claim *contracts.WorkClaim) int {
	return b.Broadcast(ctx, contracts.MsgWorkRelease, contracts.ClaimPayload{
		ClaimID:    claim.ClaimID,
		KeyA:       claim.KeyA,
		KeyB:       claim.KeyB,
		MediatorID: claim.MediatorID,
	})
}

// Discover merges each live peer's directory into ours.
func (b *Broadcaster) Discover(ctx context.Context, protocolVersion string) {
	for _, peer := range b.table.List() {
		if peer.PeerID == b.selfID || peer.Endpoint == "" {
			continue
		}
		b.discoverFrom(ctx, peer.Endpoint, protocolVersion)
	}
}

func (b *Broadcaster) discoverFrom(ctx context.Context, endpoint, protocolVersion string) {
	ctx, cancel := context.WithTimeout(ctx, perPeerTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/coordination/peers", nil)
	if err != nil {
		return
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.logger.Debug("peer discovery failed", "endpoint", endpoint, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return
	}
	var peers []contracts.Peer
	if err := json.NewDecoder(resp.Body).Decode(&peers); err != nil {
		return
	}
	for _, p := range peers {
		if p.PeerID == b.selfID {
			continue
		}
		b.table.Upsert(p.PeerID, p.Endpoint, p.Load, p.Capabilities, protocolVersion)
	}
}
