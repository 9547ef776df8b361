package contracts

import (
	"encoding/json"
	"time"
)

// Peer is one known mediator in the coordination mesh.
// PeerID is the peer's public key. A peer unseen for twice the heartbeat
// interval is dropped from the directory.
type Peer struct {
	PeerID       string    `json:"peer_id"`
	Endpoint     string    `json:"endpoint"`
	LastSeen     time.Time `json:"last_seen"`
	Reputation   float64   `json:"reputation"`
	Load         float64   `json:"load"` // [0,100]
	Capabilities []string  `json:"capabilities,omitempty"`
}

// Coordination message types exchanged over the peer mesh.
const (
	MsgAnnounce            = "announce"
	MsgHeartbeat           = "heartbeat"
	MsgWorkClaim           = "work_claim"
	MsgWorkRelease         = "work_release"
	MsgSettlementBroadcast = "settlement_broadcast"
	MsgConsensusRequest    = "consensus_request"
	MsgConsensusResponse   = "consensus_response"
	MsgLoadReport          = "load_report"
)

// CoordinationMessage is the envelope for all peer-mesh traffic.
type CoordinationMessage struct {
	Type     string          `json:"type"`
	SenderID string          `json:"sender_id"`
	Endpoint string          `json:"endpoint,omitempty"`
	SentAt   time.Time       `json:"sent_at"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ClaimPayload is the body of work_claim and work_release messages.
type ClaimPayload struct {
	ClaimID    string `json:"claim_id"`
	KeyA       string `json:"key_a"`
	KeyB       string `json:"key_b"`
	MediatorID string `json:"mediator_id"`
	ExpiresAt  int64  `json:"expires_at"` // Unix ms
}

// AnnouncePayload is the body of announce and heartbeat messages.
type AnnouncePayload struct {
	Endpoint        string   `json:"endpoint"`
	Load            float64  `json:"load"`
	Capabilities    []string `json:"capabilities,omitempty"`
	ProtocolVersion string   `json:"protocol_version"`
}

// LoadReportPayload advertises a peer's current load.
type LoadReportPayload struct {
	Load float64 `json:"load"`
}
