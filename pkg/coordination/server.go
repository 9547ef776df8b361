package coordination

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
)

// Verifier answers inbound consensus requests. The engine supplies one
// backed by the LLM paraphrase capability.
type Verifier interface {
	Verify(ctx context.Context, req *contracts.VerificationRequest) (*contracts.VerificationResponse, error)
}

// ServerHooks are the callbacks the engine wires into inbound gossip.
// Any nil hook means the message type is acknowledged and dropped.
type ServerHooks struct {
	OnSettlement        func(ctx context.Context, s *contracts.ProposedSettlement)
	OnConsensusResponse func(ctx context.Context, r *contracts.VerificationResponse)
}

// Server exposes the coordination mesh endpoints. Binds loopback by
// default; cross-origin browsers are refused unless the origin is
// allow-listed.
type Server struct {
	selfID   string
	peers    *PeerTable
	claims   *ClaimTable
	verifier Verifier
	hooks    ServerHooks
	origins  map[string]bool
	logger   *slog.Logger
	http     *http.Server
}

// NewServer builds the mesh server on listen (host:port).
func NewServer(listen, selfID string, peers *PeerTable, claims *ClaimTable, verifier Verifier, hooks ServerHooks, allowedOrigins []string, logger *slog.Logger) *Server {
	s := &Server{
		selfID:   selfID,
		peers:    peers,
		claims:   claims,
		verifier: verifier,
		hooks:    hooks,
		origins:  make(map[string]bool, len(allowedOrigins)),
		logger:   logger,
	}
	for _, o := range allowedOrigins {
		s.origins[o] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/coordination/message", s.handleMessage)
	mux.HandleFunc("GET /api/coordination/peers", s.handlePeers)
	mux.HandleFunc("POST /api/coordination/consensus", s.handleConsensus)
	s.http = &http.Server{
		Addr:              listen,
		Handler:           s.cors(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocks; run in its own goroutine.
func (s *Server) Start() error {
	s.logger.Info("coordination server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if !s.origins[origin] {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg contracts.CoordinationMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed message")
		return
	}
	if msg.SenderID == "" || msg.SenderID == s.selfID {
		writeError(w, http.StatusBadRequest, "invalid sender")
		return
	}

	ctx := r.Context()
	switch msg.Type {
	case contracts.MsgAnnounce, contracts.MsgHeartbeat:
		var p contracts.AnnouncePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			writeError(w, http.StatusBadRequest, "malformed announce payload")
			return
		}
		endpoint := p.Endpoint
		if endpoint == "" {
			endpoint = msg.Endpoint
		}
		if !s.peers.Upsert(msg.SenderID, endpoint, p.Load, p.Capabilities, p.ProtocolVersion) {
			writeError(w, http.StatusConflict, "protocol version not accepted")
			return
		}

	case contracts.MsgWorkClaim:
		var p contracts.ClaimPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			writeError(w, http.StatusBadRequest, "malformed claim payload")
			return
		}
		s.peers.Touch(msg.SenderID)
		accepted := s.claims.Observe(&contracts.WorkClaim{
			ClaimID:    p.ClaimID,
			MediatorID: p.MediatorID,
			KeyA:       p.KeyA,
			KeyB:       p.KeyB,
			ClaimedAt:  msg.SentAt,
			ExpiresAt:  time.UnixMilli(p.ExpiresAt),
		})
		if !accepted {
			s.logger.Debug("gossiped claim lost to local holder",
				"key_a", p.KeyA, "key_b", p.KeyB, "claimant", p.MediatorID)
		}

	case contracts.MsgWorkRelease:
		var p contracts.ClaimPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			writeError(w, http.StatusBadRequest, "malformed release payload")
			return
		}
		s.peers.Touch(msg.SenderID)
		s.claims.Release(p.KeyA, p.KeyB, p.MediatorID)

	case contracts.MsgSettlementBroadcast:
		var stl contracts.ProposedSettlement
		if err := json.Unmarshal(msg.Payload, &stl); err != nil {
			writeError(w, http.StatusBadRequest, "malformed settlement payload")
			return
		}
		s.peers.Touch(msg.SenderID)
		if s.hooks.OnSettlement != nil {
			s.hooks.OnSettlement(ctx, &stl)
		}

	case contracts.MsgConsensusResponse:
		var resp contracts.VerificationResponse
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			writeError(w, http.StatusBadRequest, "malformed consensus payload")
			return
		}
		s.peers.Touch(msg.SenderID)
		if s.hooks.OnConsensusResponse != nil {
			s.hooks.OnConsensusResponse(ctx, &resp)
		}

	case contracts.MsgLoadReport:
		var p contracts.LoadReportPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			writeError(w, http.StatusBadRequest, "malformed load payload")
			return
		}
		s.peers.SetLoad(msg.SenderID, p.Load)

	default:
		writeError(w, http.StatusBadRequest, "unknown message type")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.peers.List())
}

// handleConsensus is the direct request/response verification path used by
// semantic consensus requesters.
func (s *Server) handleConsensus(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		writeError(w, http.StatusNotImplemented, "verification not enabled")
		return
	}
	var req contracts.VerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed verification request")
		return
	}
	if req.RequestID == "" || req.Statement == "" {
		writeError(w, http.StatusBadRequest, "request id and statement required")
		return
	}
	resp, err := s.verifier.Verify(r.Context(), &req)
	if err != nil {
		s.logger.Warn("verification failed", "request_id", req.RequestID, "error", err)
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
