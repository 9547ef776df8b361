package coordination

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
)

// Embedder maps a summary to a vector for pairwise similarity checks.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ConsensusParams govern high-value settlement verification.
type ConsensusParams struct {
	RequiredVerifiers   int
	RequiredConsensus   int
	SimilarityThreshold float64
	Deadline            time.Duration
}

// ConsensusOutcome is the requester's verdict over the collected responses.
type ConsensusOutcome struct {
	RequestID      string  `json:"request_id"`
	Accepted       bool    `json:"accepted"`
	Approvals      int     `json:"approvals"`
	Abstentions    int     `json:"abstentions"`
	MinSimilarity  float64 `json:"min_similarity"`
	VerifiersAsked int     `json:"verifiers_asked"`
}

// Requester drives semantic consensus: it fans a verification request to N
// peers, waits out the deadline, and accepts only when enough approvals
// arrive and the returned paraphrases agree with each other.
type Requester struct {
	params     ConsensusParams
	table      *PeerTable
	embedder   Embedder
	selfID     string
	httpClient *http.Client
	logger     *slog.Logger
	clock      func() time.Time
}

// NewRequester wires the consensus requester.
func NewRequester(params ConsensusParams, table *PeerTable, embedder Embedder, selfID string, logger *slog.Logger) *Requester {
	return &Requester{
		params:     params,
		table:      table,
		embedder:   embedder,
		selfID:     selfID,
		httpClient: &http.Client{},
		logger:     logger,
		clock:      time.Now,
	}
}

// Request runs one verification round for the settlement. Peers that never
// answer inside the deadline count as abstentions.
func (r *Requester) Request(ctx context.Context, s *contracts.ProposedSettlement) (*ConsensusOutcome, error) {
	verifiers := r.pickVerifiers()
	outcome := &ConsensusOutcome{
		RequestID:      uuid.NewString(),
		VerifiersAsked: len(verifiers),
	}
	if len(verifiers) == 0 {
		return outcome, nil
	}

	req := contracts.VerificationRequest{
		RequestID:    outcome.RequestID,
		SettlementID: s.ID,
		RequesterID:  r.selfID,
		Statement:    s.Statement,
		Deadline:     r.clock().Add(r.params.Deadline),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithDeadline(ctx, req.Deadline)
	defer cancel()

	var mu sync.Mutex
	var responses []contracts.VerificationResponse
	var wg sync.WaitGroup
	for _, peer := range verifiers {
		wg.Add(1)
		go func(p contracts.Peer) {
			defer wg.Done()
			resp := r.ask(ctx, p.Endpoint, body)
			if resp == nil {
				return
			}
			mu.Lock()
			responses = append(responses, *resp)
			mu.Unlock()
		}(peer)
	}
	wg.Wait()

	outcome.Abstentions = len(verifiers) - len(responses)
	summaries := make([]string, 0, len(responses))
	for _, resp := range responses {
		if resp.Approved {
			outcome.Approvals++
		}
		if resp.Summary != "" {
			summaries = append(summaries, resp.Summary)
		}
	}

	outcome.MinSimilarity = 1
	if len(summaries) > 1 {
		minSim, err := r.minPairwiseSimilarity(ctx, summaries)
		if err != nil {
			r.logger.Warn("consensus similarity check failed", "request_id", req.RequestID, "error", err)
			return outcome, nil
		}
		outcome.MinSimilarity = minSim
	}

	outcome.Accepted = outcome.Approvals >= r.params.RequiredConsensus &&
		outcome.MinSimilarity >= r.params.SimilarityThreshold
	return outcome, nil
}

// pickVerifiers selects the least-loaded live peers, ties by peer ID.
func (r *Requester) pickVerifiers() []contracts.Peer {
	peers := r.table.List()
	eligible := peers[:0]
	for _, p := range peers {
		if p.PeerID != r.selfID && p.Endpoint != "" {
			eligible = append(eligible, p)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Load != eligible[j].Load {
			return eligible[i].Load < eligible[j].Load
		}
		return eligible[i].PeerID < eligible[j].PeerID
	})
	if len(eligible) > r.params.RequiredVerifiers {
		eligible = eligible[:r.params.RequiredVerifiers]
	}
	return eligible
}

func (r *Requester) ask(ctx context.Context, endpoint string, body []byte) *contracts.VerificationResponse {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/api/coordination/consensus", bytes.NewReader(body))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Debug("verifier unreachable", "endpoint", endpoint, "error", err)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var out contracts.VerificationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil
	}
	return &out
}

func (r *Requester) minPairwiseSimilarity(ctx context.Context, summaries []string) (float64, error) {
	vectors := make([][]float32, len(summaries))
	for i, s := range summaries {
		v, err := r.embedder.Embed(ctx, s)
		if err != nil {
			return 0, err
		}
		vectors[i] = v
	}
	min := 1.0
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			if sim := cosine(vectors[i], vectors[j]); sim < min {
				min = sim
			}
		}
	}
	return min, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
