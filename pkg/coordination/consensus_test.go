package coordination

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
)

// fixedEmbedder maps known summaries to fixed vectors so pairwise cosine is
// controllable from the test.
type fixedEmbedder struct {
	vectors map[string][]float32
}

func (f *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

func verifierServer(t *testing.T, summary string, approved bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req contracts.VerificationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(contracts.VerificationResponse{
			RequestID:  req.RequestID,
			VerifierID: "verifier",
			Summary:    summary,
			Approved:   approved,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func consensusParams() ConsensusParams {
	return ConsensusParams{
		RequiredVerifiers:   3,
		RequiredConsensus:   2,
		SimilarityThreshold: 0.8,
		Deadline:            2 * time.Second,
	}
}

func settlement() *contracts.ProposedSettlement {
	return &contracts.ProposedSettlement{
		ID:        "stl-1",
		Statement: "alice shall paint and bob shall pay forty tokens",
		Value:     5000,
	}
}

func TestConsensusAccepted(t *testing.T) {
	a := verifierServer(t, "alice paints for bob", true)
	b := verifierServer(t, "bob pays alice to paint", true)

	table := newTable(t)
	table.Upsert("peer-a", a.URL, 1, nil, "1.0.0")
	table.Upsert("peer-b", b.URL, 2, nil, "1.0.0")

	embedder := &fixedEmbedder{vectors: map[string][]float32{
		"alice paints for bob":    {1, 0.1},
		"bob pays alice to paint": {1, 0.12},
	}}
	req := NewRequester(consensusParams(), table, embedder, "self", discard())

	outcome, err := req.Request(context.Background(), settlement())
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
	assert.Equal(t, 2, outcome.Approvals)
	assert.Zero(t, outcome.Abstentions)
	assert.GreaterOrEqual(t, outcome.MinSimilarity, 0.8)
}

func TestConsensusRejectedOnDivergentSummaries(t *testing.T) {
	a := verifierServer(t, "summary one", true)
	b := verifierServer(t, "summary two", true)

	table := newTable(t)
	table.Upsert("peer-a", a.URL, 1, nil, "1.0.0")
	table.Upsert("peer-b", b.URL, 2, nil, "1.0.0")

	// Orthogonal vectors: approvals suffice but similarity fails.
	embedder := &fixedEmbedder{vectors: map[string][]float32{
		"summary one": {1, 0},
		"summary two": {0, 1},
	}}
	req := NewRequester(consensusParams(), table, embedder, "self", discard())

	outcome, err := req.Request(context.Background(), settlement())
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Approvals)
	assert.False(t, outcome.Accepted)
}

func TestConsensusRejectedOnInsufficientApprovals(t *testing.T) {
	a := verifierServer(t, "same summary", true)
	b := verifierServer(t, "same summary", false)

	table := newTable(t)
	table.Upsert("peer-a", a.URL, 1, nil, "1.0.0")
	table.Upsert("peer-b", b.URL, 2, nil, "1.0.0")

	req := NewRequester(consensusParams(), table, &fixedEmbedder{}, "self", discard())
	outcome, err := req.Request(context.Background(), settlement())
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Approvals)
	assert.False(t, outcome.Accepted)
}

func TestConsensusUnreachableVerifierAbstains(t *testing.T) {
	a := verifierServer(t, "fine", true)

	table := newTable(t)
	table.Upsert("peer-a", a.URL, 1, nil, "1.0.0")
	table.Upsert("peer-dead", "http://127.0.0.1:1", 2, nil, "1.0.0")

	params := consensusParams()
	params.RequiredConsensus = 2
	req := NewRequester(params, table, &fixedEmbedder{}, "self", discard())

	outcome, err := req.Request(context.Background(), settlement())
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Abstentions)
	assert.Equal(t, 1, outcome.Approvals)
	assert.False(t, outcome.Accepted)
}

func TestConsensusNoPeers(t *testing.T) {
	req := NewRequester(consensusParams(), newTable(t), &fixedEmbedder{}, "self", discard())
	outcome, err := req.Request(context.Background(), settlement())
	require.NoError(t, err)
	assert.False(t, outcome.Accepted)
	assert.Zero(t, outcome.VerifiersAsked)
}

func TestPickVerifiersPrefersLeastLoaded(t *testing.T) {
	table := newTable(t)
	table.Upsert("busy", "http://busy:9080", 90, nil, "1.0.0")
	table.Upsert("idle", "http://idle:9080", 5, nil, "1.0.0")
	table.Upsert("mid", "http://mid:9080", 40, nil, "1.0.0")
	table.Upsert("spare", "http://spare:9080", 50, nil, "1.0.0")

	params := consensusParams()
	params.RequiredVerifiers = 2
	req := NewRequester(params, table, &fixedEmbedder{}, "self", discard())

	picked := req.pickVerifiers()
	require.Len(t, picked, 2)
	assert.Equal(t, "idle", picked[0].PeerID)
	assert.Equal(t, "mid", picked[1].PeerID)
}
