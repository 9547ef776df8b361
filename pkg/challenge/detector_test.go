package challenge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/llm"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubChain struct {
	settlements []contracts.ProposedSettlement
	intents     map[string]*contracts.Intent
	challenges  []contracts.Challenge
}

func (s *stubChain) RecentSettlements(_ context.Context, _ int) ([]contracts.ProposedSettlement, error) {
	return s.settlements, nil
}

func (s *stubChain) FetchIntent(_ context.Context, hash string) (*contracts.Intent, error) {
	if in, ok := s.intents[hash]; ok {
		return in, nil
	}
	return nil, errors.New("not found")
}

func (s *stubChain) PostChallenge(_ context.Context, ch *contracts.Challenge) (string, error) {
	s.challenges = append(s.challenges, *ch)
	return "ch-1", nil
}

type cannedLLM struct {
	response string
}

func (c *cannedLLM) Chat(_ context.Context, _ []llm.Message) (string, error) {
	return c.response, nil
}

func (c *cannedLLM) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func fixtureChain() *stubChain {
	return &stubChain{
		settlements: []contracts.ProposedSettlement{
			{ID: "stl-own", MediatorID: "self", IntentHashA: "ha", IntentHashB: "hb", Statement: "x"},
			{ID: "stl-peer", MediatorID: "peer", IntentHashA: "ha", IntentHashB: "hb", Statement: "y"},
		},
		intents: map[string]*contracts.Intent{
			"ha": {Hash: "ha", Author: "alice", Prose: "sell the boat"},
			"hb": {Hash: "hb", Author: "bob", Prose: "buy a boat"},
		},
	}
}

func TestScanChallengesContradictions(t *testing.T) {
	ch := fixtureChain()
	model := &cannedLLM{response: `{"contradicts": true, "confidence": 0.92, "severity": "high", "reason": "settlement inverts the price"}`}
	d := NewDetector(ch, llm.NewContradictionDetector(model), "self", 0.8, discard())

	submitted := d.Scan(context.Background())
	assert.Equal(t, 1, submitted)
	require.Len(t, ch.challenges, 1)

	got := ch.challenges[0]
	assert.Equal(t, "stl-peer", got.SettlementID)
	assert.Equal(t, "self", got.ChallengerID)
	assert.Equal(t, "high", got.Severity)
	assert.InDelta(t, 0.92, got.Confidence, 1e-9)

	// Each settlement is audited at most once.
	assert.Zero(t, d.Scan(context.Background()))
	assert.Len(t, ch.challenges, 1)
}

func TestScanSkipsLowSignalFindings(t *testing.T) {
	cases := map[string]string{
		"no contradiction": `{"contradicts": false, "confidence": 0.95, "severity": "high", "reason": "fine"}`,
		"low confidence":   `{"contradicts": true, "confidence": 0.5, "severity": "high", "reason": "maybe"}`,
		"low severity":     `{"contradicts": true, "confidence": 0.95, "severity": "low", "reason": "nit"}`,
	}
	for name, response := range cases {
		t.Run(name, func(t *testing.T) {
			ch := fixtureChain()
			d := NewDetector(ch, llm.NewContradictionDetector(&cannedLLM{response: response}), "self", 0.8, discard())
			assert.Zero(t, d.Scan(context.Background()))
			assert.Empty(t, ch.challenges)
		})
	}
}

func TestScanSkipsUnavailableIntents(t *testing.T) {
	ch := fixtureChain()
	delete(ch.intents, "hb")
	model := &cannedLLM{response: `{"contradicts": true, "confidence": 0.99, "severity": "high", "reason": "r"}`}
	d := NewDetector(ch, llm.NewContradictionDetector(model), "self", 0.8, discard())

	assert.Zero(t, d.Scan(context.Background()))
	assert.Empty(t, ch.challenges)
}
