// Package llm provides the language-model collaborator behind the
// Negotiator, Validator, Detector, and Embedder capabilities.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/errs"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the raw model interface. All capabilities are built on it.
type Client interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIClient speaks the OpenAI-compatible chat/embeddings API.
type OpenAIClient struct {
	endpoint       string
	apiKey         string
	model          string
	embeddingModel string
	maxTokens      int
	httpClient     *http.Client
	breaker        *circuitBreaker
	latency        *latencyRing
}

// NewOpenAIClient creates a client. endpoint is the API base (e.g.
// "https://api.openai.com/v1"); any OpenAI-compatible server works.
func NewOpenAIClient(endpoint, apiKey, model, embeddingModel string, maxTokens int, timeout time.Duration) *OpenAIClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		endpoint:       endpoint,
		apiKey:         apiKey,
		model:          model,
		embeddingModel: embeddingModel,
		maxTokens:      maxTokens,
		httpClient:     &http.Client{Timeout: timeout},
		breaker:        newCircuitBreaker(5, 30*time.Second),
		latency:        newLatencyRing(1000),
	}
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends the messages and returns the first choice's content.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if !c.breaker.Allow() {
		return "", &errs.RemoteError{Endpoint: "llm", Err: errors.New("circuit breaker open")}
	}
	start := time.Now()

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, MaxTokens: c.maxTokens})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}
	var out chatResponse
	if err := c.post(ctx, "/chat/completions", body, &out); err != nil {
		c.breaker.Failure()
		return "", err
	}
	c.breaker.Success()
	c.latency.Record(time.Since(start))

	if len(out.Choices) == 0 {
		return "", &errs.RemoteError{Endpoint: "llm", Err: errors.New("no choices returned")}
	}
	return out.Choices[0].Message.Content, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed maps prose to a vector.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.breaker.Allow() {
		return nil, &errs.RemoteError{Endpoint: "llm", Err: errors.New("circuit breaker open")}
	}
	start := time.Now()

	body, err := json.Marshal(embedRequest{Model: c.embeddingModel, Input: text})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal embed request: %w", err)
	}
	var out embedResponse
	if err := c.post(ctx, "/embeddings", body, &out); err != nil {
		c.breaker.Failure()
		return nil, err
	}
	c.breaker.Success()
	c.latency.Record(time.Since(start))

	if len(out.Data) == 0 {
		return nil, &errs.RemoteError{Endpoint: "llm", Err: errors.New("no embedding returned")}
	}
	return out.Data[0].Embedding, nil
}

// LatencyStats returns observed call latencies (bounded sample).
func (c *OpenAIClient) LatencyStats() (count int, avg time.Duration) {
	return c.latency.Stats()
}

func (c *OpenAIClient) post(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &errs.RemoteError{Endpoint: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &errs.RemoteError{Endpoint: path, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &errs.RemoteError{Endpoint: path, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// circuitBreaker is a minimal state machine guarding the provider.
type circuitBreaker struct {
	mu           sync.Mutex
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	open         bool
}

func newCircuitBreaker(threshold int, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, resetTimeout: timeout}
}

func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.open {
		return true
	}
	if time.Since(cb.lastFailure) > cb.resetTimeout {
		cb.open = false
		cb.failureCount = 0
		return true
	}
	return false
}

func (cb *circuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.open = false
}

func (cb *circuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.open = true
	}
}

// latencyRing keeps the last n latency samples.
type latencyRing struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
}

func newLatencyRing(n int) *latencyRing {
	return &latencyRing{samples: make([]time.Duration, n)}
}

func (r *latencyRing) Record(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[r.next] = d
	r.next = (r.next + 1) % len(r.samples)
	if r.next == 0 {
		r.full = true
	}
}

func (r *latencyRing) Stats() (int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := r.next
	if r.full {
		count = len(r.samples)
	}
	if count == 0 {
		return 0, 0
	}
	var total time.Duration
	for i := 0; i < count; i++ {
		total += r.samples[i]
	}
	return count, total / time.Duration(count)
}
