// Package chain provides typed HTTP access to the external ledger service.
//
// All POST bodies carry {entry, signature} where the signature covers the
// RFC 8785 canonical JSON of the entry. Transient failures retry with
// exponential backoff; duplicates surface as ConflictError.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/crypto"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/errs"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 500 * time.Millisecond
)

// Client is the mediator's view of the chain service.
type Client struct {
	endpoint    string
	chainID     string
	httpClient  *http.Client
	signer      crypto.Signer
	bearer      *crypto.BearerMinter
	logger      *slog.Logger
	maxAttempts int
	backoffBase time.Duration
	sleep       func(time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithBearer enables the additive bearer-token layer.
func WithBearer(minter *crypto.BearerMinter) Option {
	return func(c *Client) { c.bearer = minter }
}

// WithHTTPClient overrides the transport (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry overrides the retry policy.
func WithRetry(attempts int, base time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = attempts
		c.backoffBase = base
	}
}

// New creates a chain client. Every outbound call carries the timeout.
func New(endpoint, chainID string, signer crypto.Signer, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		endpoint:    endpoint,
		chainID:     chainID,
		httpClient:  &http.Client{Timeout: timeout},
		signer:      signer,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// signedBody is the envelope for all chain writes.
type signedBody struct {
	Entry     interface{} `json:"entry"`
	Signature string      `json:"signature"`
}

// FetchPendingIntents pulls open intents.
func (c *Client) FetchPendingIntents(ctx context.Context) ([]contracts.Intent, error) {
	var out struct {
		Intents []contracts.Intent `json:"intents"`
	}
	if err := c.get(ctx, "/api/v1/intents?status=pending", &out); err != nil {
		return nil, err
	}
	return out.Intents, nil
}

// FetchIntent retrieves one intent by hash.
func (c *Client) FetchIntent(ctx context.Context, hash string) (*contracts.Intent, error) {
	var out contracts.Intent
	if err := c.get(ctx, "/api/v1/intents/"+hash, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecentSettlements fetches the newest settlements for peer scanning.
func (c *Client) RecentSettlements(ctx context.Context, limit int) ([]contracts.ProposedSettlement, error) {
	var out struct {
		Settlements []contracts.ProposedSettlement `json:"settlements"`
	}
	if err := c.get(ctx, fmt.Sprintf("/api/v1/settlements/recent?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out.Settlements, nil
}

// SubmitSettlement posts a settlement. A duplicate (same canonical pair)
// returns ConflictError.
func (c *Client) SubmitSettlement(ctx context.Context, s *contracts.ProposedSettlement) (string, error) {
	var out struct {
		Accepted bool   `json:"accepted"`
		TxID     string `json:"txId"`
	}
	if err := c.post(ctx, "/api/v1/settlements", s, &out); err != nil {
		return "", err
	}
	if !out.Accepted {
		return "", &errs.ConflictError{Op: "SubmitSettlement", Reason: "settlement rejected by chain"}
	}
	return out.TxID, nil
}

// PostBurn records a burn. Returns the transaction ID.
func (c *Client) PostBurn(ctx context.Context, b *contracts.BurnRecord) (string, error) {
	var out struct {
		Success       bool   `json:"success"`
		TransactionID string `json:"transactionId"`
	}
	if err := c.post(ctx, "/api/v1/burns", b, &out); err != nil {
		return "", err
	}
	if !out.Success {
		return "", &errs.RemoteError{Endpoint: "/api/v1/burns", Err: fmt.Errorf("burn not recorded")}
	}
	return out.TransactionID, nil
}

// PostDeposit escrows an anti-Sybil deposit.
func (c *Client) PostDeposit(ctx context.Context, d *contracts.Deposit) error {
	return c.post(ctx, "/api/v1/deposits", d, nil)
}

// PostRefund records a deposit refund.
func (c *Client) PostRefund(ctx context.Context, d *contracts.Deposit) error {
	return c.post(ctx, "/api/v1/refunds", d, nil)
}

// PostForfeiture records a deposit forfeiture.
func (c *Client) PostForfeiture(ctx context.Context, d *contracts.Deposit) error {
	return c.post(ctx, "/api/v1/forfeitures", d, nil)
}

// PostChallenge submits a signed challenge. Returns the challenge ID.
func (c *Client) PostChallenge(ctx context.Context, ch *contracts.Challenge) (string, error) {
	var out struct {
		ChallengeID string `json:"challengeId"`
	}
	if err := c.post(ctx, "/api/v1/challenges", ch, &out); err != nil {
		return "", err
	}
	return out.ChallengeID, nil
}

// PostSpamProof submits a spam proof against a deposit.
func (c *Client) PostSpamProof(ctx context.Context, p *contracts.SpamProof) error {
	var out struct {
		Accepted bool `json:"accepted"`
	}
	if err := c.post(ctx, "/api/v1/spam-proofs", p, &out); err != nil {
		return err
	}
	if !out.Accepted {
		return &errs.ValidationError{Op: "PostSpamProof", Reason: "proof rejected"}
	}
	return nil
}

// PendingVerificationRequests polls the consensus inbox.
func (c *Client) PendingVerificationRequests(ctx context.Context) ([]contracts.VerificationRequest, error) {
	var out struct {
		Requests []contracts.VerificationRequest `json:"requests"`
	}
	if err := c.get(ctx, "/api/v1/verification-requests/pending", &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

// PostOutcome records an immutable resolution.
func (c *Client) PostOutcome(ctx context.Context, r *contracts.Resolution) error {
	return c.post(ctx, "/api/v1/outcomes", r, nil)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, entry interface{}, out interface{}) error {
	sig, err := c.signer.SignEntry(entry)
	if err != nil {
		return fmt.Errorf("sign entry for %s: %w", path, err)
	}
	body, err := json.Marshal(signedBody{Entry: entry, Signature: sig})
	if err != nil {
		return fmt.Errorf("marshal body for %s: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

// do executes one request with the retry policy. 409 maps to ConflictError
// and is never retried; 5xx and network failures retry with exponential
// backoff up to maxAttempts.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoffBase * time.Duration(1<<(attempt-1))
			c.sleep(backoff)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
		if err != nil {
			return fmt.Errorf("build request %s: %w", path, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.bearer != nil {
			token, err := c.bearer.Mint(c.chainID)
			if err != nil {
				return fmt.Errorf("mint bearer: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &errs.RemoteError{Endpoint: path, Err: err}
			continue
		}

		func() {
			defer func() { _ = resp.Body.Close() }()
			switch {
			case resp.StatusCode == http.StatusConflict:
				lastErr = &errs.ConflictError{Op: method + " " + path, Reason: "duplicate entry"}
			case resp.StatusCode >= 400:
				lastErr = &errs.RemoteError{Endpoint: path, Status: resp.StatusCode}
			default:
				if out != nil {
					if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
						lastErr = &errs.RemoteError{Endpoint: path, Err: fmt.Errorf("decode response: %w", err)}
						return
					}
				}
				lastErr = nil
			}
		}()

		if lastErr == nil {
			return nil
		}
		var re *errs.RemoteError
		if ok := asRemote(lastErr, &re); !ok || !re.Transient() {
			return lastErr
		}
		c.logger.Warn("chain call failed, retrying",
			"path", path, "attempt", attempt+1, "error", lastErr)
	}
	return lastErr
}

func asRemote(err error, target **errs.RemoteError) bool {
	re, ok := err.(*errs.RemoteError)
	if ok {
		*target = re
	}
	return ok
}
