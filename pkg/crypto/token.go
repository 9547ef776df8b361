package crypto

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BearerMinter issues short-lived EdDSA bearer tokens for the chain service.
// Signature-only auth remains mandatory on every entry; the bearer layer is
// additive for deployments whose chain endpoint also requires a session.
type BearerMinter struct {
	signer *Ed25519Signer
	ttl    time.Duration
}

// NewBearerMinter wraps a signer. ttl <= 0 defaults to 15 minutes.
func NewBearerMinter(signer *Ed25519Signer, ttl time.Duration) *BearerMinter {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &BearerMinter{signer: signer, ttl: ttl}
}

// Mint issues a token whose subject is the mediator's public key.
func (m *BearerMinter) Mint(chainID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   m.signer.PublicKey(),
		Audience:  jwt.ClaimStrings{chainID},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(m.signer.Private())
	if err != nil {
		return "", fmt.Errorf("mint bearer token: %w", err)
	}
	return signed, nil
}
