// Package crypto provides the mediator's identity: Ed25519 signing over
// canonical JSON, PEM key handling, and content hashing.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/canonicalize"
)

const (
	pemTypePrivate = "PRIVATE KEY"
	pemTypePublic  = "PUBLIC KEY"
)

// Signer signs canonical JSON payloads on behalf of the mediator.
type Signer interface {
	Sign(data []byte) (string, error)
	SignEntry(entry interface{}) (string, error)
	PublicKey() string
	PublicKeyBytes() []byte
}

// Ed25519Signer is the default Signer implementation.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub}, nil
}

// NewEd25519SignerFromPEM parses a PKCS#8 PEM private key.
func NewEd25519SignerFromPEM(pemBytes []byte) (*Ed25519Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != pemTypePrivate {
		return nil, fmt.Errorf("no %s PEM block found", pemTypePrivate)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want ed25519", key)
	}
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// PrivateKeyPEM serializes the private key as PKCS#8 PEM.
func (s *Ed25519Signer) PrivateKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(s.privKey)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePrivate, Bytes: der}), nil
}

// PublicKeyPEM serializes the public key as PKIX PEM.
func (s *Ed25519Signer) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(s.pubKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePublic, Bytes: der}), nil
}

// Sign signs raw bytes and returns the hex signature.
func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	sig := ed25519.Sign(s.privKey, data)
	return hex.EncodeToString(sig), nil
}

// SignEntry signs the RFC 8785 canonical JSON of entry. This is the payload
// format the chain service verifies.
func (s *Ed25519Signer) SignEntry(entry interface{}) (string, error) {
	payload, err := canonicalize.JCS(entry)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}
	return s.Sign(payload)
}

// PublicKey returns the hex public key. This doubles as the mediator ID.
func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

// Private returns the underlying key for subsystems that need it directly
// (bearer-token minting).
func (s *Ed25519Signer) Private() ed25519.PrivateKey {
	return s.privKey
}

// Verify checks a hex signature against a hex public key.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}

// VerifyEntry checks an entry signature against its canonical JSON form.
func VerifyEntry(pubKeyHex, sigHex string, entry interface{}) (bool, error) {
	payload, err := canonicalize.JCS(entry)
	if err != nil {
		return false, fmt.Errorf("canonicalize entry: %w", err)
	}
	return Verify(pubKeyHex, sigHex, payload)
}
