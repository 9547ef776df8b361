package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	signer, err := NewEd25519Signer()
	require.NoError(t, err)

	data := []byte("test payload")
	sig, err := signer.Sign(data)
	require.NoError(t, err)

	ok, err := Verify(signer.PublicKey(), sig, data)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(signer.PublicKey(), sig, []byte("tampered"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignEntryCanonicalOrder(t *testing.T) {
	signer, err := NewEd25519Signer()
	require.NoError(t, err)

	// Same logical entry with different map insertion order must produce
	// the same signature payload.
	a := map[string]any{"id": "s1", "author": "alice"}
	b := map[string]any{"author": "alice", "id": "s1"}

	sigA, err := signer.SignEntry(a)
	require.NoError(t, err)
	okB, err := VerifyEntry(signer.PublicKey(), sigA, b)
	require.NoError(t, err)
	assert.True(t, okB)
}

func TestPEMRoundTrip(t *testing.T) {
	signer, err := NewEd25519Signer()
	require.NoError(t, err)

	pemBytes, err := signer.PrivateKeyPEM()
	require.NoError(t, err)

	restored, err := NewEd25519SignerFromPEM(pemBytes)
	require.NoError(t, err)
	assert.Equal(t, signer.PublicKey(), restored.PublicKey())

	sig, err := restored.Sign([]byte("after restart"))
	require.NoError(t, err)
	ok, err := Verify(signer.PublicKey(), sig, []byte("after restart"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewEd25519SignerFromPEMRejectsGarbage(t *testing.T) {
	_, err := NewEd25519SignerFromPEM([]byte("not a pem"))
	assert.Error(t, err)
}

func TestBearerMinter(t *testing.T) {
	signer, err := NewEd25519Signer()
	require.NoError(t, err)

	minter := NewBearerMinter(signer, 0)
	token, err := minter.Mint("chain-main")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}
