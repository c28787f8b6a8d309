package signer

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSeedHex_ValidSeedDerivesStableAddress(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	seedHex := hex.EncodeToString(seed)

	s1, err := FromSeedHex(seedHex)
	require.NoError(t, err)
	s2, err := FromSeedHex(seedHex)
	require.NoError(t, err)

	assert.Equal(t, s1.Address(), s2.Address())
}

func TestFromSeedHex_WrongLengthErrors(t *testing.T) {
	_, err := FromSeedHex("aabb")
	assert.Error(t, err)
}

func TestFromSeedHex_InvalidHexErrors(t *testing.T) {
	_, err := FromSeedHex("not-hex")
	assert.Error(t, err)
}

func TestSign_ProducesVerifiableSignature(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	seedHex := hex.EncodeToString(seed)
	s, err := FromSeedHex(seedHex)
	require.NoError(t, err)

	msg := []byte("build_requests payload")
	sig := s.Sign(msg)
	pub := s.priv.Public().(ed25519.PublicKey)
	assert.True(t, ed25519.Verify(pub, msg, sig))
}
