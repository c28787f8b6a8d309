// Package signer turns the CLI's --private-key seed into a signing
// identity for outbound transactions. spec.md §6 names the key as an
// "Ed25519 seed" in the ledger's StrKey-style encoding; no StrKey/Stellar
// SDK is available anywhere in the example pack, so the seed is accepted
// as raw hex (a simplification documented in DESIGN.md) and fed straight
// into crypto/ed25519.
package signer

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Signer holds an Ed25519 keypair and derives the agent's own on-chain
// address from its public key.
type Signer struct {
	priv ed25519.PrivateKey
	addr common.Address
}

// FromSeedHex parses a hex-encoded 32-byte Ed25519 seed.
func FromSeedHex(seedHex string) (*Signer, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("signer: decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signer: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	var addr common.Address
	copy(addr[:], pub[len(pub)-common.AddressLength:])

	return &Signer{priv: priv, addr: addr}, nil
}

// Address returns the agent's own on-chain identity, derived from the
// low-order bytes of the Ed25519 public key.
func (s *Signer) Address() common.Address { return s.addr }

// Sign produces a detached signature over payload.
func (s *Signer) Sign(payload []byte) []byte {
	return ed25519.Sign(s.priv, payload)
}
