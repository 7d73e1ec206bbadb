// Package signer wraps raw keys and external wallets into the uniform
// signing capability the session layer consumes.
package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Type classifies the signing capability.
type Type string

const (
	// TypeKeyPair is a plain key-pair signer.
	TypeKeyPair Type = "key-pair"
	// TypeContract is a signer backed by on-chain code. Signature
	// verification for these is chain-scoped.
	TypeContract Type = "contract"
)

// Signer is the uniform signing capability.
type Signer interface {
	// Identity returns the lower-cased address-like identifier.
	Identity() string
	Sign(ctx context.Context, message []byte) ([]byte, error)
	Type() Type
	// ChainID is 0 for key-pair signers.
	ChainID() int64
}

// RawKeySigner signs with a locally held private key.
type RawKeySigner struct {
	priv     ed25519.PrivateKey
	identity string
}

// NewRawKey wraps a raw private key.
func NewRawKey(priv ed25519.PrivateKey) (*RawKeySigner, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length %d", len(priv))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &RawKeySigner{priv: priv, identity: addressFromPub(pub)}, nil
}

// GenerateKey creates a fresh ephemeral key-pair signer.
func GenerateKey() (*RawKeySigner, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewRawKey(priv)
}

// Identity returns the address derived from the public key.
func (s *RawKeySigner) Identity() string { return s.identity }

// Sign signs the message with the raw key.
func (s *RawKeySigner) Sign(_ context.Context, message []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, message), nil
}

// Type always reports a plain key pair.
func (s *RawKeySigner) Type() Type { return TypeKeyPair }

// ChainID is 0: key-pair signatures are not chain-scoped.
func (s *RawKeySigner) ChainID() int64 { return 0 }

// addressFromPub derives the 20-byte address-like identifier from a public
// key: last 20 bytes of the legacy keccak-256 digest, hex, lower-cased.
func addressFromPub(pub ed25519.PublicKey) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub)
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:])
}
