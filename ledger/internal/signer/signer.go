// Package signer signs chain-head hashes for anchoring.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Algorithm is the signature scheme produced by LocalSigner.
const Algorithm = "Ed25519"

// Signer defines the minimal signing abstraction used for chain anchors.
type Signer interface {
	// Sign signs the provided hash bytes and returns (signature, signerId, error).
	Sign(hash []byte) (sig []byte, signerId string, err error)

	// PublicKey returns the public key bytes for verification (nil if not supported).
	PublicKey() []byte

	// ID returns the logical signer identifier.
	ID() string
}

// LocalSigner is an in-process Ed25519 signer.
type LocalSigner struct {
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	signerId string
}

// NewLocalSigner creates a LocalSigner with a freshly generated keypair. Anchors it
// signs cannot be verified after a restart unless its public key was registered.
func NewLocalSigner(signerId string) *LocalSigner {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		// Generation should not fail in normal environments; panic to surface early.
		panic(err)
	}
	return &LocalSigner{priv: priv, pub: pub, signerId: signerId}
}

// NewLocalSignerFromSeed derives the keypair from a base64-encoded 32-byte seed so
// the same key survives restarts.
func NewLocalSignerFromSeed(signerId, seedB64 string) (*LocalSigner, error) {
	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(seedB64))
	if err != nil {
		return nil, fmt.Errorf("decode signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &LocalSigner{priv: priv, pub: priv.Public().(ed25519.PublicKey), signerId: signerId}, nil
}

// Sign implements Signer.Sign by signing the provided hash using Ed25519.
func (l *LocalSigner) Sign(hash []byte) ([]byte, string, error) {
	if l.priv == nil {
		return nil, "", errors.New("local signer: private key not initialized")
	}
	sig := ed25519.Sign(l.priv, hash)
	return sig, l.signerId, nil
}

// PublicKey returns the Ed25519 public key bytes.
func (l *LocalSigner) PublicKey() []byte {
	return l.pub
}

// ID returns the signer id.
func (l *LocalSigner) ID() string { return l.signerId }
