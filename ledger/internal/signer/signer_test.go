package signer_test

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/signer"
)

func TestLocalSigner(t *testing.T) {
	s := signer.NewLocalSigner("test-signer")

	msg := []byte("hello world")
	sig, sid, err := s.Sign(msg)
	require.NoError(t, err)
	assert.Equal(t, "test-signer", sid)
	assert.Equal(t, "test-signer", s.ID())

	pub := s.PublicKey()
	require.Len(t, pub, ed25519.PublicKeySize)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(pub), msg, sig))
}

func TestSignerFromSeedIsStable(t *testing.T) {
	seed := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("s", ed25519.SeedSize)))

	a, err := signer.NewLocalSignerFromSeed("anchor", seed)
	require.NoError(t, err)
	b, err := signer.NewLocalSignerFromSeed("anchor", seed)
	require.NoError(t, err)
	assert.Equal(t, a.PublicKey(), b.PublicKey())

	sig, _, err := a.Sign([]byte("head"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(b.PublicKey(), []byte("head"), sig))
}

func TestSignerFromSeedRejectsBadInput(t *testing.T) {
	_, err := signer.NewLocalSignerFromSeed("x", "%%%")
	assert.Error(t, err)

	_, err = signer.NewLocalSignerFromSeed("x", base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}
