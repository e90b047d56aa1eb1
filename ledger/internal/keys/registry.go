// Package keys keeps the public keys of anchor signers so anchors can be checked
// without access to the signing key.
package keys

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// ErrUnknownSigner is returned when no key is registered under a signer id.
var ErrUnknownSigner = errors.New("keys: unknown signer")

// KeyInfo is the public metadata exposed for a signer.
type KeyInfo struct {
	SignerId  string    `json:"signerId"`
	Algorithm string    `json:"algorithm"` // e.g., "Ed25519"
	PublicKey string    `json:"publicKey"` // base64-encoded
	CreatedAt time.Time `json:"createdAt"`
}

// Ed25519 decodes the registered key.
func (k KeyInfo) Ed25519() (ed25519.PublicKey, error) {
	if k.Algorithm != "Ed25519" {
		return nil, fmt.Errorf("signer %s: unsupported algorithm %q", k.SignerId, k.Algorithm)
	}
	raw, err := base64.StdEncoding.DecodeString(k.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("signer %s: decode public key: %w", k.SignerId, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signer %s: public key has %d bytes", k.SignerId, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Lookup resolves signer ids to verification keys.
type Lookup interface {
	PublicKey(ctx context.Context, signerId string) (ed25519.PublicKey, error)
}

// Registry is a small in-memory registry of signer public keys.
// It is safe for concurrent access.
type Registry struct {
	mtx  sync.RWMutex
	keys map[string]KeyInfo
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		keys: make(map[string]KeyInfo),
	}
}

// AddSigner registers a signer with its public key bytes and algorithm.
// If the signerId already exists, it will overwrite the entry.
func (r *Registry) AddSigner(signerId string, pubKey []byte, algorithm string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.keys[signerId] = KeyInfo{
		SignerId:  signerId,
		Algorithm: algorithm,
		PublicKey: base64.StdEncoding.EncodeToString(pubKey),
		CreatedAt: time.Now().UTC(),
	}
}

// Load replaces entries with the given infos, typically read from Store.
func (r *Registry) Load(infos []KeyInfo) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for _, ki := range infos {
		r.keys[ki.SignerId] = ki
	}
}

// GetSigner returns a copy of KeyInfo for the given signerId and true, or nil,false if missing.
func (r *Registry) GetSigner(signerId string) (*KeyInfo, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	ki, ok := r.keys[signerId]
	if !ok {
		return nil, false
	}
	c := ki
	return &c, true
}

// PublicKey implements Lookup.
func (r *Registry) PublicKey(_ context.Context, signerId string) (ed25519.PublicKey, error) {
	ki, ok := r.GetSigner(signerId)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSigner, signerId)
	}
	return ki.Ed25519()
}

// ListSigners returns all signer infos ordered by id.
func (r *Registry) ListSigners() []KeyInfo {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	out := make([]KeyInfo, 0, len(r.keys))
	for _, v := range r.keys {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignerId < out[j].SignerId })
	return out
}

// StatusHandler returns an HTTP handler that exposes registry data as JSON.
// Response: { "signers": [ KeyInfo, ... ] }
func (r *Registry) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		signers := r.ListSigners()
		resp := map[string]interface{}{"signers": signers}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
