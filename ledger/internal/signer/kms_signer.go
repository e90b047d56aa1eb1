package signer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultKMSTimeout bounds each KMS call when KMSConfig.Timeout is zero.
const DefaultKMSTimeout = 5 * time.Second

// KMSConfig configures a KMSSigner.
type KMSConfig struct {
	Endpoint    string
	SignerID    string
	BearerToken string
	Timeout     time.Duration

	// Optional mTLS client identity and server CA bundle.
	CertFile string
	KeyFile  string
	CAFile   string
}

// KMSSigner delegates Ed25519 signing to an external KMS exposing
// POST /publicKey and POST /signData.
type KMSSigner struct {
	endpoint    string
	client      *http.Client
	signerId    string
	bearerToken string
	timeout     time.Duration
	publicKey   ed25519.PublicKey
}

// NewKMSSigner connects to the KMS and caches the signer's public key. Anchors are
// only useful when verifiable, so a KMS that cannot produce a key is an error.
func NewKMSSigner(ctx context.Context, cfg KMSConfig) (*KMSSigner, error) {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		return nil, errors.New("kms signer: endpoint required")
	}
	if cfg.SignerID == "" {
		return nil, errors.New("kms signer: signer id required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultKMSTimeout
	}

	tlsCfg, err := kmsTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	k := &KMSSigner{
		endpoint:    endpoint,
		client:      &http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}, Timeout: timeout},
		signerId:    cfg.SignerID,
		bearerToken: cfg.BearerToken,
		timeout:     timeout,
	}
	pk, err := k.fetchPublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("kms signer: fetch public key: %w", err)
	}
	k.publicKey = pk
	return k, nil
}

func kmsTLSConfig(cfg KMSConfig) (*tls.Config, error) {
	if cfg.CertFile == "" && cfg.KeyFile == "" && cfg.CAFile == "" {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("kms signer: load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	if cfg.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("kms signer: read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("kms signer: failed to parse CA bundle at %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// PublicKey returns the cached public key.
func (k *KMSSigner) PublicKey() []byte { return k.publicKey }

// ID returns the signer id.
func (k *KMSSigner) ID() string { return k.signerId }

// Sign requests a signature over hash from /signData. The returned signature is
// checked against the cached public key before it is accepted.
func (k *KMSSigner) Sign(hash []byte) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	req := map[string]string{
		"signerId": k.signerId,
		"data":     base64.StdEncoding.EncodeToString(hash),
	}
	var resp struct {
		Signature string `json:"signature"`
		Sig       string `json:"sig"`
		SignerID  string `json:"signerId"`
	}
	if err := k.postJSON(ctx, "/signData", req, &resp); err != nil {
		return nil, "", fmt.Errorf("kms signData: %w", err)
	}

	sigStr := resp.Signature
	if sigStr == "" {
		sigStr = resp.Sig
	}
	if sigStr == "" {
		return nil, "", errors.New("kms signData: no signature in response")
	}
	sig, err := base64.StdEncoding.DecodeString(sigStr)
	if err != nil {
		return nil, "", fmt.Errorf("kms signData: invalid base64 signature: %w", err)
	}
	if !ed25519.Verify(k.publicKey, hash, sig) {
		return nil, "", errors.New("kms signData: signature does not verify under the signer's public key")
	}

	sid := k.signerId
	if resp.SignerID != "" {
		sid = resp.SignerID
	}
	return sig, sid, nil
}

func (k *KMSSigner) fetchPublicKey(ctx context.Context) (ed25519.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	var resp struct {
		PublicKey string `json:"publicKey"`
	}
	if err := k.postJSON(ctx, "/publicKey", map[string]string{"signerId": k.signerId}, &resp); err != nil {
		return nil, err
	}
	if resp.PublicKey == "" {
		return nil, errors.New("empty publicKey in response")
	}
	pk, err := base64.StdEncoding.DecodeString(resp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode publicKey: %w", err)
	}
	if len(pk) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("publicKey must be %d bytes, got %d", ed25519.PublicKeySize, len(pk))
	}
	return ed25519.PublicKey(pk), nil
}

func (k *KMSSigner) postJSON(ctx context.Context, path string, in interface{}, out interface{}) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.endpoint+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if k.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+k.bearerToken)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("KMS HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
