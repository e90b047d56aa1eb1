// Package tlsutil builds the server TLS configuration for the ledger API.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// ServerFiles names the PEM material for the listener. ClientCAFile is only needed
// when client certificates are verified.
type ServerFiles struct {
	CertFile     string
	KeyFile      string
	ClientCAFile string
}

// NewServerConfig loads the server key pair and, when a client CA bundle is given,
// verifies client certificates: always when requireClientCert is set, otherwise
// only if one is presented. Peer CNs surfaced this way feed the role fallback of
// the auth middleware.
func NewServerConfig(files ServerFiles, requireClientCert bool) (*tls.Config, error) {
	if files.CertFile == "" || files.KeyFile == "" {
		return nil, errors.New("server cert and key files must be provided")
	}

	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
	}

	cfg := &tls.Config{
		Certificates:  []tls.Certificate{cert},
		MinVersion:    tls.VersionTLS12,
		Renegotiation: tls.RenegotiateNever,
		ClientAuth:    tls.NoClientCert,
	}

	if files.ClientCAFile == "" {
		if requireClientCert {
			return nil, errors.New("client certificates required but no client CA file provided")
		}
		return cfg, nil
	}

	caPEM, err := os.ReadFile(files.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("read client CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("failed to parse client CA bundle")
	}
	cfg.ClientCAs = pool
	if requireClientCert {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return cfg, nil
}
