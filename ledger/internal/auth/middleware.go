// Package auth extracts caller identity from requests and gates write
// endpoints on a validated bearer token and role.
package auth

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// key types for context values
type ctxKey string

const (
	ctxKeyAuthInfo ctxKey = "ledger.authInfo"
)

// AuthInfo holds extracted authentication information for the request.
type AuthInfo struct {
	// Peer service identity (from client cert CN) when using mTLS.
	PeerCN string

	// Raw bearer token (if provided). Populated before validation.
	BearerToken string

	// Subject (sub claim) from a validated token.
	Subject string

	// Issuer (iss claim) from a validated token.
	Issuer string

	// Roles from a validated token.
	Roles []string
}

// FromContext returns the AuthInfo stored in the request context, or nil.
func FromContext(ctx context.Context) *AuthInfo {
	v := ctx.Value(ctxKeyAuthInfo)
	if v == nil {
		return nil
	}
	if ai, ok := v.(*AuthInfo); ok {
		return ai
	}
	return nil
}

// WithAuthInfo returns a copy of ctx carrying ai.
func WithAuthInfo(ctx context.Context, ai *AuthInfo) context.Context {
	return context.WithValue(ctx, ctxKeyAuthInfo, ai)
}

// MiddlewareConfig configures identity extraction.
type MiddlewareConfig struct {
	// RequireMTLS rejects requests that present no client certificate.
	RequireMTLS bool
}

// NewMiddleware extracts the peer certificate CN and any Bearer token into the
// request context. It does not validate the token; see RequireBearer.
func NewMiddleware(cfg MiddlewareConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ai := &AuthInfo{}

			if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
				ai.PeerCN = certCommonName(r.TLS.PeerCertificates[0])
			} else if cfg.RequireMTLS {
				writeError(w, http.StatusUnauthorized, "mTLS required")
				return
			}

			if authz := r.Header.Get("Authorization"); authz != "" {
				if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
					ai.BearerToken = strings.TrimSpace(authz[7:])
				}
			}

			log.Debug().
				Str("peer_cn", ai.PeerCN).
				Bool("token_present", ai.BearerToken != "").
				Msg("auth: principal extracted")

			next.ServeHTTP(w, r.WithContext(WithAuthInfo(r.Context(), ai)))
		})
	}
}

func certCommonName(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	return cert.Subject.CommonName
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error": msg})
}
