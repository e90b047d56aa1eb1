package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a JWT cannot be parsed, is expired or fails a
// configured check.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// ErrNoKeyMaterial is returned by NewVerifier when neither a secret nor a public
// key is configured.
var ErrNoKeyMaterial = errors.New("auth: no token key configured")

// Claims is the accepted token payload. Roles may arrive as a single `role`
// string, a `roles` array, or both.
type Claims struct {
	jwt.RegisteredClaims
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// AllRoles merges role and roles without duplicates.
func (c *Claims) AllRoles() []string {
	out := make([]string, 0, len(c.Roles)+1)
	seen := make(map[string]bool)
	for _, r := range append([]string{c.Role}, c.Roles...) {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// VerifierConfig holds token validation settings.
type VerifierConfig struct {
	// HMACSecret enables HS256 tokens.
	HMACSecret string
	// PublicKeyFile is a PEM RSA public key enabling RS256 tokens.
	PublicKeyFile string
	// Issuer and Audience are enforced when non-empty.
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier validates bearer tokens.
type Verifier struct {
	secret  []byte
	rsaKey  interface{}
	methods []string
	opts    []jwt.ParserOption
}

// NewVerifier builds a Verifier from cfg.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	v := &Verifier{}
	if cfg.HMACSecret != "" {
		v.secret = []byte(cfg.HMACSecret)
		v.methods = append(v.methods, jwt.SigningMethodHS256.Alg())
	}
	if cfg.PublicKeyFile != "" {
		data, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read token public key: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("parse token public key: %w", err)
		}
		v.rsaKey = key
		v.methods = append(v.methods, jwt.SigningMethodRS256.Alg())
	}
	if len(v.methods) == 0 {
		return nil, ErrNoKeyMaterial
	}

	v.opts = []jwt.ParserOption{jwt.WithValidMethods(v.methods), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		v.opts = append(v.opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		v.opts = append(v.opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Leeway > 0 {
		v.opts = append(v.opts, jwt.WithLeeway(cfg.Leeway))
	}
	return v, nil
}

// Verify parses and validates tokenString.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFor, v.opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func (v *Verifier) keyFor(t *jwt.Token) (interface{}, error) {
	switch t.Method.Alg() {
	case jwt.SigningMethodHS256.Alg():
		return v.secret, nil
	case jwt.SigningMethodRS256.Alg():
		return v.rsaKey, nil
	}
	return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
}

// RequireBearer rejects requests without a valid bearer token with 401 and
// records the token's subject, issuer and roles on the request's AuthInfo.
// It must run after NewMiddleware.
func RequireBearer(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ai := FromContext(r.Context())
			if ai == nil || ai.BearerToken == "" {
				writeError(w, http.StatusUnauthorized, "bearer token required")
				return
			}
			claims, err := v.Verify(ai.BearerToken)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuthInfo(r.Context(), &AuthInfo{
				PeerCN:      ai.PeerCN,
				BearerToken: ai.BearerToken,
				Subject:     claims.Subject,
				Issuer:      claims.Issuer,
				Roles:       claims.AllRoles(),
			})))
		})
	}
}
