// Package handlers is the ledger's HTTP surface: event and point capture, chain
// verification, archive status and anchor verification.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/anchor"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/archive"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/audit"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/auth"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/besteffort"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/metrics"
)

// Archive kinds used by the gateway.
const (
	KindAudit   = "audit"
	KindMetrics = "metrics"
)

// Publisher emits stored records to the event stream.
type Publisher interface {
	Publish(ctx context.Context, kind, id string, v interface{}) error
}

// RecordAnchorer witnesses a stored audit record outside the log.
type RecordAnchorer interface {
	Anchor(ctx context.Context, rec *audit.Record) error
}

// AnchorVerifier cross-checks recorded anchors against the log.
type AnchorVerifier interface {
	Verify(ctx context.Context, log anchor.Walker) (*anchor.Report, error)
}

// Pinger reports readiness of an external dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AuthOptions gates write endpoints. A nil Verifier leaves them open.
type AuthOptions struct {
	Verifier    *auth.Verifier
	RBAC        bool
	RequireMTLS bool
}

// Deps are the collaborators of the router. Audit, Metrics and Archive are
// required; the rest are optional and disable their feature when nil.
type Deps struct {
	Audit   *audit.Store
	Metrics *metrics.Store
	// Archive backs the status endpoint even when archival of new records is off.
	Archive *archive.Archive
	// Dispatcher archives new records; nil disables archival.
	Dispatcher *archive.Dispatcher

	Publisher      Publisher
	Anchorer       RecordAnchorer
	AnchorVerifier AnchorVerifier
	Keys           http.Handler
	Ready          []Pinger

	// Background runs stream and anchor follow-ups. NewRouter creates a default
	// group when it is nil.
	Background *besteffort.Group

	// MaxBodyBytes caps POST bodies; <= 0 selects DefaultMaxBodyBytes.
	MaxBodyBytes int64

	Auth        AuthOptions
	CORSOrigins []string
}

// DefaultMaxBodyBytes caps POST bodies when Deps.MaxBodyBytes is unset.
const DefaultMaxBodyBytes int64 = 1 << 20

// NewRouter wires the ledger routes.
func NewRouter(d Deps) http.Handler {
	if d.Background == nil {
		d.Background = besteffort.New(besteffort.Config{})
	}
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: d.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}).Handler)
	}
	r.Use(auth.NewMiddleware(auth.MiddlewareConfig{RequireMTLS: d.Auth.RequireMTLS}))

	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady(d.Ready))

	r.Route("/api", func(r chi.Router) {
		r.Get("/audit", handleAuditQuery(d.Audit))
		r.Get("/audit/verify", handleAuditVerify(d.Audit))
		r.Get("/audit/archive/status", handleArchiveStatus(d.Archive, d.Dispatcher != nil))
		r.Get("/audit/anchors/verify", handleAnchorsVerify(d.AnchorVerifier, d.Audit))
		r.Get("/metrics", handleMetricsQuery(d.Metrics))

		if d.Keys != nil {
			r.Method(http.MethodGet, "/security/keys", d.Keys)
		}

		r.With(gate(d.Auth, auth.RoleAdmin, auth.RoleQualityApprover, auth.RoleSystem)...).
			Post("/audit", handleAuditPost(d))
		r.With(gate(d.Auth, auth.RoleAdmin, auth.RoleSystem)...).
			Post("/metrics", handleMetricsPost(d))
	})

	return r
}

// gate returns the middleware chain for a write endpoint.
func gate(opts AuthOptions, roles ...string) []func(http.Handler) http.Handler {
	if opts.Verifier == nil {
		return nil
	}
	chain := []func(http.Handler) http.Handler{auth.RequireBearer(opts.Verifier)}
	if opts.RBAC {
		chain = append(chain, auth.RequireAnyRole(roles...))
	}
	return chain
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("http request")
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "ts": time.Now().UTC()})
}

func handleReady(deps []Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, p := range deps {
			if err := p.Ping(ctx); err != nil {
				log.Warn().Err(err).Msg("handlers.ready: dependency not ready")
				writeError(w, http.StatusServiceUnavailable, "not ready")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
	}
}

// helper JSON writer
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]interface{}{"ok": false, "error": msg})
}
