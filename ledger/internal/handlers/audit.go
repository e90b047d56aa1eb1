package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/archive"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/audit"
)

// POST /api/audit
// Accepts an audit event; action and module are mandatory.
// Response: 201 { ok, event }
func handleAuditPost(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in audit.EventInput
		if !decodeBody(w, r, d.MaxBodyBytes, &in) {
			return
		}
		if strings.TrimSpace(in.Action) == "" || strings.TrimSpace(in.Module) == "" {
			writeError(w, http.StatusBadRequest, "action and module are required")
			return
		}
		if in.Outcome != "" && !audit.ValidOutcome(in.Outcome) {
			writeError(w, http.StatusBadRequest, "outcome must be one of success, failure, warning")
			return
		}
		if in.Timestamp != "" {
			ts, err := audit.NormalizeTimestamp(in.Timestamp)
			if err != nil {
				writeError(w, http.StatusBadRequest, "timestamp must be ISO-8601 (RFC 3339, YYYY-MM-DDTHH:MM:SS as UTC, or YYYY-MM-DD)")
				return
			}
			in.Timestamp = ts
		}
		if in.IPAddress == "" {
			in.IPAddress = clientIP(r)
		}

		rec, err := d.Audit.Append(r.Context(), in)
		if err != nil {
			log.Error().Err(err).Msg("handlers.audit: append failed")
			writeError(w, http.StatusInternalServerError, "append audit event failed")
			return
		}

		afterAppend(d, KindAudit, rec.ID, rec)
		if d.Anchorer != nil {
			_ = d.Background.Go("anchor", func(ctx context.Context) error {
				return d.Anchorer.Anchor(ctx, rec)
			})
		}

		writeJSON(w, http.StatusCreated, map[string]interface{}{"ok": true, "event": rec})
	}
}

// afterAppend hands a stored record to archival and the event stream. Both are
// best-effort: their outcomes are dropped here and only logged by the workers.
func afterAppend(d Deps, kind, id string, rec archive.Archivable) {
	if d.Dispatcher != nil {
		_ = d.Dispatcher.Submit(kind, rec)
	}
	if d.Publisher != nil {
		_ = d.Background.Go("stream."+kind, func(ctx context.Context) error {
			return d.Publisher.Publish(ctx, kind, id, rec)
		})
	}
}

// GET /api/audit?from=&to=&limit=
// from/to are ISO-8601 instants or dates; results are newest first.
func handleAuditQuery(store *audit.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var f audit.Filter
		var err error
		if f.From, err = parseISO(q.Get("from")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
			return
		}
		if f.To, err = parseISO(q.Get("to")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
			return
		}
		if f.Limit, err = parseLimit(q.Get("limit")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}

		events, err := store.Query(r.Context(), f)
		if err != nil {
			log.Error().Err(err).Msg("handlers.audit: query failed")
			writeError(w, http.StatusInternalServerError, "query audit log failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "events": events})
	}
}

// GET /api/audit/verify
// Response: { ok, valid, n } or { ok, valid:false, atIndex, message, reason }
func handleAuditVerify(store *audit.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := store.Verify(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("handlers.audit: verify failed")
			writeError(w, http.StatusInternalServerError, "verify audit log failed")
			return
		}
		body := map[string]interface{}{"ok": true, "valid": res.Valid}
		if res.Valid {
			body["n"] = res.N
		} else {
			body["atIndex"] = res.AtIndex
			body["message"] = res.Message
			body["reason"] = res.Reason
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// parseISO accepts the same forms as stored record timestamps.
func parseISO(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := audit.ParseTimestamp(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// decodeBody decodes a JSON request body of at most limit bytes, keeping numbers
// exact. It writes the error response itself and reports whether v was filled.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v interface{}) bool {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}

// clientIP returns the caller address; RealIP has already applied proxy headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
