package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/metrics"
)

// POST /api/metrics
// Response: 201 { ok, point }
func handleMetricsPost(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in metrics.PointInput
		if !decodeBody(w, r, d.MaxBodyBytes, &in) {
			return
		}

		p, err := d.Metrics.Append(r.Context(), in)
		if err != nil {
			log.Error().Err(err).Msg("handlers.metrics: append failed")
			writeError(w, http.StatusInternalServerError, "append metric point failed")
			return
		}
		afterAppend(d, KindMetrics, p.ID, p)

		writeJSON(w, http.StatusCreated, map[string]interface{}{"ok": true, "point": p})
	}
}

// GET /api/metrics?from=&to=&limit=
// from/to are epoch milliseconds.
func handleMetricsQuery(store *metrics.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var f metrics.Filter
		var err error
		if f.From, err = parseMillis(q.Get("from")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
		if f.To, err = parseMillis(q.Get("to")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to")
			return
		}
		if f.Limit, err = parseLimit(q.Get("limit")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}

		points, err := store.Query(r.Context(), f)
		if err != nil {
			log.Error().Err(err).Msg("handlers.metrics: query failed")
			writeError(w, http.StatusInternalServerError, "query metrics log failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "points": points})
	}
}

func parseMillis(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
