package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/archive"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/audit"
)

// GET /api/audit/archive/status
// Response: { ok, root, totalFiles, kinds, verify, enabled }
func handleArchiveStatus(a *archive.Archive, enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := a.Status(r.Context())
		if err != nil {
			log.Error().Err(err).Str("root", a.Root()).Msg("handlers.archive: status failed")
			writeError(w, http.StatusInternalServerError, "archive status failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":         true,
			"root":       st.Root,
			"totalFiles": st.TotalFiles,
			"kinds":      st.Kinds,
			"verify":     st.Verify,
			"enabled":    enabled,
		})
	}
}

// GET /api/audit/anchors/verify
// Response: { ok, enabled, valid, checked, logRecords, missing, badSignature }
func handleAnchorsVerify(v AnchorVerifier, store *audit.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if v == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "enabled": false})
			return
		}
		rep, err := v.Verify(r.Context(), store)
		if err != nil {
			log.Error().Err(err).Msg("handlers.anchors: verify failed")
			writeError(w, http.StatusInternalServerError, "anchor verification failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":           true,
			"enabled":      true,
			"valid":        rep.OK,
			"checked":      rep.Checked,
			"logRecords":   rep.LogRecords,
			"missing":      rep.Missing,
			"badSignature": rep.BadSignature,
		})
	}
}
