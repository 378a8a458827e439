package api

import (
	"fmt"
	"net/http"
	"strings"
)

// AssetByID dispatches the asset routes:
//
//	GET  /api/assets/{id}
//	POST /api/assets/{id}/views
func (h *Handler) AssetByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/assets/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("asset id is required"))
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		asset, err := h.Store.GetAsset(r.Context(), parts[0])
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, toAssetResponse(asset))
	case len(parts) == 2 && parts[1] == "views":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		if err := h.Store.IncrementViews(r.Context(), parts[0]); err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown asset route"))
	}
}
