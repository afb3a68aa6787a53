package handlers

import (
	"net/http"
	"strconv"
)

// Generations lists recent ledger entries. ?limit= is optional.
func (a *App) Generations(w http.ResponseWriter, r *http.Request) {
	if a.History == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "generation history requires DATABASE_URL")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := a.History.Recent(r.Context(), limit)
	if err != nil {
		a.Logger.Error().Err(err).Msg("http: list generations")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list generations")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": entries})
}
