package api

import (
	"net/http"

	"github.com/hackgods/telehealth-scheduling/internal/settings"
)

func (h *handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	if !actorFrom(r).IsAdmin() {
		handleError(w, h.log, settings.ErrForbidden)
		return
	}

	s, err := h.settings.Current(r.Context())
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settings.Settings
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, h.log, err)
		return
	}

	s, err := h.settings.Update(r.Context(), actorFrom(r), req)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
