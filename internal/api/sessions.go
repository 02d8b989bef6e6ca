package api

import (
	"net/http"
	"strconv"
	"strings"
)

func (h *handlers) handleSessionTurns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session manager is not configured", false, nil)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	sessionCtx, ok := h.deps.Sessions.Get(id)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session was not found", false, map[string]any{"session_id": id})
		return
	}

	n := sessionCtx.Cap()
	if raw := strings.TrimSpace(r.URL.Query().Get("n")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_N", "n must be a non-negative integer", false, nil)
			return
		}
		n = parsed
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"turns":      sessionCtx.RecentTurns(n),
	})
}

func (h *handlers) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session manager is not configured", false, nil)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if !h.deps.Sessions.Close(id) {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session was not found", false, map[string]any{"session_id": id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
