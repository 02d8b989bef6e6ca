package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/querygate/querygate/internal/patterns"
)

const (
	defaultTopPatterns = 10
	maxTopPatterns     = 100
)

func (h *handlers) handleTopPatterns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Patterns == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PATTERNS_NOT_CONFIGURED", "pattern store is not configured", false, nil)
		return
	}
	k := defaultTopPatterns
	if raw := strings.TrimSpace(r.URL.Query().Get("k")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxTopPatterns {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_K", "k must be between 1 and 100", false, nil)
			return
		}
		k = parsed
	}

	top, err := h.deps.Patterns.TopPatterns(r.Context(), k)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "PATTERN_STORE_ERROR", "failed to list patterns", true, h.details(err))
		return
	}
	if top == nil {
		top = []patterns.Pattern{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": top})
}

func (h *handlers) handlePatternLookup(w http.ResponseWriter, r *http.Request) {
	if h.deps.Patterns == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PATTERNS_NOT_CONFIGURED", "pattern store is not configured", false, nil)
		return
	}
	key := patterns.Normalize(r.URL.Query().Get("q"))
	if key == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "q is required", false, nil)
		return
	}

	pattern, err := h.deps.Patterns.Lookup(r.Context(), key)
	if errors.Is(err, patterns.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "PATTERN_NOT_FOUND", "no pattern recorded for this question", false, map[string]any{"key": key})
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "PATTERN_STORE_ERROR", "failed to look up pattern", true, h.details(err))
		return
	}
	writeJSON(w, http.StatusOK, pattern)
}

func (h *handlers) handleSimilarPatterns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Patterns == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PATTERNS_NOT_CONFIGURED", "pattern store is not configured", false, nil)
		return
	}
	question := strings.TrimSpace(r.URL.Query().Get("q"))
	if patterns.Normalize(question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "q is required", false, nil)
		return
	}
	k := patterns.DefaultSimilarLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("k")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxTopPatterns {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_K", "k must be between 1 and 100", false, nil)
			return
		}
		k = parsed
	}

	matches, err := h.deps.Patterns.Similar(r.Context(), question, k)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "PATTERN_STORE_ERROR", "failed to find similar patterns", true, h.details(err))
		return
	}
	if matches == nil {
		matches = []patterns.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}
