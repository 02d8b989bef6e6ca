package api

import (
	"fmt"
	"net/http"

	"github.com/querygate/querygate/internal/schema"
)

func (h *handlers) currentSchema(r *http.Request) (*schema.Descriptor, error) {
	if h.deps.Schemas == nil {
		return nil, fmt.Errorf("schema cache is not configured")
	}
	return h.deps.Schemas.GetOrRefresh(r.Context(), h.deps.Source, h.cfg.Pipeline.SchemaMaxAge)
}

func (h *handlers) handleSchema(w http.ResponseWriter, r *http.Request) {
	descriptor, err := h.currentSchema(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", "schema could not be loaded", true, h.details(err))
		return
	}
	writeJSON(w, http.StatusOK, descriptor)
}

func (h *handlers) handleSchemaRefresh(w http.ResponseWriter, r *http.Request) {
	if h.deps.Schemas == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema cache is not configured", false, nil)
		return
	}
	descriptor, err := h.deps.Schemas.Refresh(r.Context(), h.deps.Source)
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_REFRESH_FAILED", "schema refresh failed", true, h.details(err))
		return
	}
	if h.deps.Logger != nil {
		h.deps.Logger.InfoContext(r.Context(), "schema_refreshed", "tables", len(descriptor.Tables))
	}
	writeJSON(w, http.StatusOK, descriptor)
}
