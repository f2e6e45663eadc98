package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/careflow/careflow/internal/repository"
)

// listWorkflowExecutions returns the execution history of one workflow,
// newest-first.
// GET /api/workflows/{id}/executions?limit=&offset=&status=
func (s *Server) listWorkflowExecutions(w http.ResponseWriter, r *http.Request) {
	org := orgID(r)
	if org == "" {
		http.Error(w, "X-Organization-ID header is required", http.StatusBadRequest)
		return
	}

	limit, offset := parsePagination(r)
	records, total, err := s.historySvc.ListForWorkflow(r.Context(), org, chi.URLParam(r, "id"),
		limit, offset, r.URL.Query().Get("status"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "workflow not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"executions": records,
		"total":      total,
	})
}

// listExecutions returns execution history across the whole organization,
// including workflows that have since been deleted.
// GET /api/executions?limit=&offset=&status=
func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	org := orgID(r)
	if org == "" {
		http.Error(w, "X-Organization-ID header is required", http.StatusBadRequest)
		return
	}

	limit, offset := parsePagination(r)
	records, total, err := s.historySvc.ListForOrganization(r.Context(), org,
		limit, offset, r.URL.Query().Get("status"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"executions": records,
		"total":      total,
	})
}

// parsePagination reads limit/offset query params with sane bounds.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
