package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/careflow/careflow/internal/careflow"
	"github.com/careflow/careflow/internal/repository"
)

// createWorkflow creates a new automation workflow.
// POST /api/workflows
func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	org := orgID(r)
	if org == "" {
		http.Error(w, "X-Organization-ID header is required", http.StatusBadRequest)
		return
	}

	var wf careflow.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	wf.OrganizationID = org

	if err := s.workflowSvc.Create(r.Context(), &wf); err != nil {
		if errors.Is(err, careflow.ErrInvalidDefinition) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(wf)
}

// listWorkflows returns all workflows of the organization.
// GET /api/workflows
func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	org := orgID(r)
	if org == "" {
		http.Error(w, "X-Organization-ID header is required", http.StatusBadRequest)
		return
	}

	workflows, err := s.workflowSvc.List(r.Context(), org)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(workflows)
}

// getWorkflow returns a single workflow.
// GET /api/workflows/{id}
func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.loadWorkflow(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wf)
}

// updateWorkflow modifies an existing workflow.
// PUT /api/workflows/{id}
func (s *Server) updateWorkflow(w http.ResponseWriter, r *http.Request) {
	org := orgID(r)
	if org == "" {
		http.Error(w, "X-Organization-ID header is required", http.StatusBadRequest)
		return
	}

	var wf careflow.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	wf.ID = chi.URLParam(r, "id")
	wf.OrganizationID = org

	if err := s.workflowSvc.Update(r.Context(), &wf); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			http.Error(w, "workflow not found", http.StatusNotFound)
		case errors.Is(err, careflow.ErrInvalidDefinition):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wf)
}

// deleteWorkflow removes a workflow definition. Its execution history is
// retained.
// DELETE /api/workflows/{id}
func (s *Server) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	org := orgID(r)
	if org == "" {
		http.Error(w, "X-Organization-ID header is required", http.StatusBadRequest)
		return
	}

	if err := s.workflowSvc.Delete(r.Context(), org, chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "workflow not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toggleWorkflow flips the active flag.
// POST /api/workflows/{id}/toggle
func (s *Server) toggleWorkflow(w http.ResponseWriter, r *http.Request) {
	org := orgID(r)
	if org == "" {
		http.Error(w, "X-Organization-ID header is required", http.StatusBadRequest)
		return
	}

	wf, err := s.workflowSvc.Toggle(r.Context(), org, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "workflow not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wf)
}

// testRequest is the body for both test endpoints: synthetic context plus,
// for drafts, an inline definition.
type testRequest struct {
	Definition *careflow.WorkflowDefinition `json:"definition,omitempty"`
	Context    map[string]any               `json:"context"`
}

// testWorkflow dry-runs a stored workflow against synthetic context.
// POST /api/workflows/{id}/test
func (s *Server) testWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.loadWorkflow(w, r)
	if !ok {
		return
	}

	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result := s.harness.TestWorkflow(r.Context(), wf, req.Context)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// testDraftWorkflow dry-runs an unsaved definition, so rule authors can
// iterate before creating anything.
// POST /api/workflows/test
func (s *Server) testDraftWorkflow(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Definition == nil {
		http.Error(w, "definition is required", http.StatusBadRequest)
		return
	}

	result := s.harness.TestWorkflow(r.Context(), req.Definition, req.Context)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// loadWorkflow resolves {id} within the request's organization, writing
// the error response itself when that fails.
func (s *Server) loadWorkflow(w http.ResponseWriter, r *http.Request) (*careflow.WorkflowDefinition, bool) {
	org := orgID(r)
	if org == "" {
		http.Error(w, "X-Organization-ID header is required", http.StatusBadRequest)
		return nil, false
	}

	wf, err := s.workflowSvc.Get(r.Context(), org, chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return nil, false
	}
	return wf, true
}
