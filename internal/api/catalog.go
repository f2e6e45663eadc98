package api

import (
	"encoding/json"
	"net/http"

	"github.com/careflow/careflow/internal/careflow"
)

// listTriggerTypes returns the trigger catalog rule builders render from.
// GET /api/catalog/triggers
func (s *Server) listTriggerTypes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(careflow.TriggerCatalog())
}

// listActionTypes returns the action catalog.
// GET /api/catalog/actions
func (s *Server) listActionTypes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(careflow.ActionCatalog())
}
