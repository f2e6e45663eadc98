package api

import (
	"encoding/json"
	"net/http"

	"github.com/careflow/careflow/internal/careflow"
)

// eventRequest is a clinic domain event posted by the EHR/CRM core.
type eventRequest struct {
	TriggerType careflow.TriggerType `json:"trigger_type"`
	PatientID   string               `json:"patient_id"`
	Payload     map[string]any       `json:"payload"`
	DedupeKey   string               `json:"dedupe_key"`
}

// ingestEvent accepts a domain event and runs every matching workflow
// synchronously, returning the resulting execution records.
// POST /api/events
func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	org := orgID(r)
	if org == "" {
		http.Error(w, "X-Organization-ID header is required", http.StatusBadRequest)
		return
	}

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TriggerType == "" {
		http.Error(w, "trigger_type is required", http.StatusBadRequest)
		return
	}
	if req.TriggerType.IsTimeTrigger() {
		http.Error(w, "time-based triggers fire from the scheduler, not events", http.StatusBadRequest)
		return
	}

	records := s.dispatcher.Dispatch(r.Context(), careflow.TriggerEvent{
		OrganizationID: org,
		TriggerType:    req.TriggerType,
		PatientID:      req.PatientID,
		Payload:        req.Payload,
		DedupeKey:      req.DedupeKey,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"executions": records})
}
