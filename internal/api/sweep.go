package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// processAutomations runs one time-trigger sweep immediately. Deployments
// that drive scheduling from an external cron call this instead of relying
// on the in-process timer; dedupe keys make the two safe to combine.
// POST /api/automations/process
func (s *Server) processAutomations(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Sweep(r.Context(), time.Now()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

// processTimeTriggers is an alias kept for callers wired to the older path.
// POST /api/automations/process-time-triggers
func (s *Server) processTimeTriggers(w http.ResponseWriter, r *http.Request) {
	s.processAutomations(w, r)
}
