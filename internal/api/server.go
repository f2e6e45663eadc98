package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/careflow/careflow/internal/engine"
	"github.com/careflow/careflow/internal/services"
)

// Server is the thin HTTP adapter over the automation engine. Tenant
// resolution happens upstream; requests arrive with the organization in the
// X-Organization-ID header.
type Server struct {
	workflowSvc *services.WorkflowService
	historySvc  *services.ExecutionHistoryService
	dispatcher  *engine.Dispatcher
	harness     *engine.Harness
	scheduler   *services.TimeTriggerScheduler
}

func NewServer(workflowSvc *services.WorkflowService, historySvc *services.ExecutionHistoryService,
	dispatcher *engine.Dispatcher, harness *engine.Harness, scheduler *services.TimeTriggerScheduler) *Server {
	return &Server{
		workflowSvc: workflowSvc,
		historySvc:  historySvc,
		dispatcher:  dispatcher,
		harness:     harness,
		scheduler:   scheduler,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "X-Organization-ID"},
		AllowCredentials: true,
	}))
	r.Route("/api", func(r chi.Router) {
		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", s.createWorkflow)
			r.Get("/", s.listWorkflows)
			r.Post("/test", s.testDraftWorkflow)
			r.Get("/{id}", s.getWorkflow)
			r.Put("/{id}", s.updateWorkflow)
			r.Delete("/{id}", s.deleteWorkflow)
			r.Post("/{id}/toggle", s.toggleWorkflow)
			r.Post("/{id}/test", s.testWorkflow)
			r.Get("/{id}/executions", s.listWorkflowExecutions)
		})
		r.Get("/executions", s.listExecutions)
		r.Route("/catalog", func(r chi.Router) {
			r.Get("/triggers", s.listTriggerTypes)
			r.Get("/actions", s.listActionTypes)
		})
		r.Post("/events", s.ingestEvent)
		r.Post("/automations/process", s.processAutomations)
		r.Post("/automations/process-time-triggers", s.processTimeTriggers)
	})

	return r
}

// orgID extracts the tenant scope from the request. Empty means the
// upstream adapter did not resolve a tenant and the request is rejected.
func orgID(r *http.Request) string {
	return r.Header.Get("X-Organization-ID")
}
