package repository

import (
	"context"
	"log/slog"

	"github.com/careflow/careflow/internal/careflow"
	"github.com/careflow/careflow/internal/db"
)

// PersistentWorkflowRegistry wraps a MemoryWorkflowRegistry with a
// PostgreSQL backend. Writes go to both stores (DB failure is logged but
// non-fatal). Reads try memory first, falling back to the database.
// Definitions are read-mostly; last-writer-wins on update is acceptable.
type PersistentWorkflowRegistry struct {
	mem *MemoryWorkflowRegistry
	db  *db.DB
}

func NewPersistentWorkflowRegistry(mem *MemoryWorkflowRegistry, database *db.DB) *PersistentWorkflowRegistry {
	return &PersistentWorkflowRegistry{mem: mem, db: database}
}

func (r *PersistentWorkflowRegistry) Create(ctx context.Context, wf *careflow.WorkflowDefinition) error {
	_ = r.mem.Create(ctx, wf)
	if err := r.db.CreateWorkflow(ctx, wf); err != nil {
		slog.Warn("db create workflow failed, in-memory only", "err", err)
	}
	return nil
}

func (r *PersistentWorkflowRegistry) Get(ctx context.Context, orgID, id string) (*careflow.WorkflowDefinition, error) {
	wf, err := r.mem.Get(ctx, orgID, id)
	if err == nil {
		return wf, nil
	}

	dbWf, dbErr := r.db.GetWorkflow(ctx, orgID, id)
	if dbErr != nil {
		return nil, err // return original ErrNotFound
	}

	_ = r.mem.Create(ctx, dbWf)
	return dbWf, nil
}

func (r *PersistentWorkflowRegistry) List(ctx context.Context, orgID string) ([]*careflow.WorkflowDefinition, error) {
	wfs, err := r.db.ListWorkflows(ctx, orgID)
	if err == nil {
		return wfs, nil
	}
	slog.Warn("db list workflows failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx, orgID)
}

func (r *PersistentWorkflowRegistry) Update(ctx context.Context, wf *careflow.WorkflowDefinition) error {
	_ = r.mem.Update(ctx, wf)
	if err := r.db.UpdateWorkflow(ctx, wf); err != nil {
		slog.Warn("db update workflow failed, in-memory only", "err", err)
	}
	return nil
}

func (r *PersistentWorkflowRegistry) Delete(ctx context.Context, orgID, id string) error {
	_ = r.mem.Delete(ctx, orgID, id)
	if err := r.db.DeleteWorkflow(ctx, orgID, id); err != nil {
		slog.Warn("db delete workflow failed", "err", err)
	}
	return nil
}

func (r *PersistentWorkflowRegistry) ListActive(ctx context.Context, orgID string, trigger careflow.TriggerType) ([]*careflow.WorkflowDefinition, error) {
	wfs, err := r.db.ListActiveWorkflows(ctx, orgID, trigger)
	if err == nil {
		return wfs, nil
	}
	slog.Warn("db list active workflows failed, falling back to in-memory", "err", err)
	return r.mem.ListActive(ctx, orgID, trigger)
}

func (r *PersistentWorkflowRegistry) ListActiveTimeTriggers(ctx context.Context) ([]*careflow.WorkflowDefinition, error) {
	wfs, err := r.db.ListActiveTimeTriggerWorkflows(ctx)
	if err == nil {
		return wfs, nil
	}
	slog.Warn("db list time trigger workflows failed, falling back to in-memory", "err", err)
	return r.mem.ListActiveTimeTriggers(ctx)
}
