package services

import (
	"context"
	"time"

	"github.com/careflow/careflow/internal/careflow"
	"github.com/careflow/careflow/internal/repository"
)

// WorkflowService manages workflow definition lifecycle. Every write goes
// through validation so configuration errors are rejected at the boundary,
// never discovered mid-execution.
type WorkflowService struct {
	registry repository.WorkflowRegistry
}

func NewWorkflowService(registry repository.WorkflowRegistry) *WorkflowService {
	return &WorkflowService{registry: registry}
}

// Create validates and persists a new workflow definition.
func (s *WorkflowService) Create(ctx context.Context, wf *careflow.WorkflowDefinition) error {
	if err := careflow.ValidateDefinition(wf); err != nil {
		return err
	}

	now := time.Now()
	wf.ID = careflow.GenerateID("wf")
	wf.CreatedAt = now
	wf.UpdatedAt = now
	return s.registry.Create(ctx, wf)
}

// Get retrieves one workflow, scoped to the organization.
func (s *WorkflowService) Get(ctx context.Context, orgID, id string) (*careflow.WorkflowDefinition, error) {
	return s.registry.Get(ctx, orgID, id)
}

// List returns all workflows of the organization.
func (s *WorkflowService) List(ctx context.Context, orgID string) ([]*careflow.WorkflowDefinition, error) {
	return s.registry.List(ctx, orgID)
}

// Update validates and persists changes to an existing workflow.
// Updates are last-writer-wins; definitions are read-mostly.
func (s *WorkflowService) Update(ctx context.Context, wf *careflow.WorkflowDefinition) error {
	existing, err := s.registry.Get(ctx, wf.OrganizationID, wf.ID)
	if err != nil {
		return err
	}
	if err := careflow.ValidateDefinition(wf); err != nil {
		return err
	}

	wf.CreatedAt = existing.CreatedAt
	wf.UpdatedAt = time.Now()
	return s.registry.Update(ctx, wf)
}

// Toggle flips the active flag, soft-disabling or re-enabling a workflow
// without losing its definition or history.
func (s *WorkflowService) Toggle(ctx context.Context, orgID, id string) (*careflow.WorkflowDefinition, error) {
	wf, err := s.registry.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	wf.IsActive = !wf.IsActive
	wf.UpdatedAt = time.Now()
	if err := s.registry.Update(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// Delete removes the definition. Execution history is never deleted with
// it; records are immutable audit facts.
func (s *WorkflowService) Delete(ctx context.Context, orgID, id string) error {
	return s.registry.Delete(ctx, orgID, id)
}
