package services

import (
	"context"

	"github.com/careflow/careflow/internal/careflow"
	"github.com/careflow/careflow/internal/repository"
)

// ExecutionHistoryService exposes the ledger's read paths for audit and
// history endpoints.
type ExecutionHistoryService struct {
	registry repository.WorkflowRegistry
	ledger   repository.ExecutionLedger
}

func NewExecutionHistoryService(registry repository.WorkflowRegistry, ledger repository.ExecutionLedger) *ExecutionHistoryService {
	return &ExecutionHistoryService{registry: registry, ledger: ledger}
}

// ListForWorkflow returns executions of one workflow, newest-first. The
// workflow must belong to the organization; status filters when non-empty.
func (s *ExecutionHistoryService) ListForWorkflow(ctx context.Context, orgID, workflowID string, limit, offset int, status string) ([]*careflow.ExecutionRecord, int, error) {
	if _, err := s.registry.Get(ctx, orgID, workflowID); err != nil {
		return nil, 0, err
	}
	return s.ledger.ListByWorkflow(ctx, workflowID, limit, offset, status)
}

// ListForOrganization returns executions across all the organization's
// workflows, including workflows that have since been deleted.
func (s *ExecutionHistoryService) ListForOrganization(ctx context.Context, orgID string, limit, offset int, status string) ([]*careflow.ExecutionRecord, int, error) {
	return s.ledger.ListByOrganization(ctx, orgID, limit, offset, status)
}
