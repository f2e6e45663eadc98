// Package repository defines storage interfaces for domain entities.
package repository

import (
	"context"
	"errors"

	"github.com/careflow/careflow/internal/careflow"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// WorkflowRegistry abstracts workflow definition persistence so callers
// don't need to know whether storage is in-memory, PostgreSQL, or a mix.
// All reads are scoped to one organization; there is no cross-tenant
// visibility.
type WorkflowRegistry interface {
	Create(ctx context.Context, wf *careflow.WorkflowDefinition) error
	Get(ctx context.Context, orgID, id string) (*careflow.WorkflowDefinition, error)
	List(ctx context.Context, orgID string) ([]*careflow.WorkflowDefinition, error)
	Update(ctx context.Context, wf *careflow.WorkflowDefinition) error
	Delete(ctx context.Context, orgID, id string) error

	// ListActive returns the active workflows the dispatcher matches for
	// one (organization, trigger type) pair.
	ListActive(ctx context.Context, orgID string, trigger careflow.TriggerType) ([]*careflow.WorkflowDefinition, error)
	// ListActiveTimeTriggers returns every active time-based workflow
	// across all organizations, for scheduler sweeps.
	ListActiveTimeTriggers(ctx context.Context) ([]*careflow.WorkflowDefinition, error)
}
