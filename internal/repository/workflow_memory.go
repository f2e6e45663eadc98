package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/careflow/careflow/internal/careflow"
)

// MemoryWorkflowRegistry stores workflow definitions in memory.
type MemoryWorkflowRegistry struct {
	mu        sync.RWMutex
	workflows map[string]*careflow.WorkflowDefinition
}

func NewMemoryWorkflowRegistry() *MemoryWorkflowRegistry {
	return &MemoryWorkflowRegistry{
		workflows: make(map[string]*careflow.WorkflowDefinition),
	}
}

func (r *MemoryWorkflowRegistry) Create(_ context.Context, wf *careflow.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *wf
	r.workflows[wf.ID] = &cp
	return nil
}

func (r *MemoryWorkflowRegistry) Get(_ context.Context, orgID, id string) (*careflow.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, ok := r.workflows[id]
	if !ok || wf.OrganizationID != orgID {
		return nil, fmt.Errorf("%w: workflow %s", ErrNotFound, id)
	}
	cp := *wf
	return &cp, nil
}

func (r *MemoryWorkflowRegistry) List(_ context.Context, orgID string) ([]*careflow.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*careflow.WorkflowDefinition
	for _, wf := range r.workflows {
		if wf.OrganizationID == orgID {
			cp := *wf
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (r *MemoryWorkflowRegistry) Update(_ context.Context, wf *careflow.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.workflows[wf.ID]
	if !ok || existing.OrganizationID != wf.OrganizationID {
		return fmt.Errorf("%w: workflow %s", ErrNotFound, wf.ID)
	}
	cp := *wf
	r.workflows[wf.ID] = &cp
	return nil
}

func (r *MemoryWorkflowRegistry) Delete(_ context.Context, orgID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wf, ok := r.workflows[id]
	if !ok || wf.OrganizationID != orgID {
		return fmt.Errorf("%w: workflow %s", ErrNotFound, id)
	}
	delete(r.workflows, id)
	return nil
}

func (r *MemoryWorkflowRegistry) ListActive(_ context.Context, orgID string, trigger careflow.TriggerType) ([]*careflow.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*careflow.WorkflowDefinition
	for _, wf := range r.workflows {
		if wf.OrganizationID == orgID && wf.TriggerType == trigger && wf.IsActive {
			cp := *wf
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (r *MemoryWorkflowRegistry) ListActiveTimeTriggers(_ context.Context) ([]*careflow.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*careflow.WorkflowDefinition
	for _, wf := range r.workflows {
		if wf.IsActive && wf.TriggerType.IsTimeTrigger() {
			cp := *wf
			result = append(result, &cp)
		}
	}
	return result, nil
}
