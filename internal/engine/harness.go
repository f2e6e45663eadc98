package engine

import (
	"context"

	"github.com/careflow/careflow/internal/careflow"
)

// TestResult is what a dry run of a workflow definition produces.
type TestResult struct {
	ConditionsResult bool                    `json:"conditions_result"`
	Warnings         []Warning               `json:"warnings,omitempty"`
	Actions          []careflow.ActionResult `json:"actions"`
}

// Harness runs the evaluate/execute pipeline in simulate mode against
// caller-supplied synthetic context. It never touches the rate limiter or
// the ledger, so a draft workflow can be iterated on safely before
// activation.
type Harness struct {
	executor *ActionExecutor
}

func NewHarness(executor *ActionExecutor) *Harness {
	return &Harness{executor: executor}
}

// TestWorkflow evaluates the definition's conditions against the synthetic
// context and simulates every action. Actions are described even when the
// conditions come out false, so rule authors see both halves of the dry
// run.
func (h *Harness) TestWorkflow(ctx context.Context, wf *careflow.WorkflowDefinition, synthetic map[string]any) *TestResult {
	condResult, warnings := Evaluate(wf.Conditions, synthetic)

	patientID := ""
	if patient, ok := synthetic["patient"].(map[string]any); ok {
		if id, ok := patient["id"].(string); ok {
			patientID = id
		}
	}
	if patientID == "" {
		patientID = "patient-simulated"
	}

	return &TestResult{
		ConditionsResult: condResult,
		Warnings:         warnings,
		Actions:          h.executor.Execute(ctx, wf.Actions, patientID, ModeSimulate),
	}
}
