package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflow/careflow/internal/careflow"
	"github.com/careflow/careflow/internal/clinic"
)

func TestHarnessSimulatesWithoutSideEffects(t *testing.T) {
	messenger := &clinic.RecordingMessenger{}
	patients := clinic.NewMemoryClinic()
	tasks := &clinic.RecordingTasks{}
	harness := NewHarness(NewActionExecutor(messenger, patients, tasks, time.Second))

	wf := &careflow.WorkflowDefinition{
		Name: "draft",
		Conditions: &careflow.ConditionNode{
			Field: "patient.total_visits", Operator: careflow.CmpGte, Value: 3,
		},
		Actions: []careflow.ActionSpec{
			{Type: careflow.ActionSendSMS, Params: map[string]any{"template": "hello"}},
		},
	}

	result := harness.TestWorkflow(context.Background(), wf, map[string]any{
		"patient": map[string]any{"id": "pat-9", "total_visits": 5},
	})

	assert.True(t, result.ConditionsResult)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, careflow.ActionSimulated, result.Actions[0].Status)
	assert.Contains(t, result.Actions[0].Detail, "pat-9")
	assert.Empty(t, messenger.Messages())
}

func TestHarnessDescribesActionsEvenWhenConditionsFail(t *testing.T) {
	harness := NewHarness(NewActionExecutor(&clinic.RecordingMessenger{}, clinic.NewMemoryClinic(), &clinic.RecordingTasks{}, time.Second))

	wf := &careflow.WorkflowDefinition{
		Name: "draft",
		Conditions: &careflow.ConditionNode{
			Field: "patient.total_visits", Operator: careflow.CmpGte, Value: 100,
		},
		Actions: []careflow.ActionSpec{
			{Type: careflow.ActionAddTag, Params: map[string]any{"tag": "vip"}},
		},
	}

	result := harness.TestWorkflow(context.Background(), wf, map[string]any{
		"patient": map[string]any{"total_visits": 1},
	})

	assert.False(t, result.ConditionsResult)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, careflow.ActionSimulated, result.Actions[0].Status)
}

func TestHarnessReportsWarnings(t *testing.T) {
	harness := NewHarness(NewActionExecutor(&clinic.RecordingMessenger{}, clinic.NewMemoryClinic(), &clinic.RecordingTasks{}, time.Second))

	wf := &careflow.WorkflowDefinition{
		Name: "draft",
		Conditions: &careflow.ConditionNode{
			Field: "patient.lifecycle_stage", Operator: careflow.CmpEq, Value: "active",
		},
		Actions: []careflow.ActionSpec{
			{Type: careflow.ActionCreateTask, Params: map[string]any{"description": "check"}},
		},
	}

	result := harness.TestWorkflow(context.Background(), wf, map[string]any{})
	assert.False(t, result.ConditionsResult)
	assert.NotEmpty(t, result.Warnings)
}
