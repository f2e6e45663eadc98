package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflow/careflow/internal/careflow"
	"github.com/careflow/careflow/internal/clinic"
)

func newTestExecutor(messenger *clinic.RecordingMessenger) (*ActionExecutor, *clinic.MemoryClinic, *clinic.RecordingTasks) {
	patients := clinic.NewMemoryClinic()
	patients.PutPatient(&clinic.Patient{ID: "pat-1", OrganizationID: "org-1"})
	tasks := &clinic.RecordingTasks{}
	return NewActionExecutor(messenger, patients, tasks, time.Second), patients, tasks
}

func TestExecuteRunsActionsInOrder(t *testing.T) {
	messenger := &clinic.RecordingMessenger{}
	executor, patients, tasks := newTestExecutor(messenger)

	actions := []careflow.ActionSpec{
		{Type: careflow.ActionSendSMS, Params: map[string]any{"template": "reminder"}},
		{Type: careflow.ActionAddTag, Params: map[string]any{"tag": "no-show"}},
		{Type: careflow.ActionCreateTask, Params: map[string]any{"description": "call patient", "assignee": "front-desk"}},
	}

	results := executor.Execute(context.Background(), actions, "pat-1", ModeLive)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, careflow.ActionOK, r.Status, "action %d", i)
		assert.Equal(t, actions[i].Type, r.ActionType)
	}

	require.Len(t, messenger.Messages(), 1)
	assert.Equal(t, "reminder", messenger.Messages()[0].Template)

	p, err := patients.GetPatient(context.Background(), "org-1", "pat-1")
	require.NoError(t, err)
	assert.Contains(t, p.Tags, "no-show")

	require.Len(t, tasks.TasksCreated(), 1)
	assert.Equal(t, "front-desk", tasks.TasksCreated()[0].Assignee)
}

func TestExecuteFailureDoesNotAbortRemaining(t *testing.T) {
	messenger := &clinic.RecordingMessenger{FailWith: errors.New("gateway timeout")}
	executor, patients, _ := newTestExecutor(messenger)

	actions := []careflow.ActionSpec{
		{Type: careflow.ActionSendSMS, Params: map[string]any{"template": "reminder"}},
		{Type: careflow.ActionAddTag, Params: map[string]any{"tag": "contacted"}},
	}

	results := executor.Execute(context.Background(), actions, "pat-1", ModeLive)
	require.Len(t, results, 2)
	assert.Equal(t, careflow.ActionFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "gateway timeout")
	assert.Equal(t, careflow.ActionOK, results[1].Status)

	p, err := patients.GetPatient(context.Background(), "org-1", "pat-1")
	require.NoError(t, err)
	assert.Contains(t, p.Tags, "contacted", "later actions still run after an earlier failure")
}

func TestExecuteSimulateHasNoSideEffects(t *testing.T) {
	messenger := &clinic.RecordingMessenger{}
	executor, patients, tasks := newTestExecutor(messenger)

	actions := []careflow.ActionSpec{
		{Type: careflow.ActionSendEmail, Params: map[string]any{"template": "welcome"}},
		{Type: careflow.ActionUpdateLifecycleStage, Params: map[string]any{"stage": "active"}},
		{Type: careflow.ActionCreateTask, Params: map[string]any{"description": "follow up"}},
	}

	results := executor.Execute(context.Background(), actions, "pat-1", ModeSimulate)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, careflow.ActionSimulated, r.Status)
		assert.NotEmpty(t, r.Detail)
	}

	assert.Empty(t, messenger.Messages())
	assert.Empty(t, tasks.TasksCreated())
	p, err := patients.GetPatient(context.Background(), "org-1", "pat-1")
	require.NoError(t, err)
	assert.Empty(t, p.LifecycleStage)
}

func TestExecuteMissingParamFails(t *testing.T) {
	executor, _, _ := newTestExecutor(&clinic.RecordingMessenger{})

	results := executor.Execute(context.Background(),
		[]careflow.ActionSpec{{Type: careflow.ActionSendSMS}}, "pat-1", ModeLive)
	require.Len(t, results, 1)
	assert.Equal(t, careflow.ActionFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "template")
}

func TestExecuteRequiresPatient(t *testing.T) {
	executor, _, _ := newTestExecutor(&clinic.RecordingMessenger{})

	results := executor.Execute(context.Background(),
		[]careflow.ActionSpec{{Type: careflow.ActionAddTag, Params: map[string]any{"tag": "x"}}}, "", ModeLive)
	require.Len(t, results, 1)
	assert.Equal(t, careflow.ActionFailed, results[0].Status)
}

func TestAggregateStatus(t *testing.T) {
	ok := careflow.ActionResult{ActionType: careflow.ActionSendSMS, Status: careflow.ActionOK}
	fail := careflow.ActionResult{ActionType: careflow.ActionSendSMS, Status: careflow.ActionFailed}
	criticalFail := careflow.ActionResult{ActionType: careflow.ActionUpdateLifecycleStage, Status: careflow.ActionFailed}

	tests := []struct {
		name    string
		results []careflow.ActionResult
		want    careflow.ExecutionStatus
	}{
		{"empty", nil, careflow.StatusSuccess},
		{"all ok", []careflow.ActionResult{ok, ok}, careflow.StatusSuccess},
		{"all failed", []careflow.ActionResult{fail, fail}, careflow.StatusFailed},
		{"mixed", []careflow.ActionResult{fail, ok}, careflow.StatusPartialFailure},
		{"critical failed", []careflow.ActionResult{ok, criticalFail, ok}, careflow.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateStatus(tt.results))
		})
	}
}
