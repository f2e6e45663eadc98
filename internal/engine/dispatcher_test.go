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
	"github.com/careflow/careflow/internal/repository"
)

type dispatcherFixture struct {
	registry   *repository.MemoryWorkflowRegistry
	ledger     *repository.MemoryExecutionLedger
	clinic     *clinic.MemoryClinic
	messenger  *clinic.RecordingMessenger
	tasks      *clinic.RecordingTasks
	dispatcher *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	f := &dispatcherFixture{
		registry:  repository.NewMemoryWorkflowRegistry(),
		ledger:    repository.NewMemoryExecutionLedger(),
		clinic:    clinic.NewMemoryClinic(),
		messenger: &clinic.RecordingMessenger{},
		tasks:     &clinic.RecordingTasks{},
	}
	executor := NewActionExecutor(f.messenger, f.clinic, f.tasks, time.Second)
	f.dispatcher = NewDispatcher(f.registry, f.ledger, NewRateLimiter(f.ledger), executor, f.clinic)
	f.clinic.PutPatient(&clinic.Patient{
		ID: "pat-1", OrganizationID: "org-1", FirstName: "Ada", TotalVisits: 4, LifecycleStage: "active",
	})
	return f
}

func intPtr(n int) *int { return &n }

func noShowWorkflow() *careflow.WorkflowDefinition {
	return &careflow.WorkflowDefinition{
		ID:             "wf-noshow",
		OrganizationID: "org-1",
		Name:           "No-show follow up",
		TriggerType:    careflow.TriggerAppointmentNoShow,
		Actions: []careflow.ActionSpec{
			{Type: careflow.ActionSendSMS, Params: map[string]any{"template": "sorry-we-missed-you"}},
			{Type: careflow.ActionAddTag, Params: map[string]any{"tag": "no-show"}},
		},
		MaxRunsPerPatient: intPtr(1),
		IsActive:          true,
	}
}

func noShowEvent(dedupe string) careflow.TriggerEvent {
	return careflow.TriggerEvent{
		OrganizationID: "org-1",
		TriggerType:    careflow.TriggerAppointmentNoShow,
		PatientID:      "pat-1",
		Payload:        map[string]any{"source": "scheduler"},
		DedupeKey:      dedupe,
	}
}

func TestDispatchExecutesMatchingWorkflow(t *testing.T) {
	f := newDispatcherFixture(t)
	require.NoError(t, f.registry.Create(context.Background(), noShowWorkflow()))

	records := f.dispatcher.Dispatch(context.Background(), noShowEvent(""))
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, careflow.StatusSuccess, rec.Status)
	assert.True(t, rec.ConditionsResult)
	assert.Equal(t, "pat-1", rec.PatientID)
	require.NotNil(t, rec.CompletedAt)
	require.Len(t, rec.ActionResults, 2)

	require.Len(t, f.messenger.Messages(), 1)
	p, err := f.clinic.GetPatient(context.Background(), "org-1", "pat-1")
	require.NoError(t, err)
	assert.Contains(t, p.Tags, "no-show")

	stored, err := f.ledger.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, careflow.StatusSuccess, stored.Status)
}

func TestDispatchIgnoresInactiveAndOtherTriggers(t *testing.T) {
	f := newDispatcherFixture(t)

	inactive := noShowWorkflow()
	inactive.ID = "wf-inactive"
	inactive.IsActive = false
	require.NoError(t, f.registry.Create(context.Background(), inactive))

	other := noShowWorkflow()
	other.ID = "wf-other"
	other.TriggerType = careflow.TriggerPatientCreated
	require.NoError(t, f.registry.Create(context.Background(), other))

	records := f.dispatcher.Dispatch(context.Background(), noShowEvent(""))
	assert.Empty(t, records)
	assert.Empty(t, f.messenger.Messages())
}

func TestDispatchSkipsOnConditions(t *testing.T) {
	f := newDispatcherFixture(t)
	wf := noShowWorkflow()
	wf.Conditions = &careflow.ConditionNode{
		Field: "patient.total_visits", Operator: careflow.CmpGte, Value: 10,
	}
	require.NoError(t, f.registry.Create(context.Background(), wf))

	records := f.dispatcher.Dispatch(context.Background(), noShowEvent(""))
	require.Len(t, records, 1)
	assert.Equal(t, careflow.StatusSkippedCondition, records[0].Status)
	assert.False(t, records[0].ConditionsResult)
	assert.Empty(t, f.messenger.Messages(), "skipped run must not execute actions")
}

func TestDispatchEnforcesPerPatientCap(t *testing.T) {
	f := newDispatcherFixture(t)
	require.NoError(t, f.registry.Create(context.Background(), noShowWorkflow()))

	first := f.dispatcher.Dispatch(context.Background(), noShowEvent(""))
	require.Len(t, first, 1)
	require.Equal(t, careflow.StatusSuccess, first[0].Status)

	second := f.dispatcher.Dispatch(context.Background(), noShowEvent(""))
	require.Len(t, second, 1)
	assert.Equal(t, careflow.StatusSkippedRateLimit, second[0].Status)
	assert.True(t, second[0].ConditionsResult, "cap skip happens after conditions passed")
	assert.Len(t, f.messenger.Messages(), 1, "second no-show must not send another SMS")
}

func TestDispatchEnforcesDailyCap(t *testing.T) {
	f := newDispatcherFixture(t)
	f.clinic.PutPatient(&clinic.Patient{ID: "pat-2", OrganizationID: "org-1"})

	wf := noShowWorkflow()
	wf.MaxRunsPerPatient = nil
	wf.MaxPerDay = intPtr(1)
	require.NoError(t, f.registry.Create(context.Background(), wf))

	first := f.dispatcher.Dispatch(context.Background(), noShowEvent(""))
	require.Len(t, first, 1)
	require.Equal(t, careflow.StatusSuccess, first[0].Status)

	ev := noShowEvent("")
	ev.PatientID = "pat-2"
	second := f.dispatcher.Dispatch(context.Background(), ev)
	require.Len(t, second, 1)
	assert.Equal(t, careflow.StatusSkippedRateLimit, second[0].Status)
}

func TestDispatchDedupeIsIdempotent(t *testing.T) {
	f := newDispatcherFixture(t)
	require.NoError(t, f.registry.Create(context.Background(), noShowWorkflow()))

	first := f.dispatcher.Dispatch(context.Background(), noShowEvent("appt-55:no_show"))
	require.Len(t, first, 1)
	require.Equal(t, careflow.StatusSuccess, first[0].Status)

	redelivered := f.dispatcher.Dispatch(context.Background(), noShowEvent("appt-55:no_show"))
	assert.Empty(t, redelivered, "redelivered event must produce no new record")
	assert.Len(t, f.messenger.Messages(), 1)

	_, total, err := f.ledger.ListByWorkflow(context.Background(), "wf-noshow", 10, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestDispatchPartialFailure(t *testing.T) {
	f := newDispatcherFixture(t)
	f.messenger.FailWith = errors.New("sms gateway down")
	require.NoError(t, f.registry.Create(context.Background(), noShowWorkflow()))

	records := f.dispatcher.Dispatch(context.Background(), noShowEvent(""))
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, careflow.StatusPartialFailure, rec.Status)
	require.Len(t, rec.ActionResults, 2)
	assert.Equal(t, careflow.ActionFailed, rec.ActionResults[0].Status)
	assert.Contains(t, rec.ActionResults[0].Error, "sms gateway down")
	assert.Equal(t, careflow.ActionOK, rec.ActionResults[1].Status)

	// The tag action still ran despite the SMS failure.
	p, err := f.clinic.GetPatient(context.Background(), "org-1", "pat-1")
	require.NoError(t, err)
	assert.Contains(t, p.Tags, "no-show")
}

func TestDispatchSnapshotFailureRecordsFailed(t *testing.T) {
	f := newDispatcherFixture(t)
	require.NoError(t, f.registry.Create(context.Background(), noShowWorkflow()))

	ev := noShowEvent("")
	ev.PatientID = "pat-unknown"
	records := f.dispatcher.Dispatch(context.Background(), ev)
	require.Len(t, records, 1)
	assert.Equal(t, careflow.StatusFailed, records[0].Status)
	assert.Contains(t, records[0].Snapshot, "_error")
	assert.Empty(t, f.messenger.Messages())
}

func TestDispatchLoadsReferencedEntities(t *testing.T) {
	f := newDispatcherFixture(t)
	f.clinic.PutAppointment(&clinic.Appointment{
		ID: "appt-9", PatientID: "pat-1", Status: "no_show", StartsAt: time.Now(),
	})

	wf := noShowWorkflow()
	wf.Conditions = &careflow.ConditionNode{
		Field: "appointment.status", Operator: careflow.CmpEq, Value: "no_show",
	}
	require.NoError(t, f.registry.Create(context.Background(), wf))

	ev := noShowEvent("")
	ev.Payload = map[string]any{"appointment_id": "appt-9"}
	records := f.dispatcher.Dispatch(context.Background(), ev)
	require.Len(t, records, 1)
	assert.Equal(t, careflow.StatusSuccess, records[0].Status)
}

func TestDispatchTargetedEventRunsOnlyThatWorkflow(t *testing.T) {
	f := newDispatcherFixture(t)

	wfA := noShowWorkflow()
	wfA.ID = "wf-a"
	wfB := noShowWorkflow()
	wfB.ID = "wf-b"
	require.NoError(t, f.registry.Create(context.Background(), wfA))
	require.NoError(t, f.registry.Create(context.Background(), wfB))

	ev := noShowEvent("")
	ev.WorkflowID = "wf-a"
	records := f.dispatcher.Dispatch(context.Background(), ev)
	require.Len(t, records, 1)
	assert.Equal(t, "wf-a", records[0].WorkflowID)
}

func TestDispatchRecordsWarningsInSnapshot(t *testing.T) {
	f := newDispatcherFixture(t)
	wf := noShowWorkflow()
	wf.Conditions = &careflow.ConditionNode{
		Field: "patient.nonexistent_field", Operator: careflow.CmpEq, Value: "x",
	}
	require.NoError(t, f.registry.Create(context.Background(), wf))

	records := f.dispatcher.Dispatch(context.Background(), noShowEvent(""))
	require.Len(t, records, 1)
	assert.Equal(t, careflow.StatusSkippedCondition, records[0].Status)
	assert.Contains(t, records[0].Snapshot, "_warnings")
}
