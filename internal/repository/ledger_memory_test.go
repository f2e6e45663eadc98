package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/careflow/careflow/internal/careflow"
)

func runningRecord(workflowID, patientID, localDate string) *careflow.ExecutionRecord {
	return &careflow.ExecutionRecord{
		ID:             careflow.GenerateID("exec"),
		WorkflowID:     workflowID,
		OrganizationID: "org-1",
		PatientID:      patientID,
		TriggerType:    careflow.TriggerAppointmentNoShow,
		Status:         careflow.StatusRunning,
		LocalDate:      localDate,
		StartedAt:      time.Now(),
	}
}

func TestReserveEnforcesPatientCap(t *testing.T) {
	ledger := NewMemoryExecutionLedger()
	ctx := context.Background()
	one := 1
	caps := Caps{MaxRunsPerPatient: &one}

	if err := ledger.Reserve(ctx, runningRecord("wf-1", "pat-1", "2026-08-28"), caps); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	err := ledger.Reserve(ctx, runningRecord("wf-1", "pat-1", "2026-08-28"), caps)
	if !errors.Is(err, ErrPatientCapReached) {
		t.Fatalf("expected ErrPatientCapReached, got %v", err)
	}

	// A different patient is unaffected.
	if err := ledger.Reserve(ctx, runningRecord("wf-1", "pat-2", "2026-08-28"), caps); err != nil {
		t.Fatalf("other patient: %v", err)
	}
}

func TestReserveEnforcesDailyCap(t *testing.T) {
	ledger := NewMemoryExecutionLedger()
	ctx := context.Background()
	two := 2
	caps := Caps{MaxPerDay: &two}

	for i := 0; i < 2; i++ {
		if err := ledger.Reserve(ctx, runningRecord("wf-1", fmt.Sprintf("pat-%d", i), "2026-08-28"), caps); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}
	err := ledger.Reserve(ctx, runningRecord("wf-1", "pat-9", "2026-08-28"), caps)
	if !errors.Is(err, ErrDailyCapReached) {
		t.Fatalf("expected ErrDailyCapReached, got %v", err)
	}

	// The next local day starts a fresh budget.
	if err := ledger.Reserve(ctx, runningRecord("wf-1", "pat-9", "2026-08-29"), caps); err != nil {
		t.Fatalf("next day: %v", err)
	}
}

func TestReserveCapCountsIgnoreNonConsumingStatuses(t *testing.T) {
	ledger := NewMemoryExecutionLedger()
	ctx := context.Background()

	skipped := runningRecord("wf-1", "pat-1", "2026-08-28")
	skipped.Status = careflow.StatusSkippedCondition
	if err := ledger.Record(ctx, skipped); err != nil {
		t.Fatalf("record skipped: %v", err)
	}
	failed := runningRecord("wf-1", "pat-1", "2026-08-28")
	failed.Status = careflow.StatusFailed
	if err := ledger.Record(ctx, failed); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	one := 1
	if err := ledger.Reserve(ctx, runningRecord("wf-1", "pat-1", "2026-08-28"), Caps{MaxRunsPerPatient: &one}); err != nil {
		t.Fatalf("skips and failures must not consume budget: %v", err)
	}
}

func TestReserveConcurrentBurstRespectsCap(t *testing.T) {
	ledger := NewMemoryExecutionLedger()
	ctx := context.Background()
	one := 1
	caps := Caps{MaxRunsPerPatient: &one}

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- ledger.Reserve(ctx, runningRecord("wf-1", "pat-1", "2026-08-28"), caps)
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrPatientCapReached) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one reservation must win the burst, got %d", succeeded)
	}
}

func TestReserveDedupeCollision(t *testing.T) {
	ledger := NewMemoryExecutionLedger()
	ctx := context.Background()

	rec := runningRecord("wf-1", "pat-1", "2026-08-28")
	rec.DedupeKey = "appt-7:no_show"
	if err := ledger.Reserve(ctx, rec, Caps{}); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	dup := runningRecord("wf-1", "pat-1", "2026-08-28")
	dup.DedupeKey = "appt-7:no_show"
	if err := ledger.Reserve(ctx, dup, Caps{}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Same key under another workflow is a different pair.
	other := runningRecord("wf-2", "pat-1", "2026-08-28")
	other.DedupeKey = "appt-7:no_show"
	if err := ledger.Reserve(ctx, other, Caps{}); err != nil {
		t.Fatalf("other workflow: %v", err)
	}
}

func TestFinalizeOnlyTransitionsRunning(t *testing.T) {
	ledger := NewMemoryExecutionLedger()
	ctx := context.Background()

	rec := runningRecord("wf-1", "pat-1", "2026-08-28")
	if err := ledger.Reserve(ctx, rec, Caps{}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	done := time.Now()
	results := []careflow.ActionResult{{ActionType: careflow.ActionSendSMS, Status: careflow.ActionOK}}
	if err := ledger.Finalize(ctx, rec.ID, careflow.StatusSuccess, results, done); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got, err := ledger.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != careflow.StatusSuccess || got.CompletedAt == nil || len(got.ActionResults) != 1 {
		t.Fatalf("finalized record not updated: %+v", got)
	}

	if err := ledger.Finalize(ctx, rec.ID, careflow.StatusFailed, nil, done); err == nil {
		t.Fatal("second finalize must fail, records are immutable once terminal")
	}

	if err := ledger.Finalize(ctx, "exec-missing", careflow.StatusSuccess, nil, done); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByWorkflowOrdersAndPaginates(t *testing.T) {
	ledger := NewMemoryExecutionLedger()
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := runningRecord("wf-1", "pat-1", "2026-08-28")
		rec.Status = careflow.StatusSuccess
		rec.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := ledger.Record(ctx, rec); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	page, total, err := ledger.ListByWorkflow(ctx, "wf-1", 2, 0, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("got total=%d len=%d, want 5/2", total, len(page))
	}
	if !page[0].StartedAt.After(page[1].StartedAt) {
		t.Fatal("records must be newest-first")
	}

	rest, _, err := ledger.ListByWorkflow(ctx, "wf-1", 10, 4, "")
	if err != nil {
		t.Fatalf("list offset: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("offset page: got %d records, want 1", len(rest))
	}
}

func TestListFiltersByStatus(t *testing.T) {
	ledger := NewMemoryExecutionLedger()
	ctx := context.Background()

	ok := runningRecord("wf-1", "pat-1", "2026-08-28")
	ok.Status = careflow.StatusSuccess
	skip := runningRecord("wf-1", "pat-1", "2026-08-28")
	skip.Status = careflow.StatusSkippedCondition
	for _, rec := range []*careflow.ExecutionRecord{ok, skip} {
		if err := ledger.Record(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	page, total, err := ledger.ListByOrganization(ctx, "org-1", 10, 0, string(careflow.StatusSkippedCondition))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(page) != 1 || page[0].Status != careflow.StatusSkippedCondition {
		t.Fatalf("status filter failed: total=%d page=%+v", total, page)
	}
}

func TestHasDedupe(t *testing.T) {
	ledger := NewMemoryExecutionLedger()
	ctx := context.Background()

	rec := runningRecord("wf-1", "pat-1", "2026-08-28")
	rec.Status = careflow.StatusSuccess
	rec.DedupeKey = "k-1"
	if err := ledger.Record(ctx, rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	seen, err := ledger.HasDedupe(ctx, "wf-1", "k-1")
	if err != nil || !seen {
		t.Fatalf("HasDedupe(wf-1, k-1) = %v, %v; want true", seen, err)
	}
	seen, err = ledger.HasDedupe(ctx, "wf-1", "k-2")
	if err != nil || seen {
		t.Fatalf("HasDedupe(wf-1, k-2) = %v, %v; want false", seen, err)
	}
}
