package engine

import (
	"context"
	"errors"
	"time"

	"github.com/careflow/careflow/internal/careflow"
	"github.com/careflow/careflow/internal/repository"
)

// DeniedReason explains why the rate limiter refused a reservation.
type DeniedReason string

const (
	DeniedPerPatient DeniedReason = "max_runs_per_patient"
	DeniedPerDay     DeniedReason = "max_per_day"
)

// RateLimiter enforces per-patient lifetime caps and per-workflow daily
// caps by reserving a provisional ledger row. The ledger's Reserve is the
// atomic step; the limiter itself holds no state, so it is correct no
// matter how many processes run the engine.
type RateLimiter struct {
	ledger repository.ExecutionLedger
}

func NewRateLimiter(ledger repository.ExecutionLedger) *RateLimiter {
	return &RateLimiter{ledger: ledger}
}

// CheckAndReserve reserves an execution slot for the workflow/patient pair.
// On success it returns the provisional record to be finalized after action
// execution. A non-empty DeniedReason means a cap was hit; repository
// duplicate errors surface as repository.ErrDuplicate.
func (l *RateLimiter) CheckAndReserve(ctx context.Context, wf *careflow.WorkflowDefinition,
	ev careflow.TriggerEvent, snapshot map[string]any, now time.Time) (*careflow.ExecutionRecord, DeniedReason, error) {

	rec := &careflow.ExecutionRecord{
		ID:               careflow.GenerateID("exec"),
		WorkflowID:       wf.ID,
		OrganizationID:   wf.OrganizationID,
		PatientID:        ev.PatientID,
		TriggerType:      ev.TriggerType,
		DedupeKey:        ev.DedupeKey,
		Snapshot:         snapshot,
		ConditionsResult: true,
		Status:           careflow.StatusRunning,
		// The daily cap boundary is local midnight in the workflow's
		// timezone, not UTC midnight.
		LocalDate: careflow.LocalDay(now, wf.Timezone),
		StartedAt: now,
	}

	caps := repository.Caps{
		MaxRunsPerPatient: wf.MaxRunsPerPatient,
		MaxPerDay:         wf.MaxPerDay,
	}

	err := l.ledger.Reserve(ctx, rec, caps)
	switch {
	case err == nil:
		return rec, "", nil
	case errors.Is(err, repository.ErrPatientCapReached):
		return nil, DeniedPerPatient, nil
	case errors.Is(err, repository.ErrDailyCapReached):
		return nil, DeniedPerDay, nil
	default:
		return nil, "", err
	}
}
