package repository

import (
	"context"
	"errors"
	"time"

	"github.com/careflow/careflow/internal/careflow"
)

var (
	// ErrDuplicate is returned when an insert would violate the
	// (workflow_id, dedupe_key) uniqueness guard.
	ErrDuplicate = errors.New("duplicate execution for dedupe key")
	// ErrPatientCapReached is returned by Reserve when the insert would
	// exceed the workflow's lifetime per-patient cap.
	ErrPatientCapReached = errors.New("max_runs_per_patient reached")
	// ErrDailyCapReached is returned by Reserve when the insert would
	// exceed the workflow's daily cap.
	ErrDailyCapReached = errors.New("max_per_day reached")
)

// Caps carries a workflow's rate limits into Reserve. Nil means unlimited.
type Caps struct {
	MaxRunsPerPatient *int
	MaxPerDay         *int
}

// ExecutionLedger is the durable, append-only log of every evaluation
// attempt. It is the single source of truth for both audit history and
// rate-limit counters; there is no separate counter store.
type ExecutionLedger interface {
	// Reserve atomically re-checks both caps and inserts a provisional
	// RUNNING row. If the insert would exceed a cap it returns
	// ErrPatientCapReached or ErrDailyCapReached without committing;
	// a dedupe collision returns ErrDuplicate. Provisional rows count
	// toward caps until finalized.
	Reserve(ctx context.Context, rec *careflow.ExecutionRecord, caps Caps) error
	// Finalize transitions a reserved row to its terminal status. It is
	// the only permitted mutation of a written record.
	Finalize(ctx context.Context, id string, status careflow.ExecutionStatus,
		results []careflow.ActionResult, completedAt time.Time) error
	// Record inserts a fresh terminal row for outcomes that never touch
	// the rate limiter (SKIPPED_CONDITION, SKIPPED_RATE_LIMIT, FAILED
	// before reservation).
	Record(ctx context.Context, rec *careflow.ExecutionRecord) error

	Get(ctx context.Context, id string) (*careflow.ExecutionRecord, error)
	// HasDedupe reports whether any record exists for the pair. Used as a
	// cheap idempotency pre-check; Reserve/Record still enforce
	// uniqueness on insert.
	HasDedupe(ctx context.Context, workflowID, dedupeKey string) (bool, error)

	// ListByWorkflow returns records newest-first. status filters when
	// non-empty ("" = all).
	ListByWorkflow(ctx context.Context, workflowID string, limit, offset int, status string) ([]*careflow.ExecutionRecord, int, error)
	// ListByOrganization returns records across all workflows of one
	// organization, newest-first.
	ListByOrganization(ctx context.Context, orgID string, limit, offset int, status string) ([]*careflow.ExecutionRecord, int, error)

	// CountForPatient counts cap-consuming rows for one (workflow,
	// patient) pair.
	CountForPatient(ctx context.Context, workflowID, patientID string) (int, error)
	// CountForDay counts cap-consuming rows for one workflow on one local
	// calendar day ("2006-01-02").
	CountForDay(ctx context.Context, workflowID, localDate string) (int, error)
}
