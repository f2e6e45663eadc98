package repository

import (
	"context"
	"errors"
	"time"

	"github.com/careflow/careflow/internal/careflow"
	"github.com/careflow/careflow/internal/db"
)

// PersistentExecutionLedger is the PostgreSQL-backed ExecutionLedger.
// Unlike the workflow registry it carries no in-memory mirror: rate-limit
// counters are derived from ledger rows, and a second copy of those rows
// would be a second source of truth that could drift from the audit log.
type PersistentExecutionLedger struct {
	db *db.DB
}

func NewPersistentExecutionLedger(database *db.DB) *PersistentExecutionLedger {
	return &PersistentExecutionLedger{db: database}
}

func (l *PersistentExecutionLedger) Reserve(ctx context.Context, rec *careflow.ExecutionRecord, caps Caps) error {
	if rec.ID == "" {
		rec.ID = careflow.GenerateID("exec")
	}
	return mapLedgerErr(l.db.ReserveExecution(ctx, rec, caps.MaxRunsPerPatient, caps.MaxPerDay))
}

func (l *PersistentExecutionLedger) Finalize(ctx context.Context, id string, status careflow.ExecutionStatus,
	results []careflow.ActionResult, completedAt time.Time) error {
	return l.db.FinalizeExecution(ctx, id, status, results, completedAt)
}

func (l *PersistentExecutionLedger) Record(ctx context.Context, rec *careflow.ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = careflow.GenerateID("exec")
	}
	return mapLedgerErr(l.db.InsertExecution(ctx, rec))
}

func (l *PersistentExecutionLedger) Get(ctx context.Context, id string) (*careflow.ExecutionRecord, error) {
	return l.db.GetExecution(ctx, id)
}

func (l *PersistentExecutionLedger) HasDedupe(ctx context.Context, workflowID, dedupeKey string) (bool, error) {
	return l.db.HasExecutionDedupe(ctx, workflowID, dedupeKey)
}

func (l *PersistentExecutionLedger) ListByWorkflow(ctx context.Context, workflowID string, limit, offset int, status string) ([]*careflow.ExecutionRecord, int, error) {
	return l.db.ListExecutionsByWorkflow(ctx, workflowID, limit, offset, status)
}

func (l *PersistentExecutionLedger) ListByOrganization(ctx context.Context, orgID string, limit, offset int, status string) ([]*careflow.ExecutionRecord, int, error) {
	return l.db.ListExecutionsByOrganization(ctx, orgID, limit, offset, status)
}

func (l *PersistentExecutionLedger) CountForPatient(ctx context.Context, workflowID, patientID string) (int, error) {
	return l.db.CountExecutionsForPatient(ctx, workflowID, patientID)
}

func (l *PersistentExecutionLedger) CountForDay(ctx context.Context, workflowID, localDate string) (int, error) {
	return l.db.CountExecutionsForDay(ctx, workflowID, localDate)
}

// mapLedgerErr translates db sentinels into the repository's error
// vocabulary so engine code never imports the db package.
func mapLedgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrDuplicate):
		return ErrDuplicate
	case errors.Is(err, db.ErrPatientCapReached):
		return ErrPatientCapReached
	case errors.Is(err, db.ErrDailyCapReached):
		return ErrDailyCapReached
	default:
		return err
	}
}
