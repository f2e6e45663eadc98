package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/careflow/careflow/internal/careflow"
)

// capStatuses are the execution statuses that consume rate-limit budget:
// finalized successes plus provisional reservations.
var capStatuses = pq.StringArray{
	string(careflow.StatusRunning),
	string(careflow.StatusSuccess),
	string(careflow.StatusPartialFailure),
}

// ReserveExecution inserts a provisional RUNNING row after re-checking both
// caps inside a single transaction. An advisory lock on the workflow ID
// serializes concurrent reservations for the same workflow, closing the
// count-then-insert race that a plain check/execute/record sequence leaves
// open.
func (d *DB) ReserveExecution(ctx context.Context, rec *careflow.ExecutionRecord, maxPerPatient, maxPerDay *int) error {
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reserve: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, rec.WorkflowID); err != nil {
		return fmt.Errorf("acquire workflow lock: %w", err)
	}

	if maxPerPatient != nil && rec.PatientID != "" {
		var n int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM executions
			 WHERE workflow_id = $1 AND patient_id = $2 AND status = ANY($3)`,
			rec.WorkflowID, rec.PatientID, capStatuses).Scan(&n)
		if err != nil {
			return fmt.Errorf("count patient executions: %w", err)
		}
		if n >= *maxPerPatient {
			return ErrPatientCapReached
		}
	}

	if maxPerDay != nil {
		var n int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM executions
			 WHERE workflow_id = $1 AND local_date = $2 AND status = ANY($3)`,
			rec.WorkflowID, rec.LocalDate, capStatuses).Scan(&n)
		if err != nil {
			return fmt.Errorf("count daily executions: %w", err)
		}
		if n >= *maxPerDay {
			return ErrDailyCapReached
		}
	}

	if err := insertExecution(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reserve: %w", err)
	}
	return nil
}

// FinalizeExecution transitions a reserved row to its terminal status.
func (d *DB) FinalizeExecution(ctx context.Context, id string, status careflow.ExecutionStatus,
	results []careflow.ActionResult, completedAt time.Time) error {
	resultsJSON, _ := json.Marshal(results)

	res, err := d.Pool.ExecContext(ctx,
		`UPDATE executions SET status = $2, actions_results = $3, completed_at = $4
		 WHERE id = $1 AND status = $5`,
		id, string(status), resultsJSON, completedAt, string(careflow.StatusRunning))
	if err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("execution %s is not in a reserved state", id)
	}
	return nil
}

// InsertExecution inserts a terminal row directly (skip outcomes and
// pre-reservation failures).
func (d *DB) InsertExecution(ctx context.Context, rec *careflow.ExecutionRecord) error {
	return insertExecution(ctx, d.Pool, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertExecution(ctx context.Context, ex execer, rec *careflow.ExecutionRecord) error {
	snapshotJSON, _ := json.Marshal(rec.Snapshot)
	resultsJSON, _ := json.Marshal(rec.ActionResults)

	_, err := ex.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, organization_id, patient_id, trigger_type,
		     dedupe_key, snapshot, conditions_result, status, actions_results,
		     local_date, started_at, completed_at, dry_run)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.WorkflowID, rec.OrganizationID, rec.PatientID, string(rec.TriggerType),
		rec.DedupeKey, snapshotJSON, rec.ConditionsResult, string(rec.Status), resultsJSON,
		rec.LocalDate, rec.StartedAt, rec.CompletedAt, rec.DryRun,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (d *DB) GetExecution(ctx context.Context, id string) (*careflow.ExecutionRecord, error) {
	row := d.Pool.QueryRowContext(ctx, selectExecution+` WHERE id = $1`, id)
	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return rec, nil
}

func (d *DB) HasExecutionDedupe(ctx context.Context, workflowID, dedupeKey string) (bool, error) {
	var exists bool
	err := d.Pool.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM executions WHERE workflow_id = $1 AND dedupe_key = $2)`,
		workflowID, dedupeKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check dedupe: %w", err)
	}
	return exists, nil
}

func (d *DB) ListExecutionsByWorkflow(ctx context.Context, workflowID string, limit, offset int, status string) ([]*careflow.ExecutionRecord, int, error) {
	return d.listExecutions(ctx, `workflow_id`, workflowID, limit, offset, status)
}

func (d *DB) ListExecutionsByOrganization(ctx context.Context, orgID string, limit, offset int, status string) ([]*careflow.ExecutionRecord, int, error) {
	return d.listExecutions(ctx, `organization_id`, orgID, limit, offset, status)
}

func (d *DB) listExecutions(ctx context.Context, column, value string, limit, offset int, status string) ([]*careflow.ExecutionRecord, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM executions WHERE ` + column + ` = $1 AND ($2 = '' OR status = $2)`
	if err := d.Pool.QueryRowContext(ctx, countQuery, value, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	rows, err := d.Pool.QueryContext(ctx,
		selectExecution+` WHERE `+column+` = $1 AND ($2 = '' OR status = $2)
		 ORDER BY started_at DESC LIMIT $3 OFFSET $4`,
		value, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var result []*careflow.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		result = append(result, rec)
	}
	return result, total, rows.Err()
}

func (d *DB) CountExecutionsForPatient(ctx context.Context, workflowID, patientID string) (int, error) {
	var n int
	err := d.Pool.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM executions
		 WHERE workflow_id = $1 AND patient_id = $2 AND status = ANY($3)`,
		workflowID, patientID, capStatuses).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count patient executions: %w", err)
	}
	return n, nil
}

func (d *DB) CountExecutionsForDay(ctx context.Context, workflowID, localDate string) (int, error) {
	var n int
	err := d.Pool.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM executions
		 WHERE workflow_id = $1 AND local_date = $2 AND status = ANY($3)`,
		workflowID, localDate, capStatuses).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count daily executions: %w", err)
	}
	return n, nil
}

const selectExecution = `SELECT id, workflow_id, organization_id, patient_id, trigger_type,
    dedupe_key, snapshot, conditions_result, status, actions_results,
    local_date, started_at, completed_at, dry_run FROM executions`

func scanExecution(row rowScanner) (*careflow.ExecutionRecord, error) {
	rec := &careflow.ExecutionRecord{}
	var (
		triggerType  string
		status       string
		snapshotJSON []byte
		resultsJSON  []byte
		completedAt  sql.NullTime
	)

	err := row.Scan(&rec.ID, &rec.WorkflowID, &rec.OrganizationID, &rec.PatientID, &triggerType,
		&rec.DedupeKey, &snapshotJSON, &rec.ConditionsResult, &status, &resultsJSON,
		&rec.LocalDate, &rec.StartedAt, &completedAt, &rec.DryRun)
	if err != nil {
		return nil, err
	}

	rec.TriggerType = careflow.TriggerType(triggerType)
	rec.Status = careflow.ExecutionStatus(status)
	json.Unmarshal(snapshotJSON, &rec.Snapshot)
	json.Unmarshal(resultsJSON, &rec.ActionResults)
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}
