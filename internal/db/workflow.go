package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/careflow/careflow/internal/careflow"
)

func (d *DB) CreateWorkflow(ctx context.Context, wf *careflow.WorkflowDefinition) error {
	configJSON, _ := json.Marshal(wf.TriggerConfig)
	actionsJSON, _ := json.Marshal(wf.Actions)
	conditionsJSON, err := marshalConditions(wf.Conditions)
	if err != nil {
		return err
	}

	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO workflows (id, organization_id, name, description, trigger_type,
		     trigger_config, conditions, actions, max_runs_per_patient, max_per_day,
		     run_at_time, timezone, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		wf.ID, wf.OrganizationID, wf.Name, wf.Description, string(wf.TriggerType),
		configJSON, conditionsJSON, actionsJSON, wf.MaxRunsPerPatient, wf.MaxPerDay,
		wf.RunAtTime, wf.Timezone, wf.IsActive, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (d *DB) GetWorkflow(ctx context.Context, orgID, id string) (*careflow.WorkflowDefinition, error) {
	row := d.Pool.QueryRowContext(ctx,
		selectWorkflow+` WHERE id = $1 AND organization_id = $2`, id, orgID)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

func (d *DB) ListWorkflows(ctx context.Context, orgID string) ([]*careflow.WorkflowDefinition, error) {
	rows, err := d.Pool.QueryContext(ctx,
		selectWorkflow+` WHERE organization_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return collectWorkflows(rows)
}

func (d *DB) UpdateWorkflow(ctx context.Context, wf *careflow.WorkflowDefinition) error {
	configJSON, _ := json.Marshal(wf.TriggerConfig)
	actionsJSON, _ := json.Marshal(wf.Actions)
	conditionsJSON, err := marshalConditions(wf.Conditions)
	if err != nil {
		return err
	}

	_, err = d.Pool.ExecContext(ctx,
		`UPDATE workflows SET name=$1, description=$2, trigger_type=$3, trigger_config=$4,
		     conditions=$5, actions=$6, max_runs_per_patient=$7, max_per_day=$8,
		     run_at_time=$9, timezone=$10, is_active=$11, updated_at=$12
		 WHERE id=$13 AND organization_id=$14`,
		wf.Name, wf.Description, string(wf.TriggerType), configJSON,
		conditionsJSON, actionsJSON, wf.MaxRunsPerPatient, wf.MaxPerDay,
		wf.RunAtTime, wf.Timezone, wf.IsActive, wf.UpdatedAt,
		wf.ID, wf.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	return nil
}

func (d *DB) DeleteWorkflow(ctx context.Context, orgID, id string) error {
	_, err := d.Pool.ExecContext(ctx,
		`DELETE FROM workflows WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}

func (d *DB) ListActiveWorkflows(ctx context.Context, orgID string, trigger careflow.TriggerType) ([]*careflow.WorkflowDefinition, error) {
	rows, err := d.Pool.QueryContext(ctx,
		selectWorkflow+` WHERE organization_id = $1 AND trigger_type = $2 AND is_active`,
		orgID, string(trigger))
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}
	return collectWorkflows(rows)
}

func (d *DB) ListActiveTimeTriggerWorkflows(ctx context.Context) ([]*careflow.WorkflowDefinition, error) {
	rows, err := d.Pool.QueryContext(ctx,
		selectWorkflow+` WHERE is_active AND trigger_type IN ($1, $2, $3)`,
		string(careflow.TriggerTimeOfDay),
		string(careflow.TriggerPatientBirthday),
		string(careflow.TriggerPatientInactiveDays))
	if err != nil {
		return nil, fmt.Errorf("list time trigger workflows: %w", err)
	}
	return collectWorkflows(rows)
}

const selectWorkflow = `SELECT id, organization_id, name, description, trigger_type,
    trigger_config, conditions, actions, max_runs_per_patient, max_per_day,
    run_at_time, timezone, is_active, created_at, updated_at FROM workflows`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*careflow.WorkflowDefinition, error) {
	wf := &careflow.WorkflowDefinition{}
	var (
		triggerType    string
		configJSON     []byte
		conditionsJSON []byte
		actionsJSON    []byte
		maxPerPatient  sql.NullInt64
		maxPerDay      sql.NullInt64
	)

	err := row.Scan(&wf.ID, &wf.OrganizationID, &wf.Name, &wf.Description, &triggerType,
		&configJSON, &conditionsJSON, &actionsJSON, &maxPerPatient, &maxPerDay,
		&wf.RunAtTime, &wf.Timezone, &wf.IsActive, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}

	wf.TriggerType = careflow.TriggerType(triggerType)
	json.Unmarshal(configJSON, &wf.TriggerConfig)
	if len(conditionsJSON) > 0 {
		var node careflow.ConditionNode
		if err := json.Unmarshal(conditionsJSON, &node); err == nil {
			wf.Conditions = &node
		}
	}
	json.Unmarshal(actionsJSON, &wf.Actions)
	if maxPerPatient.Valid {
		n := int(maxPerPatient.Int64)
		wf.MaxRunsPerPatient = &n
	}
	if maxPerDay.Valid {
		n := int(maxPerDay.Int64)
		wf.MaxPerDay = &n
	}
	return wf, nil
}

func collectWorkflows(rows *sql.Rows) ([]*careflow.WorkflowDefinition, error) {
	defer rows.Close()

	var result []*careflow.WorkflowDefinition
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		result = append(result, wf)
	}
	return result, rows.Err()
}

func marshalConditions(node *careflow.ConditionNode) ([]byte, error) {
	if node == nil {
		return nil, nil
	}
	b, err := json.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("marshal conditions: %w", err)
	}
	return b, nil
}
