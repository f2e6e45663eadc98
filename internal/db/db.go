package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrDuplicate maps the unique (workflow_id, dedupe_key) index
	// violation.
	ErrDuplicate = errors.New("duplicate execution for dedupe key")
	// ErrPatientCapReached is returned when a reservation would exceed
	// the per-patient lifetime cap.
	ErrPatientCapReached = errors.New("max_runs_per_patient reached")
	// ErrDailyCapReached is returned when a reservation would exceed the
	// per-day cap.
	ErrDailyCapReached = errors.New("max_per_day reached")
)

// DB wraps a database/sql connection pool for PostgreSQL.
type DB struct {
	Pool *sql.DB
}

// New creates a new database connection.
// The caller must import a PostgreSQL driver (e.g., _ "github.com/lib/pq").
func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(5)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.Pool.Close()
}

// Migrate runs the database schema migrations.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Pool.ExecContext(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Executions deliberately carry no foreign key to workflows: deleting a
// workflow definition never deletes its execution history.
const migrationSQL = `
CREATE TABLE IF NOT EXISTS workflows (
    id                   TEXT PRIMARY KEY,
    organization_id      TEXT NOT NULL,
    name                 TEXT NOT NULL,
    description          TEXT NOT NULL DEFAULT '',
    trigger_type         TEXT NOT NULL,
    trigger_config       JSONB NOT NULL DEFAULT '{}',
    conditions           JSONB,
    actions              JSONB NOT NULL,
    max_runs_per_patient INTEGER,
    max_per_day          INTEGER,
    run_at_time          TEXT NOT NULL DEFAULT '',
    timezone             TEXT NOT NULL DEFAULT '',
    is_active            BOOLEAN NOT NULL DEFAULT TRUE,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_workflows_org_trigger
    ON workflows(organization_id, trigger_type) WHERE is_active;

CREATE TABLE IF NOT EXISTS executions (
    id                TEXT PRIMARY KEY,
    workflow_id       TEXT NOT NULL,
    organization_id   TEXT NOT NULL,
    patient_id        TEXT NOT NULL DEFAULT '',
    trigger_type      TEXT NOT NULL,
    dedupe_key        TEXT NOT NULL DEFAULT '',
    snapshot          JSONB,
    conditions_result BOOLEAN NOT NULL DEFAULT FALSE,
    status            TEXT NOT NULL,
    actions_results   JSONB,
    local_date        TEXT NOT NULL,
    started_at        TIMESTAMPTZ NOT NULL,
    completed_at      TIMESTAMPTZ,
    dry_run           BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_dedupe
    ON executions(workflow_id, dedupe_key) WHERE dedupe_key <> '';
CREATE INDEX IF NOT EXISTS idx_executions_wf_patient ON executions(workflow_id, patient_id);
CREATE INDEX IF NOT EXISTS idx_executions_wf_day ON executions(workflow_id, local_date);
CREATE INDEX IF NOT EXISTS idx_executions_org ON executions(organization_id, started_at DESC);
`
