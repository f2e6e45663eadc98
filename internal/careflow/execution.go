package careflow

import (
	"fmt"
	"time"
)

// ExecutionStatus is the terminal outcome of one evaluation attempt.
// StatusRunning is the provisional state of a row reserved by the rate
// limiter before its actions have finished.
type ExecutionStatus string

const (
	StatusRunning          ExecutionStatus = "RUNNING"
	StatusSuccess          ExecutionStatus = "SUCCESS"
	StatusPartialFailure   ExecutionStatus = "PARTIAL_FAILURE"
	StatusFailed           ExecutionStatus = "FAILED"
	StatusSkippedCondition ExecutionStatus = "SKIPPED_CONDITION"
	StatusSkippedRateLimit ExecutionStatus = "SKIPPED_RATE_LIMIT"
)

// CountsTowardCaps reports whether rows with this status consume rate-limit
// budget. Provisional rows count so that concurrent reservations cannot
// overshoot a cap before finalizing.
func (s ExecutionStatus) CountsTowardCaps() bool {
	switch s {
	case StatusRunning, StatusSuccess, StatusPartialFailure:
		return true
	}
	return false
}

// ActionResultStatus is the outcome of one action within an execution.
type ActionResultStatus string

const (
	ActionOK        ActionResultStatus = "success"
	ActionFailed    ActionResultStatus = "failed"
	ActionSimulated ActionResultStatus = "simulated"
)

// ActionResult mirrors one entry of the workflow's action list.
type ActionResult struct {
	ActionType ActionType         `json:"action_type"`
	Status     ActionResultStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
	// Detail describes what was (or would have been) done, e.g. the
	// rendered message of a simulated SMS.
	Detail string `json:"detail,omitempty"`
}

// ExecutionRecord is an immutable fact: this workflow was evaluated for this
// patient at this time, with this outcome. Records are append-only; the only
// permitted mutation is the single RUNNING → terminal transition of a row
// reserved by the rate limiter.
type ExecutionRecord struct {
	ID             string      `json:"id"`
	WorkflowID     string      `json:"workflow_id"`
	OrganizationID string      `json:"organization_id"`
	PatientID      string      `json:"patient_id,omitempty"`
	TriggerType    TriggerType `json:"trigger_type"`
	DedupeKey      string      `json:"dedupe_key,omitempty"`

	// Snapshot is the context the conditions were evaluated against,
	// serialized for audit. Never mutated after write.
	Snapshot         map[string]any  `json:"snapshot,omitempty"`
	ConditionsResult bool            `json:"conditions_result"`
	Status           ExecutionStatus `json:"status"`
	ActionResults    []ActionResult  `json:"actions_results,omitempty"`

	// LocalDate is the calendar day of StartedAt in the workflow's
	// timezone ("2006-01-02"), denormalized for daily-cap counting.
	LocalDate string `json:"local_date"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DryRun      bool       `json:"dry_run"`
}

// TriggerEvent is what event sources and the time-trigger sweep deliver to
// the dispatcher.
type TriggerEvent struct {
	OrganizationID string         `json:"organization_id"`
	TriggerType    TriggerType    `json:"trigger_type"`
	PatientID      string         `json:"patient_id,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	// WorkflowID, when set, targets a single workflow instead of every
	// active workflow matching the trigger type. The time-trigger sweep
	// sets it so each workflow fires only at its own configured time.
	WorkflowID string `json:"workflow_id,omitempty"`
	// DedupeKey guards against redelivery: at most one execution record
	// exists per (workflow, dedupe_key) for non-empty keys.
	DedupeKey string `json:"dedupe_key,omitempty"`
}

// LocalDay formats t as a calendar day in the named IANA timezone,
// falling back to UTC when the name is empty or unknown.
func LocalDay(t time.Time, timezone string) string {
	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		}
	}
	return t.In(loc).Format("2006-01-02")
}

// TimeDedupeKey derives the dedupe key for a synthetic time-trigger event so
// the same workflow cannot double-fire for the same patient on the same
// local day, even across overlapping or retried sweeps.
func TimeDedupeKey(workflowID, patientID, localDate string) string {
	return fmt.Sprintf("%s:%s:%s", workflowID, patientID, localDate)
}
