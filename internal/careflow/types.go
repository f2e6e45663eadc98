package careflow

import "time"

// TriggerType identifies what causes a workflow to be considered for execution.
type TriggerType string

const (
	// Event triggers fire from live system events.
	TriggerAppointmentCreated   TriggerType = "APPOINTMENT_CREATED"
	TriggerAppointmentCancelled TriggerType = "APPOINTMENT_CANCELLED"
	TriggerAppointmentNoShow    TriggerType = "APPOINTMENT_NO_SHOW"
	TriggerEncounterSigned      TriggerType = "ENCOUNTER_SIGNED"
	TriggerPatientCreated       TriggerType = "PATIENT_CREATED"

	// Time triggers fire from scheduler sweeps.
	TriggerTimeOfDay           TriggerType = "TIME_OF_DAY"
	TriggerPatientBirthday     TriggerType = "PATIENT_BIRTHDAY"
	TriggerPatientInactiveDays TriggerType = "PATIENT_INACTIVE_DAYS"
)

// IsTimeTrigger reports whether the trigger fires from scheduler sweeps
// rather than live events.
func (t TriggerType) IsTimeTrigger() bool {
	switch t {
	case TriggerTimeOfDay, TriggerPatientBirthday, TriggerPatientInactiveDays:
		return true
	}
	return false
}

// TriggerConfig holds trigger-type-specific parameters. Only the fields
// relevant to the workflow's trigger type are set; validation enforces the
// required ones at the write boundary.
type TriggerConfig struct {
	// DaysInactive is required for PATIENT_INACTIVE_DAYS.
	DaysInactive int `json:"days_inactive,omitempty"`
	// FilterExpr is an optional expr-lang expression for TIME_OF_DAY
	// workflows. When set, the sweep evaluates it against each active
	// patient and fires one synthetic event per match instead of a single
	// org-wide pulse. Example: `patient.total_visits >= 3`.
	FilterExpr string `json:"filter_expr,omitempty"`
}

// BoolOp combines child condition nodes.
type BoolOp string

const (
	OpAnd BoolOp = "AND"
	OpOr  BoolOp = "OR"
	OpNot BoolOp = "NOT"
)

// CompareOp compares a resolved field against a literal value.
type CompareOp string

const (
	CmpEq       CompareOp = "EQ"
	CmpNeq      CompareOp = "NEQ"
	CmpGt       CompareOp = "GT"
	CmpGte      CompareOp = "GTE"
	CmpLt       CompareOp = "LT"
	CmpLte      CompareOp = "LTE"
	CmpContains CompareOp = "CONTAINS"
	CmpIsSet    CompareOp = "IS_SET"
)

// ConditionNode is one node of a workflow's predicate tree. A node with a
// non-empty Op is a combinator over Children; otherwise it is a leaf
// comparing the dotted Field path against Value.
type ConditionNode struct {
	Op       BoolOp          `json:"op,omitempty"`
	Children []ConditionNode `json:"children,omitempty"`

	Field    string    `json:"field,omitempty"`
	Operator CompareOp `json:"operator,omitempty"`
	Value    any       `json:"value,omitempty"`
}

// IsLeaf reports whether the node is a field comparison.
func (n *ConditionNode) IsLeaf() bool { return n.Op == "" }

// ActionType identifies a side effect a workflow can perform.
type ActionType string

const (
	ActionSendSMS              ActionType = "SEND_SMS"
	ActionSendEmail            ActionType = "SEND_EMAIL"
	ActionUpdateLifecycleStage ActionType = "UPDATE_LIFECYCLE_STAGE"
	ActionAddTag               ActionType = "ADD_TAG"
	ActionCreateTask           ActionType = "CREATE_TASK"
)

// ActionSpec is one typed, ordered side effect in a workflow's action list.
type ActionSpec struct {
	Type   ActionType     `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// WorkflowDefinition is a tenant-owned automation rule: one trigger, an
// optional condition tree, and an ordered action list, subject to
// per-patient and per-day caps.
type WorkflowDefinition struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organization_id"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	TriggerType    TriggerType `json:"trigger_type"`
	TriggerConfig  TriggerConfig  `json:"trigger_config"`
	Conditions     *ConditionNode `json:"conditions,omitempty"`
	Actions        []ActionSpec   `json:"actions"`

	// MaxRunsPerPatient caps successful executions per (workflow, patient)
	// pair over the workflow's lifetime. Nil means unlimited.
	MaxRunsPerPatient *int `json:"max_runs_per_patient,omitempty"`
	// MaxPerDay caps total executions per local calendar day. Nil means
	// unlimited.
	MaxPerDay *int `json:"max_per_day,omitempty"`

	// RunAtTime ("HH:MM") and Timezone (IANA name) are meaningful only for
	// time triggers.
	RunAtTime string `json:"run_at_time,omitempty"`
	Timezone  string `json:"timezone,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location returns the workflow's timezone, falling back to UTC when the
// timezone is empty or unknown.
func (w *WorkflowDefinition) Location() *time.Location {
	if w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
