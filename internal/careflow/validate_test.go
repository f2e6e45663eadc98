package careflow

import (
	"errors"
	"testing"
)

func validDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		OrganizationID: "org-1",
		Name:           "No-show follow up",
		TriggerType:    TriggerAppointmentNoShow,
		Conditions: &ConditionNode{
			Field: "patient.total_visits", Operator: CmpGte, Value: 1,
		},
		Actions: []ActionSpec{
			{Type: ActionSendSMS, Params: map[string]any{"template": "reminder"}},
		},
	}
}

func TestValidateDefinitionAccepts(t *testing.T) {
	if err := ValidateDefinition(validDefinition()); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}

	timed := validDefinition()
	timed.TriggerType = TriggerPatientBirthday
	timed.RunAtTime = "09:00"
	timed.Timezone = "Europe/Oslo"
	if err := ValidateDefinition(timed); err != nil {
		t.Fatalf("valid birthday workflow rejected: %v", err)
	}

	filtered := validDefinition()
	filtered.TriggerType = TriggerTimeOfDay
	filtered.RunAtTime = "07:30"
	filtered.Timezone = "America/New_York"
	filtered.TriggerConfig.FilterExpr = "patient.total_visits >= 3"
	if err := ValidateDefinition(filtered); err != nil {
		t.Fatalf("valid filtered workflow rejected: %v", err)
	}
}

func TestValidateDefinitionRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WorkflowDefinition)
	}{
		{"missing name", func(w *WorkflowDefinition) { w.Name = "" }},
		{"missing org", func(w *WorkflowDefinition) { w.OrganizationID = "" }},
		{"unknown trigger", func(w *WorkflowDefinition) { w.TriggerType = "SOLSTICE" }},
		{"no actions", func(w *WorkflowDefinition) { w.Actions = nil }},
		{"unknown action", func(w *WorkflowDefinition) {
			w.Actions = []ActionSpec{{Type: "LAUNCH_ROCKET"}}
		}},
		{"missing action param", func(w *WorkflowDefinition) {
			w.Actions = []ActionSpec{{Type: ActionSendSMS}}
		}},
		{"unknown condition operator", func(w *WorkflowDefinition) {
			w.Conditions = &ConditionNode{Field: "patient.id", Operator: "LIKE", Value: "x"}
		}},
		{"leaf without field", func(w *WorkflowDefinition) {
			w.Conditions = &ConditionNode{Operator: CmpEq, Value: "x"}
		}},
		{"empty AND", func(w *WorkflowDefinition) {
			w.Conditions = &ConditionNode{Op: OpAnd}
		}},
		{"NOT with two children", func(w *WorkflowDefinition) {
			w.Conditions = &ConditionNode{Op: OpNot, Children: []ConditionNode{
				{Field: "a", Operator: CmpIsSet},
				{Field: "b", Operator: CmpIsSet},
			}}
		}},
		{"zero patient cap", func(w *WorkflowDefinition) {
			zero := 0
			w.MaxRunsPerPatient = &zero
		}},
		{"zero daily cap", func(w *WorkflowDefinition) {
			zero := 0
			w.MaxPerDay = &zero
		}},
		{"time trigger without run_at_time", func(w *WorkflowDefinition) {
			w.TriggerType = TriggerTimeOfDay
			w.Timezone = "UTC"
		}},
		{"bad run_at_time", func(w *WorkflowDefinition) {
			w.TriggerType = TriggerTimeOfDay
			w.RunAtTime = "25:00"
			w.Timezone = "UTC"
		}},
		{"time trigger without timezone", func(w *WorkflowDefinition) {
			w.TriggerType = TriggerTimeOfDay
			w.RunAtTime = "09:00"
		}},
		{"unknown timezone", func(w *WorkflowDefinition) {
			w.TriggerType = TriggerTimeOfDay
			w.RunAtTime = "09:00"
			w.Timezone = "Mars/Olympus_Mons"
		}},
		{"inactive days missing", func(w *WorkflowDefinition) {
			w.TriggerType = TriggerPatientInactiveDays
			w.RunAtTime = "09:00"
			w.Timezone = "UTC"
		}},
		{"filter_expr on event trigger", func(w *WorkflowDefinition) {
			w.TriggerConfig.FilterExpr = "patient.total_visits > 1"
		}},
		{"filter_expr does not compile", func(w *WorkflowDefinition) {
			w.TriggerType = TriggerTimeOfDay
			w.RunAtTime = "09:00"
			w.Timezone = "UTC"
			w.TriggerConfig.FilterExpr = "patient.total_visits >>"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := validDefinition()
			tt.mutate(w)
			err := ValidateDefinition(w)
			if !errors.Is(err, ErrInvalidDefinition) {
				t.Fatalf("expected ErrInvalidDefinition, got %v", err)
			}
		})
	}
}

func TestValidateNormalizesEmptyConditions(t *testing.T) {
	w := validDefinition()
	w.Conditions = &ConditionNode{}
	if err := ValidateDefinition(w); err != nil {
		t.Fatalf("empty conditions object must be accepted: %v", err)
	}
	if w.Conditions != nil {
		t.Fatal("empty conditions object must normalize to nil (fire unconditionally)")
	}
}

func TestValidateInactiveDaysWorkflow(t *testing.T) {
	w := validDefinition()
	w.TriggerType = TriggerPatientInactiveDays
	w.RunAtTime = "10:00"
	w.Timezone = "UTC"
	w.TriggerConfig.DaysInactive = 90
	if err := ValidateDefinition(w); err != nil {
		t.Fatalf("valid inactive-days workflow rejected: %v", err)
	}
}
