package careflow

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/expr-lang/expr"
)

// ErrInvalidDefinition wraps every validation failure so callers can map the
// whole class to a 400 response.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

var runAtTimeRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidateDefinition checks a workflow definition at the write boundary.
// Malformed condition trees, unknown action types, and missing trigger
// config are rejected here, never discovered mid-execution.
func ValidateDefinition(w *WorkflowDefinition) error {
	if w.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if w.OrganizationID == "" {
		return fmt.Errorf("%w: organization_id is required", ErrInvalidDefinition)
	}

	trigDef, ok := LookupTrigger(w.TriggerType)
	if !ok {
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidDefinition, w.TriggerType)
	}
	if err := validateTriggerConfig(trigDef, w); err != nil {
		return err
	}

	// An explicitly empty conditions object means "no conditions", the same
	// as omitting it: the workflow fires unconditionally.
	if w.Conditions != nil && isEmptyConditionNode(w.Conditions) {
		w.Conditions = nil
	}
	if w.Conditions != nil {
		if err := validateConditionNode(w.Conditions); err != nil {
			return err
		}
	}

	if len(w.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidDefinition)
	}
	for i, a := range w.Actions {
		actDef, ok := LookupAction(a.Type)
		if !ok {
			return fmt.Errorf("%w: unknown action type %q at index %d", ErrInvalidDefinition, a.Type, i)
		}
		for _, param := range actDef.RequiredParams {
			if _, ok := a.Params[param]; !ok {
				return fmt.Errorf("%w: action %s is missing required param %q",
					ErrInvalidDefinition, a.Type, param)
			}
		}
	}

	if w.MaxRunsPerPatient != nil && *w.MaxRunsPerPatient < 1 {
		return fmt.Errorf("%w: max_runs_per_patient must be >= 1", ErrInvalidDefinition)
	}
	if w.MaxPerDay != nil && *w.MaxPerDay < 1 {
		return fmt.Errorf("%w: max_per_day must be >= 1", ErrInvalidDefinition)
	}
	return nil
}

func validateTriggerConfig(def TriggerTypeDef, w *WorkflowDefinition) error {
	if def.Kind == KindTime {
		if !runAtTimeRe.MatchString(w.RunAtTime) {
			return fmt.Errorf("%w: time trigger requires run_at_time in HH:MM form, got %q",
				ErrInvalidDefinition, w.RunAtTime)
		}
		if w.Timezone == "" {
			return fmt.Errorf("%w: time trigger requires a timezone", ErrInvalidDefinition)
		}
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidDefinition, w.Timezone)
		}
	}

	for _, key := range def.RequiredConfig {
		switch key {
		case "days_inactive":
			if w.TriggerConfig.DaysInactive < 1 {
				return fmt.Errorf("%w: %s requires trigger_config.days_inactive >= 1",
					ErrInvalidDefinition, w.TriggerType)
			}
		}
	}

	if w.TriggerConfig.FilterExpr != "" {
		if w.TriggerType != TriggerTimeOfDay {
			return fmt.Errorf("%w: filter_expr is only valid for %s",
				ErrInvalidDefinition, TriggerTimeOfDay)
		}
		if _, err := expr.Compile(w.TriggerConfig.FilterExpr, expr.AllowUndefinedVariables()); err != nil {
			return fmt.Errorf("%w: filter_expr does not compile: %v", ErrInvalidDefinition, err)
		}
	}
	return nil
}

func isEmptyConditionNode(n *ConditionNode) bool {
	return n.Op == "" && n.Field == "" && n.Operator == "" && n.Value == nil && len(n.Children) == 0
}

func validateConditionNode(n *ConditionNode) error {
	if n.IsLeaf() {
		if n.Field == "" {
			return fmt.Errorf("%w: condition leaf is missing a field path", ErrInvalidDefinition)
		}
		switch n.Operator {
		case CmpEq, CmpNeq, CmpGt, CmpGte, CmpLt, CmpLte, CmpContains, CmpIsSet:
		default:
			return fmt.Errorf("%w: unknown condition operator %q", ErrInvalidDefinition, n.Operator)
		}
		if len(n.Children) > 0 {
			return fmt.Errorf("%w: condition leaf %q must not have children", ErrInvalidDefinition, n.Field)
		}
		return nil
	}

	switch n.Op {
	case OpAnd, OpOr:
		if len(n.Children) == 0 {
			return fmt.Errorf("%w: %s node requires at least one child", ErrInvalidDefinition, n.Op)
		}
	case OpNot:
		if len(n.Children) != 1 {
			return fmt.Errorf("%w: NOT node requires exactly one child, got %d",
				ErrInvalidDefinition, len(n.Children))
		}
	default:
		return fmt.Errorf("%w: unknown condition op %q", ErrInvalidDefinition, n.Op)
	}
	for i := range n.Children {
		if err := validateConditionNode(&n.Children[i]); err != nil {
			return err
		}
	}
	return nil
}
