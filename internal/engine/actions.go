package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/careflow/careflow/internal/careflow"
	"github.com/careflow/careflow/internal/clinic"
)

// Mode selects between live side effects and simulation.
type Mode string

const (
	ModeLive     Mode = "LIVE"
	ModeSimulate Mode = "SIMULATE"
)

// DefaultActionTimeout bounds each collaborator call so a hung provider
// becomes a failed ActionResult instead of a stuck pipeline.
const DefaultActionTimeout = 10 * time.Second

// ActionExecutor dispatches typed action specs to the clinic collaborators.
// Actions run strictly in list order, one at a time; a failing action never
// aborts the remaining ones.
type ActionExecutor struct {
	messenger clinic.Messenger
	patients  clinic.PatientMutator
	tasks     clinic.Tasks
	timeout   time.Duration
}

func NewActionExecutor(messenger clinic.Messenger, patients clinic.PatientMutator, tasks clinic.Tasks, timeout time.Duration) *ActionExecutor {
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	return &ActionExecutor{messenger: messenger, patients: patients, tasks: tasks, timeout: timeout}
}

// Execute runs the action list for one patient. In SIMULATE mode no
// collaborator is ever called: each action is validated and described, so
// the only possible failures are parameter problems.
func (e *ActionExecutor) Execute(ctx context.Context, actions []careflow.ActionSpec, patientID string, mode Mode) []careflow.ActionResult {
	results := make([]careflow.ActionResult, 0, len(actions))
	for _, action := range actions {
		results = append(results, e.executeOne(ctx, action, patientID, mode))
	}
	return results
}

func (e *ActionExecutor) executeOne(ctx context.Context, action careflow.ActionSpec, patientID string, mode Mode) careflow.ActionResult {
	result := careflow.ActionResult{ActionType: action.Type}

	detail, err := e.validate(action, patientID)
	if err != nil {
		result.Status = careflow.ActionFailed
		result.Error = err.Error()
		return result
	}

	if mode == ModeSimulate {
		result.Status = careflow.ActionSimulated
		result.Detail = detail
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.perform(callCtx, action, patientID); err != nil {
		result.Status = careflow.ActionFailed
		result.Error = err.Error()
		return result
	}
	result.Status = careflow.ActionOK
	result.Detail = detail
	return result
}

// validate checks parameters without side effects and builds the
// human-readable description used for simulated runs.
func (e *ActionExecutor) validate(action careflow.ActionSpec, patientID string) (string, error) {
	if patientID == "" {
		return "", fmt.Errorf("action %s requires a patient", action.Type)
	}

	switch action.Type {
	case careflow.ActionSendSMS:
		template, err := stringParam(action.Params, "template")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("would send SMS template %q to patient %s", template, patientID), nil
	case careflow.ActionSendEmail:
		template, err := stringParam(action.Params, "template")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("would send email template %q to patient %s", template, patientID), nil
	case careflow.ActionUpdateLifecycleStage:
		stage, err := stringParam(action.Params, "stage")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("would set lifecycle stage of patient %s to %q", patientID, stage), nil
	case careflow.ActionAddTag:
		tag, err := stringParam(action.Params, "tag")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("would tag patient %s with %q", patientID, tag), nil
	case careflow.ActionCreateTask:
		description, err := stringParam(action.Params, "description")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("would create task %q for patient %s", description, patientID), nil
	default:
		return "", fmt.Errorf("unknown action type %q", action.Type)
	}
}

func (e *ActionExecutor) perform(ctx context.Context, action careflow.ActionSpec, patientID string) error {
	switch action.Type {
	case careflow.ActionSendSMS:
		template, _ := stringParam(action.Params, "template")
		return e.messenger.SendSMS(ctx, patientID, template, action.Params)
	case careflow.ActionSendEmail:
		template, _ := stringParam(action.Params, "template")
		return e.messenger.SendEmail(ctx, patientID, template, action.Params)
	case careflow.ActionUpdateLifecycleStage:
		stage, _ := stringParam(action.Params, "stage")
		return e.patients.UpdateLifecycleStage(ctx, patientID, stage)
	case careflow.ActionAddTag:
		tag, _ := stringParam(action.Params, "tag")
		return e.patients.AddTag(ctx, patientID, tag)
	case careflow.ActionCreateTask:
		description, _ := stringParam(action.Params, "description")
		assignee, _ := action.Params["assignee"].(string)
		return e.tasks.CreateTask(ctx, patientID, description, assignee)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required param %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("param %q must be a non-empty string", key)
	}
	return s, nil
}

// AggregateStatus folds per-action results into a terminal execution
// status: SUCCESS when everything succeeded, FAILED when everything failed
// or any catalog-flagged critical action failed, PARTIAL_FAILURE otherwise.
func AggregateStatus(results []careflow.ActionResult) careflow.ExecutionStatus {
	if len(results) == 0 {
		return careflow.StatusSuccess
	}

	failed := 0
	criticalFailed := false
	for _, r := range results {
		if r.Status != careflow.ActionFailed {
			continue
		}
		failed++
		if def, ok := careflow.LookupAction(r.ActionType); ok && def.Critical {
			criticalFailed = true
		}
	}
	if failed == 0 {
		return careflow.StatusSuccess
	}
	if failed == len(results) || criticalFailed {
		return careflow.StatusFailed
	}
	return careflow.StatusPartialFailure
}
