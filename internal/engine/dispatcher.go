package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/careflow/careflow/internal/careflow"
	"github.com/careflow/careflow/internal/clinic"
	"github.com/careflow/careflow/internal/repository"
)

// Dispatcher receives trigger events and drives the
// Evaluate → RateLimit → Execute → Record pipeline for every matching
// active workflow. Workflows are processed independently; no failure mode
// ever propagates back to the event source.
type Dispatcher struct {
	registry repository.WorkflowRegistry
	ledger   repository.ExecutionLedger
	limiter  *RateLimiter
	executor *ActionExecutor
	records  clinic.Records
	now      func() time.Time
}

func NewDispatcher(registry repository.WorkflowRegistry, ledger repository.ExecutionLedger,
	limiter *RateLimiter, executor *ActionExecutor, records clinic.Records) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		ledger:   ledger,
		limiter:  limiter,
		executor: executor,
		records:  records,
		now:      time.Now,
	}
}

// SetClock overrides the dispatcher's clock. Tests use it to pin local
// dates.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// Dispatch runs the pipeline for one trigger event and returns the records
// written. It never returns an error: pipeline failures become terminal
// record statuses, and registry errors are logged and swallowed so event
// sources are not blocked by automation problems.
func (d *Dispatcher) Dispatch(ctx context.Context, ev careflow.TriggerEvent) []*careflow.ExecutionRecord {
	workflows, err := d.matchWorkflows(ctx, ev)
	if err != nil {
		slog.Error("dispatch: failed to load workflows",
			"org", ev.OrganizationID, "trigger", ev.TriggerType, "err", err)
		return nil
	}

	var out []*careflow.ExecutionRecord
	for _, wf := range workflows {
		if rec := d.runWorkflow(ctx, wf, ev); rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// matchWorkflows resolves the workflows an event applies to: the single
// targeted workflow for synthetic sweep events, otherwise every active
// workflow for the (organization, trigger type) pair.
func (d *Dispatcher) matchWorkflows(ctx context.Context, ev careflow.TriggerEvent) ([]*careflow.WorkflowDefinition, error) {
	if ev.WorkflowID == "" {
		return d.registry.ListActive(ctx, ev.OrganizationID, ev.TriggerType)
	}
	wf, err := d.registry.Get(ctx, ev.OrganizationID, ev.WorkflowID)
	if err != nil {
		return nil, err
	}
	if !wf.IsActive || wf.TriggerType != ev.TriggerType {
		return nil, nil
	}
	return []*careflow.WorkflowDefinition{wf}, nil
}

func (d *Dispatcher) runWorkflow(ctx context.Context, wf *careflow.WorkflowDefinition, ev careflow.TriggerEvent) *careflow.ExecutionRecord {
	now := d.now()

	// Idempotency guard against event redelivery.
	if ev.DedupeKey != "" {
		seen, err := d.ledger.HasDedupe(ctx, wf.ID, ev.DedupeKey)
		if err != nil {
			// The unique index still guards the insert below.
			slog.Warn("dispatch: dedupe check failed", "workflow", wf.ID, "err", err)
		} else if seen {
			slog.Debug("dispatch: duplicate event skipped",
				"workflow", wf.ID, "dedupe_key", ev.DedupeKey)
			return nil
		}
	}

	snapshot, err := d.buildSnapshot(ctx, wf, ev)
	if err != nil {
		slog.Warn("dispatch: snapshot build failed",
			"workflow", wf.ID, "patient", ev.PatientID, "err", err)
		return d.record(ctx, wf, ev, now, careflow.ExecutionRecord{
			Snapshot: map[string]any{"event": ev.Payload, "_error": err.Error()},
			Status:   careflow.StatusFailed,
		})
	}

	condResult, warnings := Evaluate(wf.Conditions, snapshot)
	if len(warnings) > 0 {
		snapshot["_warnings"] = warnings
	}
	if !condResult {
		return d.record(ctx, wf, ev, now, careflow.ExecutionRecord{
			Snapshot: snapshot,
			Status:   careflow.StatusSkippedCondition,
		})
	}

	reserved, denied, err := d.limiter.CheckAndReserve(ctx, wf, ev, snapshot, now)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			slog.Debug("dispatch: duplicate reservation skipped",
				"workflow", wf.ID, "dedupe_key", ev.DedupeKey)
			return nil
		}
		slog.Error("dispatch: reservation failed", "workflow", wf.ID, "err", err)
		return nil
	}
	if denied != "" {
		slog.Info("dispatch: rate limit hit",
			"workflow", wf.ID, "patient", ev.PatientID, "reason", denied)
		return d.record(ctx, wf, ev, now, careflow.ExecutionRecord{
			Snapshot:         snapshot,
			ConditionsResult: true,
			Status:           careflow.StatusSkippedRateLimit,
		})
	}

	results := d.executor.Execute(ctx, wf.Actions, ev.PatientID, ModeLive)
	status := AggregateStatus(results)
	completedAt := d.now()

	if err := d.ledger.Finalize(ctx, reserved.ID, status, results, completedAt); err != nil {
		slog.Error("dispatch: finalize failed", "execution", reserved.ID, "err", err)
	}

	reserved.Status = status
	reserved.ActionResults = results
	reserved.CompletedAt = &completedAt
	slog.Info("dispatch: workflow executed",
		"workflow", wf.ID, "patient", ev.PatientID, "status", status)
	return reserved
}

// record writes a terminal row for outcomes that never reserved a slot.
func (d *Dispatcher) record(ctx context.Context, wf *careflow.WorkflowDefinition,
	ev careflow.TriggerEvent, now time.Time, partial careflow.ExecutionRecord) *careflow.ExecutionRecord {

	rec := &partial
	rec.ID = careflow.GenerateID("exec")
	rec.WorkflowID = wf.ID
	rec.OrganizationID = wf.OrganizationID
	rec.PatientID = ev.PatientID
	rec.TriggerType = ev.TriggerType
	rec.DedupeKey = ev.DedupeKey
	rec.LocalDate = careflow.LocalDay(now, wf.Timezone)
	rec.StartedAt = now
	rec.CompletedAt = &now

	if err := d.ledger.Record(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			slog.Debug("dispatch: duplicate record skipped",
				"workflow", wf.ID, "dedupe_key", ev.DedupeKey)
			return nil
		}
		slog.Error("dispatch: record failed", "workflow", wf.ID, "err", err)
		return nil
	}
	return rec
}

// buildSnapshot merges the event payload with freshly loaded entities so
// conditions see current, not stale, data.
func (d *Dispatcher) buildSnapshot(ctx context.Context, wf *careflow.WorkflowDefinition, ev careflow.TriggerEvent) (map[string]any, error) {
	snapshot := map[string]any{}
	if ev.Payload != nil {
		snapshot["event"] = ev.Payload
	}

	if ev.PatientID != "" {
		patient, err := d.records.GetPatient(ctx, wf.OrganizationID, ev.PatientID)
		if err != nil {
			return nil, fmt.Errorf("load patient %s: %w", ev.PatientID, err)
		}
		snapshot["patient"] = patient.ContextMap()
	}

	if id, ok := ev.Payload["appointment_id"].(string); ok && id != "" {
		appt, err := d.records.GetAppointment(ctx, wf.OrganizationID, id)
		if err != nil {
			return nil, fmt.Errorf("load appointment %s: %w", id, err)
		}
		snapshot["appointment"] = appt.ContextMap()
	}

	if id, ok := ev.Payload["encounter_id"].(string); ok && id != "" {
		enc, err := d.records.GetEncounter(ctx, wf.OrganizationID, id)
		if err != nil {
			return nil, fmt.Errorf("load encounter %s: %w", id, err)
		}
		snapshot["encounter"] = enc.ContextMap()
	}

	return snapshot, nil
}
