package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/expr-lang/expr"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/careflow/careflow/internal/careflow"
	"github.com/careflow/careflow/internal/clinic"
	"github.com/careflow/careflow/internal/engine"
	"github.com/careflow/careflow/internal/repository"
)

// sweepConcurrency bounds how many workflows one sweep processes at a time.
const sweepConcurrency = 4

// TimeTriggerScheduler sweeps once per minute for time-based workflows
// whose local fire time has arrived and feeds each due workflow as
// synthetic targeted events into the dispatcher. The same Sweep also backs
// the manual process endpoints, so an external cron calling the API and the
// internal timer are interchangeable entry points.
type TimeTriggerScheduler struct {
	cron       *cron.Cron
	registry   repository.WorkflowRegistry
	directory  clinic.Directory
	dispatcher *engine.Dispatcher
	now        func() time.Time
}

func NewTimeTriggerScheduler(registry repository.WorkflowRegistry, directory clinic.Directory,
	dispatcher *engine.Dispatcher) *TimeTriggerScheduler {
	return &TimeTriggerScheduler{
		cron:       cron.New(),
		registry:   registry,
		directory:  directory,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// SetClock overrides the scheduler's clock for tests.
func (s *TimeTriggerScheduler) SetClock(now func() time.Time) { s.now = now }

// Start begins the minute tick.
func (s *TimeTriggerScheduler) Start() error {
	_, err := s.cron.AddFunc("* * * * *", func() {
		if err := s.Sweep(context.Background(), s.now()); err != nil {
			slog.Warn("scheduler: sweep failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}

	s.cron.Start()
	slog.Info("scheduler: started")
	return nil
}

// Stop gracefully stops the tick and waits for a running sweep to finish.
func (s *TimeTriggerScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler: stopped")
}

// Sweep processes every active time-based workflow whose local fire time
// matches now's minute. Workflow failures are logged and skipped, never
// fatal to the sweep; only the initial registry load can fail.
func (s *TimeTriggerScheduler) Sweep(ctx context.Context, now time.Time) error {
	workflows, err := s.registry.ListActiveTimeTriggers(ctx)
	if err != nil {
		return fmt.Errorf("load time trigger workflows: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, wf := range workflows {
		wf := wf
		g.Go(func() error {
			if err := s.sweepWorkflow(gctx, wf, now); err != nil {
				slog.Warn("scheduler: workflow sweep failed",
					"workflow", wf.ID, "trigger", wf.TriggerType, "err", err)
			}
			return nil
		})
	}
	g.Wait()
	return nil
}

func (s *TimeTriggerScheduler) sweepWorkflow(ctx context.Context, wf *careflow.WorkflowDefinition, now time.Time) error {
	local := now.In(wf.Location())
	if local.Format("15:04") != wf.RunAtTime {
		return nil
	}
	localDate := local.Format("2006-01-02")

	patients, orgPulse, err := s.resolveAudience(ctx, wf, local)
	if err != nil {
		return err
	}

	if orgPulse {
		s.dispatch(ctx, wf, "", localDate)
		return nil
	}

	slog.Info("scheduler: workflow due",
		"workflow", wf.ID, "trigger", wf.TriggerType, "patients", len(patients))
	for _, p := range patients {
		s.dispatch(ctx, wf, p.ID, localDate)
	}
	return nil
}

// resolveAudience enumerates the patient set a due workflow applies to.
// The boolean return marks a patient-less org-wide pulse.
func (s *TimeTriggerScheduler) resolveAudience(ctx context.Context, wf *careflow.WorkflowDefinition, local time.Time) ([]*clinic.Patient, bool, error) {
	switch wf.TriggerType {
	case careflow.TriggerTimeOfDay:
		if wf.TriggerConfig.FilterExpr == "" {
			return nil, true, nil
		}
		patients, err := s.directory.ListActive(ctx, wf.OrganizationID)
		if err != nil {
			return nil, false, fmt.Errorf("list active patients: %w", err)
		}
		matched, err := filterPatients(wf.TriggerConfig.FilterExpr, patients)
		if err != nil {
			return nil, false, err
		}
		return matched, false, nil

	case careflow.TriggerPatientBirthday:
		patients, err := s.directory.ListByBirthday(ctx, wf.OrganizationID, local.Month(), local.Day())
		if err != nil {
			return nil, false, fmt.Errorf("list birthday patients: %w", err)
		}
		return patients, false, nil

	case careflow.TriggerPatientInactiveDays:
		cutoff := local.AddDate(0, 0, -wf.TriggerConfig.DaysInactive)
		patients, err := s.directory.ListInactiveSince(ctx, wf.OrganizationID, cutoff)
		if err != nil {
			return nil, false, fmt.Errorf("list inactive patients: %w", err)
		}
		return patients, false, nil

	default:
		return nil, false, fmt.Errorf("unexpected time trigger type %q", wf.TriggerType)
	}
}

func (s *TimeTriggerScheduler) dispatch(ctx context.Context, wf *careflow.WorkflowDefinition, patientID, localDate string) {
	s.dispatcher.Dispatch(ctx, careflow.TriggerEvent{
		OrganizationID: wf.OrganizationID,
		TriggerType:    wf.TriggerType,
		PatientID:      patientID,
		WorkflowID:     wf.ID,
		Payload:        map[string]any{"local_date": localDate},
		DedupeKey:      careflow.TimeDedupeKey(wf.ID, patientID, localDate),
	})
}

// filterPatients evaluates a compiled filter expression against each
// patient. The expression sees the same flattened view conditions do, e.g.
// `patient.total_visits >= 3`.
func filterPatients(src string, patients []*clinic.Patient) ([]*clinic.Patient, error) {
	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile filter_expr %q: %w", src, err)
	}

	var matched []*clinic.Patient
	for _, p := range patients {
		env := map[string]any{"patient": p.ContextMap()}
		result, err := expr.Run(program, env)
		if err != nil {
			// A patient the expression cannot evaluate is excluded,
			// not fatal to the sweep.
			slog.Warn("scheduler: filter_expr failed for patient", "patient", p.ID, "err", err)
			continue
		}
		if truthy, ok := result.(bool); ok && truthy {
			matched = append(matched, p)
		}
	}
	return matched, nil
}
