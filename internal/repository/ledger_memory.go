package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/careflow/careflow/internal/careflow"
)

// MemoryExecutionLedger is a thread-safe in-memory ExecutionLedger. One
// mutex covers the cap re-check and the provisional insert, giving the same
// atomicity the Postgres ledger gets from its transaction.
type MemoryExecutionLedger struct {
	mu      sync.Mutex
	records map[string]*careflow.ExecutionRecord
	// dedupe maps "workflowID\x00dedupeKey" to a record ID.
	dedupe map[string]string
}

func NewMemoryExecutionLedger() *MemoryExecutionLedger {
	return &MemoryExecutionLedger{
		records: make(map[string]*careflow.ExecutionRecord),
		dedupe:  make(map[string]string),
	}
}

func dedupeIndexKey(workflowID, dedupeKey string) string {
	return workflowID + "\x00" + dedupeKey
}

func (l *MemoryExecutionLedger) Reserve(_ context.Context, rec *careflow.ExecutionRecord, caps Caps) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.DedupeKey != "" {
		if _, ok := l.dedupe[dedupeIndexKey(rec.WorkflowID, rec.DedupeKey)]; ok {
			return ErrDuplicate
		}
	}

	if caps.MaxRunsPerPatient != nil && rec.PatientID != "" {
		if l.countForPatientLocked(rec.WorkflowID, rec.PatientID) >= *caps.MaxRunsPerPatient {
			return ErrPatientCapReached
		}
	}
	if caps.MaxPerDay != nil {
		if l.countForDayLocked(rec.WorkflowID, rec.LocalDate) >= *caps.MaxPerDay {
			return ErrDailyCapReached
		}
	}

	l.insertLocked(rec)
	return nil
}

func (l *MemoryExecutionLedger) Finalize(_ context.Context, id string, status careflow.ExecutionStatus,
	results []careflow.ActionResult, completedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return fmt.Errorf("%w: execution %s", ErrNotFound, id)
	}
	if rec.Status != careflow.StatusRunning {
		return fmt.Errorf("execution %s is already finalized as %s", id, rec.Status)
	}
	rec.Status = status
	rec.ActionResults = results
	rec.CompletedAt = &completedAt
	return nil
}

func (l *MemoryExecutionLedger) Record(_ context.Context, rec *careflow.ExecutionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.DedupeKey != "" {
		if _, ok := l.dedupe[dedupeIndexKey(rec.WorkflowID, rec.DedupeKey)]; ok {
			return ErrDuplicate
		}
	}
	l.insertLocked(rec)
	return nil
}

func (l *MemoryExecutionLedger) insertLocked(rec *careflow.ExecutionRecord) {
	if rec.ID == "" {
		rec.ID = careflow.GenerateID("exec")
	}
	cp := *rec
	l.records[rec.ID] = &cp
	if rec.DedupeKey != "" {
		l.dedupe[dedupeIndexKey(rec.WorkflowID, rec.DedupeKey)] = rec.ID
	}
}

func (l *MemoryExecutionLedger) Get(_ context.Context, id string) (*careflow.ExecutionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", ErrNotFound, id)
	}
	cp := *rec
	return &cp, nil
}

func (l *MemoryExecutionLedger) HasDedupe(_ context.Context, workflowID, dedupeKey string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.dedupe[dedupeIndexKey(workflowID, dedupeKey)]
	return ok, nil
}

func (l *MemoryExecutionLedger) ListByWorkflow(_ context.Context, workflowID string, limit, offset int, status string) ([]*careflow.ExecutionRecord, int, error) {
	return l.list(func(r *careflow.ExecutionRecord) bool { return r.WorkflowID == workflowID }, limit, offset, status)
}

func (l *MemoryExecutionLedger) ListByOrganization(_ context.Context, orgID string, limit, offset int, status string) ([]*careflow.ExecutionRecord, int, error) {
	return l.list(func(r *careflow.ExecutionRecord) bool { return r.OrganizationID == orgID }, limit, offset, status)
}

func (l *MemoryExecutionLedger) list(match func(*careflow.ExecutionRecord) bool, limit, offset int, status string) ([]*careflow.ExecutionRecord, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var all []*careflow.ExecutionRecord
	for _, rec := range l.records {
		if !match(rec) {
			continue
		}
		if status != "" && string(rec.Status) != status {
			continue
		}
		cp := *rec
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (l *MemoryExecutionLedger) CountForPatient(_ context.Context, workflowID, patientID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.countForPatientLocked(workflowID, patientID), nil
}

func (l *MemoryExecutionLedger) CountForDay(_ context.Context, workflowID, localDate string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.countForDayLocked(workflowID, localDate), nil
}

func (l *MemoryExecutionLedger) countForPatientLocked(workflowID, patientID string) int {
	n := 0
	for _, rec := range l.records {
		if rec.WorkflowID == workflowID && rec.PatientID == patientID && rec.Status.CountsTowardCaps() {
			n++
		}
	}
	return n
}

func (l *MemoryExecutionLedger) countForDayLocked(workflowID, localDate string) int {
	n := 0
	for _, rec := range l.records {
		if rec.WorkflowID == workflowID && rec.LocalDate == localDate && rec.Status.CountsTowardCaps() {
			n++
		}
	}
	return n
}
