// Package clinic defines the narrow contracts through which the automation
// engine consumes the rest of the platform: entity reads, patient
// enumeration for time-trigger sweeps, message delivery, patient mutation,
// and task creation. All of these are implemented elsewhere; the engine only
// depends on the shapes below.
package clinic

import (
	"context"
	"time"
)

// Patient is the read model the condition evaluator may reference.
type Patient struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Phone          string     `json:"phone,omitempty"`
	Email          string     `json:"email,omitempty"`
	LifecycleStage string     `json:"lifecycle_stage,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	TotalVisits    int        `json:"total_visits"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	LastVisitAt    *time.Time `json:"last_visit_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Appointment is the read model for appointment-triggered workflows.
type Appointment struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	StartsAt  time.Time `json:"starts_at"`
}

// Encounter is the read model for encounter-triggered workflows.
type Encounter struct {
	ID        string     `json:"id"`
	PatientID string     `json:"patient_id"`
	Type      string     `json:"type,omitempty"`
	Status    string     `json:"status"`
	SignedAt  *time.Time `json:"signed_at,omitempty"`
}

// Records provides fetch-by-id access to current entity state. The
// dispatcher reloads referenced entities when building a context snapshot so
// conditions see current, not stale, data.
type Records interface {
	GetPatient(ctx context.Context, orgID, id string) (*Patient, error)
	GetAppointment(ctx context.Context, orgID, id string) (*Appointment, error)
	GetEncounter(ctx context.Context, orgID, id string) (*Encounter, error)
}

// Directory enumerates patient sets for time-trigger sweeps.
type Directory interface {
	// ListByBirthday returns patients whose birth month/day match.
	ListByBirthday(ctx context.Context, orgID string, month time.Month, day int) ([]*Patient, error)
	// ListInactiveSince returns patients whose last visit is at or before
	// the cutoff (or who have never visited). The boundary is inclusive: a
	// visit exactly at the cutoff still counts as inactive.
	ListInactiveSince(ctx context.Context, orgID string, cutoff time.Time) ([]*Patient, error)
	// ListActive returns all active patients of the organization.
	ListActive(ctx context.Context, orgID string) ([]*Patient, error)
}

// Messenger delivers patient communications. Calls either succeed or return
// a structured failure reason; delivery retries are the messenger's concern,
// never the engine's.
type Messenger interface {
	SendSMS(ctx context.Context, patientID, template string, params map[string]any) error
	SendEmail(ctx context.Context, patientID, template string, params map[string]any) error
}

// PatientMutator applies patient state changes.
type PatientMutator interface {
	UpdateLifecycleStage(ctx context.Context, patientID, stage string) error
	AddTag(ctx context.Context, patientID, tag string) error
}

// Tasks creates follow-up tasks for clinic staff.
type Tasks interface {
	CreateTask(ctx context.Context, patientID, description, assignee string) error
}

// ContextMap flattens a patient into the key set conditions resolve against
// (e.g. "patient.total_visits").
func (p *Patient) ContextMap() map[string]any {
	m := map[string]any{
		"id":              p.ID,
		"first_name":      p.FirstName,
		"last_name":       p.LastName,
		"phone":           p.Phone,
		"email":           p.Email,
		"lifecycle_stage": p.LifecycleStage,
		"tags":            p.Tags,
		"total_visits":    p.TotalVisits,
	}
	if p.BirthDate != nil {
		m["birth_date"] = p.BirthDate.Format("2006-01-02")
	}
	if p.LastVisitAt != nil {
		m["last_visit_at"] = p.LastVisitAt.Format(time.RFC3339)
	}
	return m
}

// ContextMap flattens an appointment for condition evaluation.
func (a *Appointment) ContextMap() map[string]any {
	return map[string]any{
		"id":         a.ID,
		"patient_id": a.PatientID,
		"status":     a.Status,
		"reason":     a.Reason,
		"starts_at":  a.StartsAt.Format(time.RFC3339),
	}
}

// ContextMap flattens an encounter for condition evaluation.
func (e *Encounter) ContextMap() map[string]any {
	m := map[string]any{
		"id":         e.ID,
		"patient_id": e.PatientID,
		"type":       e.Type,
		"status":     e.Status,
	}
	if e.SignedAt != nil {
		m["signed_at"] = e.SignedAt.Format(time.RFC3339)
	}
	return m
}
