package clinic

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryClinic is a thread-safe in-memory implementation of the Records,
// Directory, and PatientMutator contracts. It backs local development runs
// and tests; production wires the real patient/encounter/appointment stores.
type MemoryClinic struct {
	mu           sync.RWMutex
	patients     map[string]*Patient
	appointments map[string]*Appointment
	encounters   map[string]*Encounter
}

func NewMemoryClinic() *MemoryClinic {
	return &MemoryClinic{
		patients:     make(map[string]*Patient),
		appointments: make(map[string]*Appointment),
		encounters:   make(map[string]*Encounter),
	}
}

// PutPatient inserts or replaces a patient.
func (c *MemoryClinic) PutPatient(p *Patient) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patients[p.ID] = p
}

// PutAppointment inserts or replaces an appointment.
func (c *MemoryClinic) PutAppointment(a *Appointment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appointments[a.ID] = a
}

// PutEncounter inserts or replaces an encounter.
func (c *MemoryClinic) PutEncounter(e *Encounter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encounters[e.ID] = e
}

func (c *MemoryClinic) GetPatient(_ context.Context, orgID, id string) (*Patient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.patients[id]
	if !ok || p.OrganizationID != orgID {
		return nil, fmt.Errorf("patient not found: %s", id)
	}
	cp := *p
	return &cp, nil
}

func (c *MemoryClinic) GetAppointment(_ context.Context, orgID, id string) (*Appointment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment not found: %s", id)
	}
	if p, ok := c.patients[a.PatientID]; !ok || p.OrganizationID != orgID {
		return nil, fmt.Errorf("appointment not found: %s", id)
	}
	cp := *a
	return &cp, nil
}

func (c *MemoryClinic) GetEncounter(_ context.Context, orgID, id string) (*Encounter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.encounters[id]
	if !ok {
		return nil, fmt.Errorf("encounter not found: %s", id)
	}
	if p, ok := c.patients[e.PatientID]; !ok || p.OrganizationID != orgID {
		return nil, fmt.Errorf("encounter not found: %s", id)
	}
	cp := *e
	return &cp, nil
}

func (c *MemoryClinic) ListByBirthday(_ context.Context, orgID string, month time.Month, day int) ([]*Patient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Patient
	for _, p := range c.patients {
		if p.OrganizationID != orgID || p.BirthDate == nil {
			continue
		}
		if p.BirthDate.Month() == month && p.BirthDate.Day() == day {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *MemoryClinic) ListInactiveSince(_ context.Context, orgID string, cutoff time.Time) ([]*Patient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Patient
	for _, p := range c.patients {
		if p.OrganizationID != orgID {
			continue
		}
		if p.LastVisitAt == nil || !p.LastVisitAt.After(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *MemoryClinic) ListActive(_ context.Context, orgID string) ([]*Patient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Patient
	for _, p := range c.patients {
		if p.OrganizationID == orgID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *MemoryClinic) UpdateLifecycleStage(_ context.Context, patientID, stage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.patients[patientID]
	if !ok {
		return fmt.Errorf("patient not found: %s", patientID)
	}
	p.LifecycleStage = stage
	return nil
}

func (c *MemoryClinic) AddTag(_ context.Context, patientID, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.patients[patientID]
	if !ok {
		return fmt.Errorf("patient not found: %s", patientID)
	}
	for _, t := range p.Tags {
		if t == tag {
			return nil
		}
	}
	p.Tags = append(p.Tags, tag)
	return nil
}

// SentMessage is one delivery recorded by RecordingMessenger.
type SentMessage struct {
	Channel   string // "sms" | "email"
	PatientID string
	Template  string
	Params    map[string]any
}

// RecordingMessenger is a Messenger that records deliveries instead of
// sending them. FailWith, when set, makes every send fail with that error —
// tests use it to exercise partial-failure paths.
type RecordingMessenger struct {
	mu       sync.Mutex
	Sent     []SentMessage
	FailWith error
}

func (m *RecordingMessenger) SendSMS(_ context.Context, patientID, template string, params map[string]any) error {
	return m.record("sms", patientID, template, params)
}

func (m *RecordingMessenger) SendEmail(_ context.Context, patientID, template string, params map[string]any) error {
	return m.record("email", patientID, template, params)
}

func (m *RecordingMessenger) record(channel, patientID, template string, params map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.Sent = append(m.Sent, SentMessage{Channel: channel, PatientID: patientID, Template: template, Params: params})
	return nil
}

// Messages returns a copy of everything recorded so far.
func (m *RecordingMessenger) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}

// CreatedTask is one task recorded by RecordingTasks.
type CreatedTask struct {
	PatientID   string
	Description string
	Assignee    string
}

// RecordingTasks is a Tasks implementation that records created tasks.
type RecordingTasks struct {
	mu      sync.Mutex
	Created []CreatedTask
}

func (t *RecordingTasks) CreateTask(_ context.Context, patientID, description, assignee string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Created = append(t.Created, CreatedTask{PatientID: patientID, Description: description, Assignee: assignee})
	return nil
}

// TasksCreated returns a copy of everything recorded so far.
func (t *RecordingTasks) TasksCreated() []CreatedTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]CreatedTask(nil), t.Created...)
}
