package careflow

// TriggerKind classifies how a trigger type fires.
type TriggerKind string

const (
	KindEvent TriggerKind = "event"
	KindTime  TriggerKind = "time"
)

// TriggerTypeDef describes one entry of the static trigger catalog the
// engine publishes so rule editors can be built against it.
type TriggerTypeDef struct {
	Type           TriggerType `json:"type"`
	Label          string      `json:"label"`
	Kind           TriggerKind `json:"kind"`
	RequiredConfig []string    `json:"required_config,omitempty"`
}

// ActionTypeDef describes one entry of the static action catalog.
// Critical marks actions whose failure fails the whole execution rather
// than degrading it to PARTIAL_FAILURE.
type ActionTypeDef struct {
	Type           ActionType `json:"type"`
	Label          string     `json:"label"`
	Critical       bool       `json:"critical"`
	RequiredParams []string   `json:"required_params,omitempty"`
}

var triggerCatalog = []TriggerTypeDef{
	{Type: TriggerAppointmentCreated, Label: "Appointment created", Kind: KindEvent},
	{Type: TriggerAppointmentCancelled, Label: "Appointment cancelled", Kind: KindEvent},
	{Type: TriggerAppointmentNoShow, Label: "Appointment no-show", Kind: KindEvent},
	{Type: TriggerEncounterSigned, Label: "Encounter signed", Kind: KindEvent},
	{Type: TriggerPatientCreated, Label: "Patient created", Kind: KindEvent},
	{Type: TriggerTimeOfDay, Label: "Time of day", Kind: KindTime},
	{Type: TriggerPatientBirthday, Label: "Patient birthday", Kind: KindTime},
	{Type: TriggerPatientInactiveDays, Label: "Patient inactive for N days", Kind: KindTime,
		RequiredConfig: []string{"days_inactive"}},
}

var actionCatalog = []ActionTypeDef{
	{Type: ActionSendSMS, Label: "Send SMS", RequiredParams: []string{"template"}},
	{Type: ActionSendEmail, Label: "Send email", RequiredParams: []string{"template"}},
	{Type: ActionUpdateLifecycleStage, Label: "Update lifecycle stage", Critical: true,
		RequiredParams: []string{"stage"}},
	{Type: ActionAddTag, Label: "Add tag", RequiredParams: []string{"tag"}},
	{Type: ActionCreateTask, Label: "Create task", RequiredParams: []string{"description"}},
}

// TriggerCatalog returns the static trigger type catalog.
func TriggerCatalog() []TriggerTypeDef { return triggerCatalog }

// ActionCatalog returns the static action type catalog.
func ActionCatalog() []ActionTypeDef { return actionCatalog }

// LookupTrigger returns the catalog entry for a trigger type.
func LookupTrigger(t TriggerType) (TriggerTypeDef, bool) {
	for _, def := range triggerCatalog {
		if def.Type == t {
			return def, true
		}
	}
	return TriggerTypeDef{}, false
}

// LookupAction returns the catalog entry for an action type.
func LookupAction(t ActionType) (ActionTypeDef, bool) {
	for _, def := range actionCatalog {
		if def.Type == t {
			return def, true
		}
	}
	return ActionTypeDef{}, false
}
